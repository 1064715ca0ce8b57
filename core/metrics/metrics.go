// Package metrics holds the Prometheus collectors of the write pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Termination reasons
const (
	ReasonDrained = "drained" // graceful close after the queue drained
	ReasonError   = "error"   // write or registration failure
	ReasonForced  = "forced"  // Terminate called by a layer above
)

var (
	BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fasttransport_bytes_written_total",
		Help: "Total bytes accepted by the kernel across all connections",
	})

	WriteUnits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fasttransport_write_units_total",
		Help: "Total write units enqueued",
	})

	WritesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fasttransport_writes_dropped_total",
		Help: "Writes submitted after close and silently dropped",
	})

	WriteRegistrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fasttransport_write_registrations_total",
		Help: "Write-readiness registrations made because the socket was full",
	})

	PartialWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fasttransport_partial_writes_total",
		Help: "Vectored writes where the kernel accepted fewer bytes than offered",
	})

	ConnectionsTerminated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fasttransport_connections_terminated_total",
		Help: "Connections that reached the terminated state, by reason",
	}, []string{"reason"})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fasttransport_connections_active",
		Help: "Connections currently attached to an engine",
	})

	ConnectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fasttransport_connections_accepted_total",
		Help: "Connections accepted by an engine",
	})

	ArenaBuffers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fasttransport_arena_buffers",
		Help: "Arena buffers by state (outstanding, idle)",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(
		BytesWritten,
		WriteUnits,
		WritesDropped,
		WriteRegistrations,
		PartialWrites,
		ConnectionsTerminated,
		ConnectionsActive,
		ConnectionsAccepted,
		ArenaBuffers,
	)
}

// Handler returns the HTTP handler exposing the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
