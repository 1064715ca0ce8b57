/*
Package fasttransport is a non-blocking connection write pipeline for
epoll/kqueue servers.

Outbound data is copied into fixed-size buffers drawn from a shared arena,
grouped into write units and queued per connection. The queue is drained
with gathering writes until the socket stops accepting data; the rest is
sent when the event loop reports the socket writable again. Application
goroutines never block on a slow peer.

# Packages

  - core/pools: buffer arena, tiered read-chunk pool, GC tuning
  - core/transport: descriptors, write units, Connection, Channel and Registrar
  - core/poller: epoll (Linux) and kqueue (macOS) readiness with write interest
  - core: Engine, the event loop that accepts sockets and arms write readiness
  - core/metrics, core/logger: Prometheus collectors and zerolog setup
  - config, app: environment configuration and process lifecycle

# Quick Start

	log := logger.New(logger.Config{Format: logger.FormatPretty})
	e, err := core.NewEngine(core.DefaultEngineConfig(), core.EchoHandler(), log)
	if err != nil {
		return err
	}
	return e.Run(ctx, ":9000")

Inside a handler, write with descriptors. Bytes and String are copied into
pooled buffers; Cached slices are sent as they are and must stay unchanged
until the connection has sent them:

	c.Write(transport.Bytes(header), transport.Cached(body))
	c.Close() // graceful: queued data is sent first

Terminate discards queued data and closes immediately.
*/
package fasttransport
