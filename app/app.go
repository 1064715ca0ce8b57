//go:build linux || darwin

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/fast-transport/config"
	"github.com/searchktools/fast-transport/core"
	"github.com/searchktools/fast-transport/core/metrics"
	"github.com/searchktools/fast-transport/core/pools"
)

const shutdownTimeout = 5 * time.Second

// App runs an engine together with its metrics endpoint
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	engine *core.Engine
}

// EngineConfig maps application configuration onto the engine
func EngineConfig(cfg *config.Config) core.EngineConfig {
	return core.EngineConfig{
		BufferSize:     cfg.BufferSize,
		ArenaWarmup:    cfg.ArenaWarmup,
		ReadBufferSize: cfg.ReadBufferSize,
		IdleTimeout:    cfg.IdleTimeout,
		HandlerWorkers: cfg.HandlerWorkers,
		MaxConnections: cfg.MaxConnections,
		AcceptRate:     cfg.AcceptRate,
		AcceptBurst:    cfg.AcceptBurst,
	}
}

// New creates an application instance serving h
func New(cfg *config.Config, h core.Handler, log zerolog.Logger) (*App, error) {
	pools.ApplyGCConfig(pools.GCConfig{
		Percent:     cfg.GCPercent,
		MemoryLimit: cfg.MemoryLimit,
	})

	engine, err := core.NewEngine(EngineConfig(cfg), h, log)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:    cfg,
		log:    log,
		engine: engine,
	}, nil
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then
// terminates every connection and stops the metrics endpoint
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.log.Info().
		Str("addr", a.cfg.Addr).
		Str("env", a.cfg.Env).
		Msg("fast-transport starting")

	var metricsSrv *http.Server
	if a.cfg.MetricsAddr != "" {
		metricsSrv = a.serveMetrics(stop)
	}

	err := a.engine.Run(ctx, a.cfg.Addr)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
			a.log.Warn().Err(serr).Msg("metrics server shutdown failed")
		}
	}

	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	a.log.Info().Msg("fast-transport stopped")
	return nil
}

func (a *App) serveMetrics(cancel context.CancelFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(a.engine.StatsJSON()))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.Info().Str("addr", a.cfg.MetricsAddr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics endpoint failed")
			cancel()
		}
	}()

	return srv
}
