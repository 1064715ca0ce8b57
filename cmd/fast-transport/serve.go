//go:build linux || darwin

package main

import (
	"github.com/spf13/cobra"

	"github.com/searchktools/fast-transport/app"
	"github.com/searchktools/fast-transport/config"
	"github.com/searchktools/fast-transport/core"
	"github.com/searchktools/fast-transport/core/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echo server",
	RunE:  runServe,
}

var serveFlags struct {
	addr        string
	metricsAddr string
	bufferSize  int
	workers     int
	logLevel    string
	logFormat   string
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveFlags.addr, "addr", "", "listen address (overrides FT_ADDR)")
	flags.StringVar(&serveFlags.metricsAddr, "metrics-addr", "", "metrics listen address (overrides FT_METRICS_ADDR)")
	flags.IntVar(&serveFlags.bufferSize, "buffer-size", 0, "arena buffer size in bytes (overrides FT_BUFFER_SIZE)")
	flags.IntVar(&serveFlags.workers, "workers", 0, "handler worker pool size, 0 runs handlers on the event loop")
	flags.StringVar(&serveFlags.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&serveFlags.logFormat, "log-format", "", "json or pretty")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = serveFlags.addr
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = serveFlags.metricsAddr
	}
	if flags.Changed("buffer-size") {
		cfg.BufferSize = serveFlags.bufferSize
	}
	if flags.Changed("workers") {
		cfg.HandlerWorkers = serveFlags.workers
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = serveFlags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = serveFlags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	cfg.LogConfig(log)

	a, err := app.New(cfg, core.EchoHandler(), log)
	if err != nil {
		return err
	}
	return a.Run(cmd.Context())
}
