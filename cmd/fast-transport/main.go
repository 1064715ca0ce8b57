//go:build linux || darwin

package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var rootCmd = &cobra.Command{
	Use:          "fast-transport",
	Short:        "Non-blocking connection write pipeline on epoll/kqueue",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("execute root command")
	}
}
