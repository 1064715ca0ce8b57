//go:build linux || darwin

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/searchktools/fast-transport/core/logger"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive an echo server with concurrent clients and verify the replies",
	RunE:  runBench,
}

var benchFlags struct {
	addr        string
	connections int
	rounds      int
	size        int
	timeout     time.Duration
	logFormat   string
}

func init() {
	flags := benchCmd.Flags()
	flags.StringVar(&benchFlags.addr, "addr", "127.0.0.1:9000", "server address")
	flags.IntVarP(&benchFlags.connections, "connections", "c", 64, "concurrent connections")
	flags.IntVarP(&benchFlags.rounds, "rounds", "n", 100, "request/response rounds per connection")
	flags.IntVarP(&benchFlags.size, "size", "s", 4096, "payload size in bytes")
	flags.DurationVar(&benchFlags.timeout, "timeout", 10*time.Second, "per-round deadline")
	flags.StringVar(&benchFlags.logFormat, "log-format", logger.FormatPretty, "json or pretty")
}

type benchResult struct {
	rounds   atomic.Int64
	bytes    atomic.Int64
	failures atomic.Int64
}

func runBench(cmd *cobra.Command, args []string) error {
	log := logger.New(logger.Config{Format: benchFlags.logFormat, Service: "fast-transport-bench"})

	if benchFlags.connections < 1 || benchFlags.rounds < 1 || benchFlags.size < 1 {
		return fmt.Errorf("connections, rounds and size must be positive")
	}

	pool, err := ants.NewPool(benchFlags.connections)
	if err != nil {
		return fmt.Errorf("create client pool: %w", err)
	}
	defer pool.Release()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		res benchResult
		wg  sync.WaitGroup
	)
	start := time.Now()

	for i := 0; i < benchFlags.connections; i++ {
		wg.Add(1)
		seed := int64(i)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := benchClient(ctx, seed, &res); err != nil {
				res.failures.Add(1)
				log.Warn().Err(err).Int64("client", seed).Msg("client failed")
			}
		}); err != nil {
			wg.Done()
			return fmt.Errorf("submit client: %w", err)
		}
	}
	wg.Wait()

	elapsed := time.Since(start)
	rounds := res.rounds.Load()
	log.Info().
		Int("connections", benchFlags.connections).
		Int64("rounds", rounds).
		Int64("bytes", res.bytes.Load()).
		Int64("failures", res.failures.Load()).
		Dur("elapsed", elapsed).
		Float64("rounds_per_sec", float64(rounds)/elapsed.Seconds()).
		Float64("mib_per_sec", float64(res.bytes.Load())/elapsed.Seconds()/(1<<20)).
		Msg("bench finished")

	if n := res.failures.Load(); n > 0 {
		return fmt.Errorf("%d clients failed", n)
	}
	return nil
}

func benchClient(ctx context.Context, seed int64, res *benchResult) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", benchFlags.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	out := make([]byte, benchFlags.size)
	in := make([]byte, benchFlags.size)
	rng := rand.New(rand.NewSource(seed))

	for r := 0; r < benchFlags.rounds; r++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rng.Read(out)
		if err := conn.SetDeadline(time.Now().Add(benchFlags.timeout)); err != nil {
			return err
		}

		werr := make(chan error, 1)
		go func() {
			_, err := conn.Write(out)
			werr <- err
		}()
		if _, err := io.ReadFull(conn, in); err != nil {
			return fmt.Errorf("round %d: read: %w", r, err)
		}
		if err := <-werr; err != nil {
			return fmt.Errorf("round %d: write: %w", r, err)
		}
		if !bytes.Equal(out, in) {
			return fmt.Errorf("round %d: echo mismatch", r)
		}

		res.rounds.Add(1)
		res.bytes.Add(int64(2 * benchFlags.size))
	}
	return nil
}
