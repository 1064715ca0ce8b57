//go:build linux || darwin

package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/searchktools/fast-transport/core/metrics"
	"github.com/searchktools/fast-transport/core/poller"
	"github.com/searchktools/fast-transport/core/pools"
	"github.com/searchktools/fast-transport/core/transport"
)

// Handler receives connection events. Any field may be nil.
//
// With inline dispatch OnData's slice is only valid during the call. With a
// worker pool it is a pooled copy, also only valid during the call.
type Handler struct {
	OnOpen  func(c *transport.Connection)
	OnData  func(c *transport.Connection, data []byte)
	OnClose func(c *transport.Connection, err error)
}

// EchoHandler writes every received chunk back to the sender
func EchoHandler() Handler {
	return Handler{
		OnData: func(c *transport.Connection, data []byte) {
			c.WriteBytes(data)
		},
	}
}

// EngineConfig tunes an Engine
type EngineConfig struct {
	BufferSize     int // arena buffer size
	ArenaWarmup    int
	ReadBufferSize int
	IdleTimeout    time.Duration // 0 disables the idle sweeper
	HandlerWorkers int           // 0 runs handlers on the event loop
	MaxConnections int
	AcceptRate     float64 // accepts per second, 0 is unlimited
	AcceptBurst    int
}

// DefaultEngineConfig returns the default configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BufferSize:     pools.DefaultArenaBufferSize,
		ReadBufferSize: DefaultReadBufferSize,
		IdleTimeout:    DefaultIdleTimeout,
		MaxConnections: DefaultMaxConnections,
	}
}

// conn is the engine's view of one accepted socket
type conn struct {
	fd int
	ch *transport.FDChannel
	c  *transport.Connection

	lastActive atomic.Int64

	// guarded by Engine.mu
	writeArmed bool
	readOff    bool

	// async dispatch; a nil chunk means EOF
	dmu     sync.Mutex
	inbox   [][]byte
	running bool
}

func (ec *conn) interest() poller.Interest {
	var in poller.Interest
	if !ec.readOff {
		in |= poller.Readable
	}
	if ec.writeArmed {
		in |= poller.Writable
	}
	return in
}

func (ec *conn) touch() {
	ec.lastActive.Store(time.Now().UnixNano())
}

// Engine is an epoll/kqueue event loop that owns accepted sockets and acts
// as the write-readiness Registrar for their connections.
type Engine struct {
	cfg     EngineConfig
	handler Handler
	log     zerolog.Logger

	poller   poller.Poller
	arena    *pools.Arena
	bytePool *pools.BytePool
	workers  *ants.Pool
	limiter  *rate.Limiter
	readBuf  []byte

	mu      sync.RWMutex
	conns   map[int]*conn
	closed  bool
	serving bool
	addr    net.Addr
}

// NewEngine creates an engine. It does not start serving.
func NewEngine(cfg EngineConfig, h Handler, log zerolog.Logger) (*Engine, error) {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}

	p, err := poller.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		handler:  h,
		log:      log,
		poller:   p,
		arena:    pools.NewArena(cfg.BufferSize),
		bytePool: pools.NewBytePool(),
		readBuf:  make([]byte, cfg.ReadBufferSize),
		conns:    make(map[int]*conn, 1024),
	}
	e.arena.Warmup(cfg.ArenaWarmup)

	e.limiter = rate.NewLimiter(rate.Inf, 0)
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}

	if cfg.HandlerWorkers > 0 {
		e.workers, err = ants.NewPool(cfg.HandlerWorkers, ants.WithOptions(ants.Options{
			ExpiryDuration: 10 * time.Second,
			Nonblocking:    true,
			PanicHandler: func(v interface{}) {
				log.Error().Interface("panic", v).Str("stack", string(debug.Stack())).Msg("panic in handler")
			},
		}))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create worker pool: %w", err)
		}
	}

	log.Info().
		Int("buffer_size", e.arena.Size()).
		Int("arena_warmup", cfg.ArenaWarmup).
		Int("handler_workers", cfg.HandlerWorkers).
		Int("max_connections", cfg.MaxConnections).
		Dur("idle_timeout", cfg.IdleTimeout).
		Msg("engine initialized")

	return e, nil
}

// Arena returns the buffer arena shared by the engine's connections
func (e *Engine) Arena() *pools.Arena {
	return e.arena
}

// Addr returns the listening address once Serve has started
func (e *Engine) Addr() net.Addr {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.addr
}

// Connections returns the number of live connections
func (e *Engine) Connections() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

// Run listens on addr and serves until ctx is cancelled
func (e *Engine) Run(ctx context.Context, addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}

	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	return e.Serve(ctx, ln)
}

// Serve runs the event loop on ln until ctx is cancelled. Every live
// connection is terminated on return. An Engine serves once.
func (e *Engine) Serve(ctx context.Context, ln *net.TCPListener) error {
	e.mu.Lock()
	if e.closed || e.serving {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.serving = true
	e.addr = ln.Addr()
	e.mu.Unlock()
	defer e.shutdown()

	lnFile, err := ln.File()
	if err != nil {
		return fmt.Errorf("listener file: %w", err)
	}
	defer lnFile.Close()

	lfd := int(lnFile.Fd())
	if err := unix.SetNonblock(lfd, true); err != nil {
		return fmt.Errorf("listener nonblock: %w", err)
	}
	if err := e.poller.Add(lfd, poller.Readable); err != nil {
		return fmt.Errorf("watch listener: %w", err)
	}

	if e.cfg.IdleTimeout > 0 {
		go e.cleanupIdleConnections(ctx)
	}

	e.log.Info().Str("addr", ln.Addr().String()).Msg("engine serving")

	events := make([]poller.Event, maxEvents)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := e.poller.Wait(events, pollTimeout)
		if err != nil {
			e.log.Error().Err(err).Msg("poller wait failed")
			return fmt.Errorf("poller wait: %w", err)
		}

		for _, ev := range events[:n] {
			if ev.Fd == lfd {
				e.acceptConnections(lfd)
				continue
			}
			e.handleEvent(ev)
		}
	}
}

// acceptConnections accepts every pending connection
func (e *Engine) acceptConnections(lfd int) {
	for {
		nfd, err := acceptSocket(lfd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			e.log.Warn().Err(err).Msg("accept failed")
			return
		}

		if !e.limiter.Allow() {
			e.log.Debug().Int("fd", nfd).Msg("accept rate exceeded, closing")
			unix.Close(nfd)
			continue
		}
		if e.Connections() >= e.cfg.MaxConnections {
			e.log.Warn().Int("max_connections", e.cfg.MaxConnections).Msg("connection limit reached, closing")
			unix.Close(nfd)
			continue
		}

		// TCP_NODELAY: disable Nagle's algorithm
		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

		e.openConnection(nfd)
	}
}

func (e *Engine) openConnection(fd int) {
	ec := &conn{fd: fd, ch: transport.NewFDChannel(fd)}
	ec.touch()
	ec.c = transport.NewConnection(
		ec.ch,
		e.arena,
		e,
		transport.WithLogger(e.log.With().Int("fd", fd).Logger()),
		transport.OnTerminate(func(c *transport.Connection, err error) {
			e.onTerminate(ec, err)
		}),
	)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		unix.Close(fd)
		return
	}
	if err := e.poller.Add(fd, poller.Readable); err != nil {
		e.mu.Unlock()
		e.log.Warn().Err(err).Int("fd", fd).Msg("watch connection failed")
		unix.Close(fd)
		return
	}
	e.conns[fd] = ec
	e.mu.Unlock()

	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()

	if e.handler.OnOpen != nil {
		e.handler.OnOpen(ec.c)
	}
}

// handleEvent dispatches one readiness event. The registry lock is never
// held while calling into a connection.
func (e *Engine) handleEvent(ev poller.Event) {
	e.mu.Lock()
	ec, ok := e.conns[ev.Fd]
	if !ok {
		e.mu.Unlock()
		return
	}
	writable := ev.Writable && ec.writeArmed
	if writable {
		// one-shot: consume the registration before the callback
		ec.writeArmed = false
		if err := e.poller.Modify(ec.fd, ec.interest()); err != nil {
			e.log.Debug().Err(err).Int("fd", ec.fd).Msg("drop write interest failed")
		}
	}
	readable := ev.Readable && !ec.readOff
	hangup := ev.Hangup && ec.readOff
	e.mu.Unlock()

	if writable {
		ec.touch()
		ec.c.ProcessWriteQueue()
	}
	if readable {
		e.handleRead(ec)
	}
	if hangup && !writable {
		// peer gone after we stopped reading; nothing more can be sent
		ec.c.Terminate()
	}
}

// handleRead performs one read; level-triggered polling reports the rest
func (e *Engine) handleRead(ec *conn) {
	n, err := ec.ch.Read(e.readBuf)
	if err != nil {
		if err == unix.EAGAIN || errors.Is(err, transport.ErrChannelClosed) {
			return
		}
		ec.c.Logger().Debug().Err(err).Msg("read failed, terminating")
		ec.c.Terminate()
		return
	}
	ec.touch()

	if n == 0 {
		e.stopReading(ec)
		e.dispatch(ec, nil)
		return
	}
	e.dispatch(ec, e.readBuf[:n])
}

// stopReading drops read interest after EOF so the loop does not spin on it
func (e *Engine) stopReading(ec *conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[ec.fd]; !ok || ec.readOff {
		return
	}
	ec.readOff = true
	if err := e.poller.Modify(ec.fd, ec.interest()); err != nil {
		e.log.Debug().Err(err).Int("fd", ec.fd).Msg("drop read interest failed")
	}
}

// dispatch hands data to the handler; nil data means the peer closed its side
func (e *Engine) dispatch(ec *conn, data []byte) {
	if e.workers == nil {
		e.deliver(ec, data)
		return
	}

	if data != nil {
		data = e.bytePool.Copy(data)
	}

	ec.dmu.Lock()
	ec.inbox = append(ec.inbox, data)
	if ec.running {
		ec.dmu.Unlock()
		return
	}
	ec.running = true
	ec.dmu.Unlock()

	task := func() { e.drainInbox(ec) }
	if err := e.workers.Submit(task); err != nil {
		e.log.Debug().Err(err).Msg("worker pool submit failed, spawning goroutine")
		go task()
	}
}

// drainInbox runs a connection's queued chunks in arrival order
func (e *Engine) drainInbox(ec *conn) {
	for {
		ec.dmu.Lock()
		if len(ec.inbox) == 0 {
			ec.running = false
			ec.dmu.Unlock()
			return
		}
		data := ec.inbox[0]
		ec.inbox[0] = nil
		ec.inbox = ec.inbox[1:]
		ec.dmu.Unlock()

		e.deliver(ec, data)
		if data != nil {
			e.bytePool.Put(data)
		}
	}
}

func (e *Engine) deliver(ec *conn, data []byte) {
	if data == nil {
		ec.c.Close()
		return
	}
	if e.handler.OnData != nil {
		e.handler.OnData(ec.c, data)
	}
}

// RegisterForWrite implements transport.Registrar by arming write interest
// for the connection's socket.
func (e *Engine) RegisterForWrite(c *transport.Connection) error {
	fd := fdOf(c)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	ec, ok := e.conns[fd]
	if !ok || ec.c != c {
		return ErrUnknownConnection
	}
	if ec.writeArmed {
		return nil
	}
	ec.writeArmed = true
	if err := e.poller.Modify(fd, ec.interest()); err != nil {
		ec.writeArmed = false
		return fmt.Errorf("arm write interest: %w", err)
	}
	return nil
}

// CancelWriteRegistration implements transport.Registrar. It is only
// called while the connection terminates, so the socket is also removed
// from the poller before its descriptor is closed and can be reused.
func (e *Engine) CancelWriteRegistration(c *transport.Connection) {
	fd := fdOf(c)

	e.mu.Lock()
	defer e.mu.Unlock()

	ec, ok := e.conns[fd]
	if !ok || ec.c != c {
		return
	}
	ec.writeArmed = false
	delete(e.conns, fd)
	if !e.closed {
		if err := e.poller.Remove(fd); err != nil {
			e.log.Debug().Err(err).Int("fd", fd).Msg("unwatch connection failed")
		}
	}
}

func (e *Engine) onTerminate(ec *conn, err error) {
	metrics.ConnectionsActive.Dec()

	ec.dmu.Lock()
	for _, data := range ec.inbox {
		if data != nil {
			e.bytePool.Put(data)
		}
	}
	ec.inbox = nil
	ec.dmu.Unlock()

	if e.handler.OnClose != nil {
		e.handler.OnClose(ec.c, err)
	}
}

// cleanupIdleConnections gracefully closes connections idle longer than
// IdleTimeout and publishes arena gauges
func (e *Engine) cleanupIdleConnections(ctx context.Context) {
	interval := time.Second
	if e.cfg.IdleTimeout < 2*interval {
		interval = max(e.cfg.IdleTimeout/2, time.Millisecond)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		deadline := time.Now().Add(-e.cfg.IdleTimeout).UnixNano()
		var idle []*transport.Connection

		e.mu.RLock()
		for _, ec := range e.conns {
			if ec.lastActive.Load() < deadline {
				idle = append(idle, ec.c)
			}
		}
		e.mu.RUnlock()

		for _, c := range idle {
			// a closing connection still idle has a peer that stopped reading
			if c.State() != transport.StateOpen {
				c.Logger().Debug().Msg("idle while closing, terminating")
				c.Terminate()
				continue
			}
			c.Logger().Debug().Msg("idle timeout, closing")
			c.Close()
		}

		e.publishArenaStats()
	}
}

func (e *Engine) publishArenaStats() {
	s := e.arena.Stats()
	metrics.ArenaBuffers.WithLabelValues("idle").Set(float64(s.Idle))
	metrics.ArenaBuffers.WithLabelValues("outstanding").Set(float64(s.Outstanding))
}

// shutdown terminates every live connection and releases engine resources
func (e *Engine) shutdown() {
	e.mu.Lock()
	live := make([]*transport.Connection, 0, len(e.conns))
	for _, ec := range e.conns {
		live = append(live, ec.c)
	}
	e.closed = true
	e.mu.Unlock()

	for _, c := range live {
		c.Terminate()
	}

	if e.workers != nil {
		e.workers.Release()
	}
	if err := e.poller.Close(); err != nil {
		e.log.Debug().Err(err).Msg("close poller failed")
	}
	e.publishArenaStats()

	e.log.Info().Int("terminated", len(live)).Msg("engine stopped")
}

func fdOf(c *transport.Connection) int {
	if ch, ok := c.Channel().(*transport.FDChannel); ok {
		return ch.Fd()
	}
	return -1
}

var _ transport.Registrar = (*Engine)(nil)
