package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/searchktools/fast-transport/core/metrics"
	"github.com/searchktools/fast-transport/core/pools"
)

// State is the lifecycle state of a Connection
type State int

// Connection states
const (
	StateOpen State = iota
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

var connIDs atomic.Uint64

// Option configures a Connection
type Option func(*Connection)

// WithLogger sets the connection logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Connection) {
		c.log = log
	}
}

// OnTerminate registers fn to run once the connection is terminated.
// err is nil for a graceful close. fn runs without the connection lock held.
func OnTerminate(fn func(c *Connection, err error)) Option {
	return func(c *Connection) {
		c.onTerminate = append(c.onTerminate, fn)
	}
}

// Connection queues outbound data for one channel and drains it without
// blocking. Every method is safe for concurrent use; a single mutex
// serializes application writes against the event loop's readiness callback.
type Connection struct {
	id        uint64
	ch        Channel
	arena     *pools.Arena
	registrar Registrar
	log       zerolog.Logger

	mu    sync.Mutex
	queue []*writeUnit
	iov   [][]byte

	registered           bool
	terminateAfterWrites bool
	closed               bool
	terminated           bool
	err                  error

	onTerminate []func(*Connection, error)
}

// NewConnection creates an open connection over ch. Buffers come from arena,
// which is typically shared by every connection of one event loop.
func NewConnection(ch Channel, arena *pools.Arena, registrar Registrar, opts ...Option) *Connection {
	c := &Connection{
		id:        connIDs.Add(1),
		ch:        ch,
		arena:     arena,
		registrar: registrar,
		log:       zerolog.Nop(),
		iov:       make([][]byte, 0, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Uint64("conn_id", c.id).Logger()
	return c
}

// ID returns the process-unique connection id
func (c *Connection) ID() uint64 {
	return c.id
}

// Logger returns the connection logger, tagged with its id
func (c *Connection) Logger() *zerolog.Logger {
	return &c.log
}

// Channel returns the underlying channel
func (c *Connection) Channel() Channel {
	return c.ch
}

// Write queues descs as one unit and tries to send it immediately.
// Writes after Close are dropped silently.
func (c *Connection) Write(descs ...Descriptor) {
	c.mu.Lock()
	hooks := c.writeLocked(descs)
	c.mu.Unlock()

	c.runHooks(hooks)
}

// WriteBytes writes a copy of p
func (c *Connection) WriteBytes(p []byte) {
	c.Write(Bytes(p))
}

// WriteString writes a copy of s
func (c *Connection) WriteString(s string) {
	c.Write(String(s))
}

func (c *Connection) writeLocked(descs []Descriptor) bool {
	if c.closed {
		metrics.WritesDropped.Inc()
		c.log.Debug().Int("descriptors", len(descs)).Msg("write after close dropped")
		return false
	}

	u := buildWriteUnit(c.arena, descs)
	if u.drained() {
		return false
	}
	c.queue = append(c.queue, u)
	metrics.WriteUnits.Inc()

	return c.flushLocked()
}

// Close requests a graceful close: queued data is sent, then the channel
// is closed. Repeated calls are no-ops.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.terminateAfterWrites = true
	hooks := c.flushLocked()
	c.mu.Unlock()

	c.runHooks(hooks)
}

// Terminate closes the channel immediately and releases every queued
// buffer, discarding unsent data. Repeated calls are no-ops.
func (c *Connection) Terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.terminateLocked(nil, metrics.ReasonForced)
	c.mu.Unlock()

	c.runHooks(true)
}

// ProcessWriteQueue is the write-readiness callback invoked by the event
// loop. It consumes the outstanding registration and re-arms it if the
// queue still cannot drain.
func (c *Connection) ProcessWriteQueue() {
	c.mu.Lock()
	c.registered = false
	hooks := c.flushLocked()
	c.mu.Unlock()

	c.runHooks(hooks)
}

// IsClosed reports whether Close or Terminate was called, or the
// connection failed
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// State returns the lifecycle state
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.terminated:
		return StateTerminated
	case c.closed:
		return StateClosing
	default:
		return StateOpen
	}
}

// Err returns the write error that terminated the connection, if any
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending returns the number of queued units and their unsent bytes
func (c *Connection) Pending() (units, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range c.queue {
		bytes += u.size
	}
	return len(c.queue), bytes
}

// flushLocked drains what it can and arms write readiness for the rest.
// It reports whether the connection terminated during the call.
func (c *Connection) flushLocked() bool {
	if c.registered || c.terminated {
		return false
	}

	more := c.processWriteQueueLocked()
	if c.terminated {
		return true
	}
	if !more {
		return false
	}

	if err := c.registrar.RegisterForWrite(c); err != nil {
		c.log.Debug().Err(err).Msg("register for write failed")
		c.terminateLocked(err, metrics.ReasonError)
		return true
	}
	c.registered = true
	metrics.WriteRegistrations.Inc()
	return false
}

// processWriteQueueLocked writes queued units in order, never starting a
// unit before the previous one drained. It returns true when data remains.
func (c *Connection) processWriteQueueLocked() bool {
	for len(c.queue) > 0 {
		u := c.queue[0]

		n, drained, err := u.writeTo(c.ch, c.arena, &c.iov)
		if n > 0 {
			metrics.BytesWritten.Add(float64(n))
		}
		if err != nil {
			c.log.Debug().Err(err).Msg("write failed, terminating")
			c.terminateLocked(err, metrics.ReasonError)
			return false
		}
		if !drained {
			metrics.PartialWrites.Inc()
			return true
		}

		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	c.queue = nil

	if c.terminateAfterWrites {
		c.terminateLocked(nil, metrics.ReasonDrained)
	}
	return false
}

// terminateLocked moves the connection to the terminated state: the
// registration is cancelled, the channel closed and all queued buffers
// released.
func (c *Connection) terminateLocked(cause error, reason string) {
	if c.terminated {
		return
	}
	c.terminated = true
	c.closed = true
	c.err = cause

	c.registrar.CancelWriteRegistration(c)
	c.registered = false

	if err := c.ch.Close(); err != nil && !errors.Is(err, ErrChannelClosed) {
		c.log.Debug().Err(err).Msg("channel close failed")
	}

	released := 0
	for i, u := range c.queue {
		released += u.pooledCount()
		u.release(c.arena)
		c.queue[i] = nil
	}
	c.queue = nil

	metrics.ConnectionsTerminated.WithLabelValues(reason).Inc()
	c.log.Debug().
		Str("reason", reason).
		Int("released_buffers", released).
		Msg("connection terminated")
}

func (c *Connection) runHooks(terminated bool) {
	if !terminated {
		return
	}
	c.mu.Lock()
	err := c.err
	hooks := c.onTerminate
	c.onTerminate = nil
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(c, err)
	}
}
