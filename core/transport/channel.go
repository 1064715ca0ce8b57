package transport

import "errors"

// Error definitions
var (
	ErrChannelClosed = errors.New("channel already closed")
)

// Channel is a non-blocking, vectored-write-capable socket.
type Channel interface {
	// TryWrite writes as much of bufs, in order, as the socket accepts
	// without blocking. A full socket is reported as a short count with a
	// nil error.
	TryWrite(bufs [][]byte) (int, error)

	// Close closes the socket. Closing twice returns ErrChannelClosed.
	Close() error
}

// Registrar is the event-loop integration point for write readiness.
type Registrar interface {
	// RegisterForWrite asks for exactly one ProcessWriteQueue call on c the
	// next time its channel is writable. The registration is one-shot.
	RegisterForWrite(c *Connection) error

	// CancelWriteRegistration drops any pending callback and any selector
	// registration held for c. Called while c terminates.
	CancelWriteRegistration(c *Connection)
}
