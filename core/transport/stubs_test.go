package transport

import (
	"bytes"
	"sync"
)

// stubChannel records accepted bytes. limit caps the bytes accepted per
// TryWrite (0 means unlimited); blocked makes every call accept nothing.
type stubChannel struct {
	mu       sync.Mutex
	out      bytes.Buffer
	limit    int
	blocked  bool
	err      error
	attempts int
	closes   int
}

func (s *stubChannel) TryWrite(bufs [][]byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.closes > 0 {
		return 0, ErrChannelClosed
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.blocked {
		return 0, nil
	}

	written := 0
	for _, b := range bufs {
		take := len(b)
		if s.limit > 0 && written+take > s.limit {
			take = s.limit - written
		}
		s.out.Write(b[:take])
		written += take
		if s.limit > 0 && written == s.limit {
			break
		}
	}
	return written, nil
}

func (s *stubChannel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes++
	if s.closes > 1 {
		return ErrChannelClosed
	}
	return nil
}

func (s *stubChannel) setBlocked(v bool) {
	s.mu.Lock()
	s.blocked = v
	s.mu.Unlock()
}

func (s *stubChannel) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubChannel) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

func (s *stubChannel) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *stubChannel) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// stubRegistrar holds one-shot registrations until fire is called,
// standing in for the event loop.
type stubRegistrar struct {
	mu            sync.Mutex
	pending       []*Connection
	registrations int
	cancels       int
	err           error
}

func (r *stubRegistrar) RegisterForWrite(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.pending = append(r.pending, c)
	r.registrations++
	return nil
}

func (r *stubRegistrar) CancelWriteRegistration(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancels++
	for i, p := range r.pending {
		if p == c {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// fire delivers the oldest pending readiness callback
func (r *stubRegistrar) fire() bool {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return false
	}
	c := r.pending[0]
	r.pending = r.pending[1:]
	r.mu.Unlock()

	c.ProcessWriteQueue()
	return true
}

// drain fires callbacks until none are pending and returns how many ran
func (r *stubRegistrar) drain() int {
	n := 0
	for r.fire() {
		n++
	}
	return n
}

func (r *stubRegistrar) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *stubRegistrar) Registrations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registrations
}

func (r *stubRegistrar) Cancels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancels
}
