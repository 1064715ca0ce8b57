//go:build linux || darwin

package transport

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FDChannel is a Channel over a non-blocking socket file descriptor.
// Reads and Close are serialized so a read never lands on a descriptor
// number that was closed and reused.
type FDChannel struct {
	fd     int
	rmu    sync.RWMutex
	closed atomic.Bool
}

// NewFDChannel wraps fd, which must already be in non-blocking mode
func NewFDChannel(fd int) *FDChannel {
	return &FDChannel{fd: fd}
}

// Fd returns the underlying file descriptor
func (c *FDChannel) Fd() int {
	return c.fd
}

// TryWrite implements Channel
func (c *FDChannel) TryWrite(bufs [][]byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrChannelClosed
	}

	for {
		n, err := writev(c.fd, bufs)
		if n < 0 {
			n = 0
		}
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			if n > 0 {
				return n, nil
			}
			continue
		case unix.EAGAIN:
			return n, nil
		default:
			return n, err
		}
	}
}

// Read reads into p. It returns unix.EAGAIN when nothing is available,
// (0, nil) at end of stream and ErrChannelClosed after Close.
func (c *FDChannel) Read(p []byte) (int, error) {
	c.rmu.RLock()
	defer c.rmu.RUnlock()

	if c.closed.Load() {
		return 0, ErrChannelClosed
	}
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Close implements Channel
func (c *FDChannel) Close() error {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return ErrChannelClosed
	}
	return unix.Close(c.fd)
}
