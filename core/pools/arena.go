package pools

import (
	"sync"
	"sync/atomic"
)

// Arena buffer sizes
const (
	MinArenaBufferSize     = 64
	DefaultArenaBufferSize = 16 * 1024 // 16KB, fits a typical socket send batch
	MaxArenaBufferSize     = 1 << 20
)

// Buffer is a fixed-capacity byte buffer owned by an Arena.
// Bytes between the read and write cursors are pending.
type Buffer struct {
	data  []byte
	r     int
	w     int
	owner *Arena
	idle  bool
}

// Write copies as much of p as fits and returns the number of bytes copied
func (b *Buffer) Write(p []byte) int {
	n := copy(b.data[b.w:], p)
	b.w += n
	return n
}

// Bytes returns the unread portion of the buffer
func (b *Buffer) Bytes() []byte {
	return b.data[b.r:b.w]
}

// Len returns the number of unread bytes
func (b *Buffer) Len() int {
	return b.w - b.r
}

// Free returns the space left for writing
func (b *Buffer) Free() int {
	return len(b.data) - b.w
}

// Cap returns the fixed capacity of the buffer
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Advance marks n unread bytes as consumed
func (b *Buffer) Advance(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.r += n
}

// Reset clears both cursors
func (b *Buffer) Reset() {
	b.r = 0
	b.w = 0
}

// Arena hands out fixed-size Buffers and takes them back.
//
// Acquire never blocks: a miss on the free list allocates a new buffer, so
// the arena grows to the high-water mark of outstanding buffers. The free
// list is mutex guarded, which makes one Arena safe to share between the
// I/O worker and every application goroutine packing writes.
type Arena struct {
	size int

	mu   sync.Mutex
	free []*Buffer

	// Statistics
	allocated      atomic.Uint64
	acquired       atomic.Uint64
	released       atomic.Uint64
	doubleReleases atomic.Uint64
}

// NewArena creates an arena of buffers with the given capacity
func NewArena(size int) *Arena {
	if size <= 0 {
		size = DefaultArenaBufferSize
	}
	return &Arena{
		size: size,
		free: make([]*Buffer, 0, 64),
	}
}

// Size returns the capacity of every buffer in the arena
func (a *Arena) Size() int {
	return a.size
}

// Warmup pre-allocates n idle buffers
func (a *Arena) Warmup(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < n; i++ {
		a.free = append(a.free, a.newBuffer(true))
	}
}

// Acquire returns an empty buffer
func (a *Arena) Acquire() *Buffer {
	a.acquired.Add(1)

	a.mu.Lock()
	if n := len(a.free); n > 0 {
		b := a.free[n-1]
		a.free[n-1] = nil
		a.free = a.free[:n-1]
		a.mu.Unlock()

		b.idle = false
		return b
	}
	a.mu.Unlock()

	return a.newBuffer(false)
}

// Release resets b and puts it back on the free list.
// Releasing an idle buffer or a foreign buffer is a no-op.
func (a *Arena) Release(b *Buffer) {
	if b == nil || b.owner != a {
		return
	}

	a.mu.Lock()
	if b.idle {
		a.mu.Unlock()
		a.doubleReleases.Add(1)
		return
	}
	b.Reset()
	b.idle = true
	a.free = append(a.free, b)
	a.mu.Unlock()

	a.released.Add(1)
}

func (a *Arena) newBuffer(idle bool) *Buffer {
	a.allocated.Add(1)
	return &Buffer{
		data:  make([]byte, a.size),
		owner: a,
		idle:  idle,
	}
}

// Stats returns arena statistics
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	idle := len(a.free)
	a.mu.Unlock()

	// released first: a buffer is counted acquired before it can be released
	released := a.released.Load()
	acquired := a.acquired.Load()

	return ArenaStats{
		Size:           a.size,
		Allocated:      a.allocated.Load(),
		Acquired:       acquired,
		Released:       released,
		Idle:           idle,
		Outstanding:    acquired - released,
		DoubleReleases: a.doubleReleases.Load(),
	}
}

// ArenaStats contains arena statistics
type ArenaStats struct {
	Size           int    `json:"size"`
	Allocated      uint64 `json:"allocated"`
	Acquired       uint64 `json:"acquired"`
	Released       uint64 `json:"released"`
	Idle           int    `json:"idle"`
	Outstanding    uint64 `json:"outstanding"`
	DoubleReleases uint64 `json:"double_releases"`
}
