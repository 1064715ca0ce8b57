package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered byte slice pool for read chunks that outlive
// the event loop's read buffer
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets     atomic.Uint64
	puts     atomic.Uint64
	misses   atomic.Uint64
	oversize atomic.Uint64
}

// Chunk tiers sized around typical socket reads
var defaultSizes = []int{
	512,
	2048,
	8192,
	32768,
}

// NewBytePool creates a new byte pool with standard size tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers.
// sizes must be ascending.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		bp.pools[i] = &sync.Pool{
			New: func() any {
				bp.misses.Add(1)
				buf := make([]byte, size)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a byte slice of length size
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bp.gets.Add(1)
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:size]
		}
	}

	bp.oversize.Add(1)
	return make([]byte, size)
}

// Copy returns a pooled copy of p
func (bp *BytePool) Copy(p []byte) []byte {
	buf := bp.Get(len(p))
	copy(buf, p)
	return buf
}

// Put returns a byte slice to the pool. Slices whose capacity matches no
// tier are left to the GC.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)

	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			bp.puts.Add(1)
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// BytePoolStats is a snapshot of BytePool counters
type BytePoolStats struct {
	Gets     uint64  `json:"gets"`
	Puts     uint64  `json:"puts"`
	Misses   uint64  `json:"misses"`
	Oversize uint64  `json:"oversize"`
	HitRate  float64 `json:"hit_rate"`
}

// Stats returns pool statistics
func (bp *BytePool) Stats() BytePoolStats {
	s := BytePoolStats{
		Gets:     bp.gets.Load(),
		Puts:     bp.puts.Load(),
		Misses:   bp.misses.Load(),
		Oversize: bp.oversize.Load(),
	}
	if s.Gets > 0 && s.Misses <= s.Gets {
		s.HitRate = float64(s.Gets-s.Misses) / float64(s.Gets)
	}
	return s
}
