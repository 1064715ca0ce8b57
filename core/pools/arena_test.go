package pools

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AcquireRelease(t *testing.T) {
	a := NewArena(64)

	b := a.Acquire()
	require.NotNil(t, b)
	assert.Equal(t, 64, b.Cap())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 64, b.Free())

	a.Release(b)

	// LIFO reuse
	b2 := a.Acquire()
	assert.Same(t, b, b2)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.Allocated)
	assert.Equal(t, uint64(2), stats.Acquired)
	assert.Equal(t, uint64(1), stats.Released)
	assert.Equal(t, uint64(1), stats.Outstanding)
}

func TestArena_ReleaseResetsCursors(t *testing.T) {
	a := NewArena(16)

	b := a.Acquire()
	n := b.Write([]byte("hello world"))
	require.Equal(t, 11, n)
	b.Advance(6)
	assert.Equal(t, []byte("world"), b.Bytes())

	a.Release(b)

	b = a.Acquire()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 16, b.Free())
}

func TestArena_DefaultSize(t *testing.T) {
	a := NewArena(0)
	assert.Equal(t, DefaultArenaBufferSize, a.Size())
}

func TestBuffer_WriteTruncatesAtCapacity(t *testing.T) {
	a := NewArena(8)
	b := a.Acquire()

	n := b.Write([]byte("0123456789"))
	assert.Equal(t, 8, n)
	assert.Equal(t, 0, b.Free())
	assert.Equal(t, []byte("01234567"), b.Bytes())

	b.Advance(100)
	assert.Equal(t, 0, b.Len())
}

func TestArena_DoubleReleaseIgnored(t *testing.T) {
	a := NewArena(32)
	b := a.Acquire()

	a.Release(b)
	a.Release(b)

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.Released)
	assert.Equal(t, uint64(1), stats.DoubleReleases)
	assert.Equal(t, 1, stats.Idle)

	// a second acquire must not hand out the same buffer twice
	b1 := a.Acquire()
	b2 := a.Acquire()
	assert.NotSame(t, b1, b2)
}

func TestArena_ForeignBufferIgnored(t *testing.T) {
	a1 := NewArena(32)
	a2 := NewArena(32)

	b := a1.Acquire()
	a2.Release(b)
	a2.Release(nil)

	assert.Equal(t, uint64(0), a2.Stats().Released)
	assert.Equal(t, 0, a2.Stats().Idle)
}

func TestArena_Warmup(t *testing.T) {
	a := NewArena(32)
	a.Warmup(10)

	stats := a.Stats()
	assert.Equal(t, uint64(10), stats.Allocated)
	assert.Equal(t, 10, stats.Idle)
	assert.Equal(t, uint64(0), stats.Outstanding)

	for i := 0; i < 10; i++ {
		a.Acquire()
	}
	assert.Equal(t, uint64(10), a.Stats().Allocated)

	a.Acquire()
	assert.Equal(t, uint64(11), a.Stats().Allocated)
}

func TestArena_Concurrent(t *testing.T) {
	const goroutines = 50
	const iterations = 200

	a := NewArena(128)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				b := a.Acquire()
				b.Write([]byte("payload"))
				a.Release(b)
			}
		}()
	}
	wg.Wait()

	stats := a.Stats()
	assert.Equal(t, uint64(goroutines*iterations), stats.Acquired)
	assert.Equal(t, uint64(goroutines*iterations), stats.Released)
	assert.Equal(t, uint64(0), stats.Outstanding)
	assert.Equal(t, int(stats.Allocated), stats.Idle)
}

func TestArena_StatsDuringChurn(t *testing.T) {
	a := NewArena(64)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				b := a.Acquire()
				runtime.Gosched()
				a.Release(b)
			}
		}()
	}

	for range 20000 {
		s := a.Stats()
		if s.Outstanding > s.Acquired {
			close(stop)
			wg.Wait()
			t.Fatalf("outstanding %d exceeds acquired %d", s.Outstanding, s.Acquired)
		}
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, uint64(0), a.Stats().Outstanding)
}

func BenchmarkArena_AcquireRelease(b *testing.B) {
	a := NewArena(DefaultArenaBufferSize)
	for b.Loop() {
		buf := a.Acquire()
		a.Release(buf)
	}
}

func BenchmarkArena_Parallel(b *testing.B) {
	a := NewArena(DefaultArenaBufferSize)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := a.Acquire()
			a.Release(buf)
		}
	})
}
