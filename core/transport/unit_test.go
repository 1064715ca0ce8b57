package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/fast-transport/core/pools"
)

func unitBytes(u *writeUnit) []byte {
	var out []byte
	for i := u.start; i < u.next; i++ {
		out = append(out, u.segs[i].bytes()...)
	}
	return out
}

func TestBuildWriteUnit_CachedExcludedFromPool(t *testing.T) {
	arena := pools.NewArena(64)
	cached := bytes.Repeat([]byte{'c'}, 1000)
	array := bytes.Repeat([]byte{'a'}, 10)

	u := buildWriteUnit(arena, []Descriptor{Cached(cached), Bytes(array)})

	require.Equal(t, 2, u.next)
	assert.False(t, u.segs[0].pooled())
	assert.True(t, u.segs[1].pooled())
	assert.Len(t, u.segs[0].bytes(), 1000)
	assert.Equal(t, array, u.segs[1].bytes())
	assert.Equal(t, 1, u.pooledCount())

	before := arena.Stats().Released
	u.release(arena)
	assert.Equal(t, before+1, arena.Stats().Released)
	assert.Equal(t, uint64(0), arena.Stats().Outstanding)
}

func TestBuildWriteUnit_Packing(t *testing.T) {
	tests := []struct {
		name       string
		descs      []Descriptor
		wantSegs   int
		wantPooled int
	}{
		{"single small", []Descriptor{String("hello")}, 1, 1},
		{"exact fill", []Descriptor{Bytes(make([]byte, 64))}, 1, 1},
		{"spans buffers", []Descriptor{Bytes(make([]byte, 150))}, 3, 3},
		{"coalesces small descriptors", []Descriptor{String("ab"), String("cd"), String("ef")}, 1, 1},
		{"cached only", []Descriptor{Cached([]byte("xyz"))}, 1, 0},
		{"cached between arrays", []Descriptor{String("ab"), Cached([]byte("xyz")), String("cd")}, 3, 2},
		{"empty descriptors skipped", []Descriptor{String(""), Cached(nil), String("a")}, 1, 1},
		{"nothing", nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arena := pools.NewArena(64)
			u := buildWriteUnit(arena, tt.descs)

			assert.Equal(t, tt.wantSegs, u.next)
			assert.Equal(t, tt.wantPooled, u.pooledCount())
			assert.Equal(t, uint64(tt.wantPooled), arena.Stats().Outstanding)

			var want []byte
			for _, d := range tt.descs {
				want = append(want, d.data...)
			}
			assert.Equal(t, len(want), u.size)
			assert.Equal(t, string(want), string(unitBytes(u)))
		})
	}
}

func TestBuildWriteUnit_SegmentBound(t *testing.T) {
	arena := pools.NewArena(64)

	descs := []Descriptor{
		Bytes(make([]byte, 63)),
		Cached(make([]byte, 5)),
		Bytes(make([]byte, 1)),
		Cached(make([]byte, 7)),
		Bytes(make([]byte, 200)),
		Bytes(make([]byte, 3)),
	}
	arrayBytes := 63 + 1 + 200 + 3
	bound := len(descs) + (arrayBytes+63)/64

	u := buildWriteUnit(arena, descs)
	assert.LessOrEqual(t, u.next, bound)
	assert.Equal(t, bound, len(u.segs))
	assert.Equal(t, 63+5+1+7+200+3, len(unitBytes(u)))
}

func TestWriteUnit_PartialWrites(t *testing.T) {
	arena := pools.NewArena(64)
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	u := buildWriteUnit(arena, []Descriptor{Bytes(payload)})
	require.Equal(t, 4, u.next)

	ch := &stubChannel{limit: 70}

	n, drained, err := u.writeTo(ch, arena, nil)
	require.NoError(t, err)
	assert.Equal(t, 70, n)
	assert.False(t, drained)
	// first buffer fully written and released, second partially
	assert.Equal(t, 1, u.start)
	assert.Equal(t, uint64(1), arena.Stats().Released)
	assert.Equal(t, 130, u.size)

	for !drained {
		_, drained, err = u.writeTo(ch, arena, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, payload, ch.out.Bytes())
	assert.Equal(t, 3, ch.attempts)
	assert.Equal(t, uint64(0), arena.Stats().Outstanding)
	assert.Equal(t, 0, u.size)
}

func TestWriteUnit_ErrorKeepsAccounting(t *testing.T) {
	arena := pools.NewArena(64)
	u := buildWriteUnit(arena, []Descriptor{Bytes(make([]byte, 128))})

	ch := &stubChannel{limit: 64}
	_, drained, err := u.writeTo(ch, arena, nil)
	require.NoError(t, err)
	require.False(t, drained)
	require.Equal(t, 1, u.pooledCount())

	ch.setErr(assert.AnError)
	_, _, err = u.writeTo(ch, arena, nil)
	require.ErrorIs(t, err, assert.AnError)

	u.release(arena)
	stats := arena.Stats()
	assert.Equal(t, uint64(0), stats.Outstanding)
	assert.Equal(t, uint64(0), stats.DoubleReleases)
}

func TestWriteUnit_IOVCap(t *testing.T) {
	arena := pools.NewArena(64)
	descs := make([]Descriptor, 0, maxIOV+10)
	for i := 0; i < maxIOV+10; i++ {
		descs = append(descs, Cached([]byte{byte(i)}))
	}
	u := buildWriteUnit(arena, descs)
	require.Equal(t, maxIOV+10, u.next)

	ch := &stubChannel{}
	n, drained, err := u.writeTo(ch, arena, nil)
	require.NoError(t, err)
	assert.True(t, drained)
	assert.Equal(t, maxIOV+10, n)
	assert.Equal(t, 2, ch.attempts)
}

func TestWriteUnit_IOVRetainedAndCleared(t *testing.T) {
	arena := pools.NewArena(64)
	descs := make([]Descriptor, 0, 40)
	for i := range 40 {
		descs = append(descs, Cached([]byte{byte(i)}))
	}
	u := buildWriteUnit(arena, descs)

	iov := make([][]byte, 0, 16)
	ch := &stubChannel{limit: 25}

	_, drained, err := u.writeTo(ch, arena, &iov)
	require.NoError(t, err)
	require.False(t, drained)
	assert.GreaterOrEqual(t, cap(iov), 40)
	assert.Empty(t, iov)
	for i, b := range iov[:cap(iov)] {
		assert.Nil(t, b, "iov entry %d still references a segment", i)
	}

	grown := cap(iov)
	ch.limit = 0
	_, drained, err = u.writeTo(ch, arena, &iov)
	require.NoError(t, err)
	assert.True(t, drained)
	assert.Equal(t, grown, cap(iov))
	for _, b := range iov[:cap(iov)] {
		assert.Nil(t, b)
	}
	assert.Equal(t, 40, ch.out.Len())
}

func BenchmarkBuildWriteUnit(b *testing.B) {
	arena := pools.NewArena(pools.DefaultArenaBufferSize)
	header := []byte("HTTP/1.1 200 OK\r\nContent-Length: 4096\r\n\r\n")
	body := make([]byte, 4096)

	for b.Loop() {
		u := buildWriteUnit(arena, []Descriptor{Bytes(header), Cached(body)})
		u.release(arena)
	}
}
