package transport

import (
	"github.com/searchktools/fast-transport/core/pools"
)

// maxIOV caps the buffers handed to a single vectored write (IOV_MAX on linux)
const maxIOV = 1024

// segment is one entry of a write unit. The two implementations encode
// ownership: pooledSegment owns an arena buffer and must be released exactly
// once, cachedSegment references caller memory and is never released.
type segment interface {
	bytes() []byte
	consume(n int)
	release(arena *pools.Arena)
	pooled() bool
}

type pooledSegment struct {
	buf *pools.Buffer
}

func (s *pooledSegment) bytes() []byte { return s.buf.Bytes() }

func (s *pooledSegment) consume(n int) { s.buf.Advance(n) }

func (s *pooledSegment) release(arena *pools.Arena) {
	if s.buf != nil {
		arena.Release(s.buf)
		s.buf = nil
	}
}

func (s *pooledSegment) pooled() bool { return true }

type cachedSegment struct {
	data []byte
}

func (s *cachedSegment) bytes() []byte { return s.data }

func (s *cachedSegment) consume(n int) { s.data = s.data[n:] }

func (s *cachedSegment) release(*pools.Arena) { s.data = nil }

func (s *cachedSegment) pooled() bool { return false }

// writeUnit is the queued form of one Write call.
// Segments in [start, next) are pending; those before start are released.
type writeUnit struct {
	segs  []segment
	start int
	next  int
	size  int // bytes not yet accepted by the channel
}

// buildWriteUnit packs descs into arena buffers. Array-form bytes are copied,
// filling each buffer before acquiring the next; cached descriptors are
// appended as-is after sealing any partially filled buffer.
func buildWriteUnit(arena *pools.Arena, descs []Descriptor) *writeUnit {
	arrayBytes := 0
	for _, d := range descs {
		if !d.cached {
			arrayBytes += len(d.data)
		}
	}
	capacity := len(descs) + (arrayBytes+arena.Size()-1)/arena.Size()

	u := &writeUnit{segs: make([]segment, capacity)}

	cur := arena.Acquire()
	for _, d := range descs {
		if len(d.data) == 0 {
			continue
		}

		if d.cached {
			if cur != nil && cur.Len() > 0 {
				u.append(&pooledSegment{buf: cur})
				cur = nil
			}
			u.append(&cachedSegment{data: d.data})
			continue
		}

		p := d.data
		for len(p) > 0 {
			if cur == nil {
				cur = arena.Acquire()
			}
			n := cur.Write(p)
			p = p[n:]
			if cur.Free() == 0 {
				u.append(&pooledSegment{buf: cur})
				cur = nil
			}
		}
	}

	if cur != nil {
		if cur.Len() > 0 {
			u.append(&pooledSegment{buf: cur})
		} else {
			arena.Release(cur)
		}
	}

	return u
}

func (u *writeUnit) append(s segment) {
	u.segs[u.next] = s
	u.next++
	u.size += len(s.bytes())
}

// drained reports whether every segment has been written
func (u *writeUnit) drained() bool {
	return u.start == u.next
}

// pooledCount returns the number of pending arena buffers
func (u *writeUnit) pooledCount() int {
	n := 0
	for i := u.start; i < u.next; i++ {
		if u.segs[i].pooled() {
			n++
		}
	}
	return n
}

// writeTo issues vectored writes over the pending segments. Fully written
// segments are released and start advances past them. It returns as soon as
// the channel accepts fewer bytes than offered. Bytes accepted before an
// error are still accounted.
//
// iov is scratch space owned by the caller; a grown slice is stored back
// and every entry is cleared on return.
func (u *writeUnit) writeTo(ch Channel, arena *pools.Arena, iov *[][]byte) (written int, drained bool, err error) {
	var buf [][]byte
	if iov != nil {
		buf = *iov
	}
	defer func() {
		clear(buf[:cap(buf)])
		if iov != nil {
			*iov = buf[:0]
		}
	}()

	for !u.drained() {
		buf = buf[:0]
		offered := 0
		for i := u.start; i < u.next && len(buf) < maxIOV; i++ {
			b := u.segs[i].bytes()
			buf = append(buf, b)
			offered += len(b)
		}

		n, werr := ch.TryWrite(buf)
		if n > 0 {
			u.advance(n, arena)
			written += n
		}
		if werr != nil {
			return written, false, werr
		}
		if n < offered {
			return written, u.drained(), nil
		}
	}
	return written, true, nil
}

func (u *writeUnit) advance(n int, arena *pools.Arena) {
	u.size -= n
	for n > 0 && u.start < u.next {
		s := u.segs[u.start]
		l := len(s.bytes())
		if n < l {
			s.consume(n)
			return
		}
		n -= l
		s.consume(l)
		s.release(arena)
		u.segs[u.start] = nil
		u.start++
	}
}

// release force-releases every pending segment
func (u *writeUnit) release(arena *pools.Arena) {
	for i := u.start; i < u.next; i++ {
		u.segs[i].release(arena)
		u.segs[i] = nil
	}
	u.start = u.next
	u.size = 0
}
