//go:build linux || darwin

package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestPoller(t *testing.T) Poller {
	t.Helper()
	p, err := NewPoller()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func find(events []Event, fd int) (Event, bool) {
	for _, ev := range events {
		if ev.Fd == fd {
			return ev, true
		}
	}
	return Event{}, false
}

func TestPoller_Readable(t *testing.T) {
	p := newTestPoller(t)
	r, w := newPipe(t)

	require.NoError(t, p.Add(r, Readable))

	events := make([]Event, 8)
	n, err := p.Wait(events, 0)
	require.NoError(t, err)
	_, ok := find(events[:n], r)
	assert.False(t, ok, "empty pipe reported readable")

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	n, err = p.Wait(events, 1000)
	require.NoError(t, err)
	ev, ok := find(events[:n], r)
	require.True(t, ok)
	assert.True(t, ev.Readable)
	assert.False(t, ev.Writable)
}

func TestPoller_WriteInterest(t *testing.T) {
	p := newTestPoller(t)
	_, w := newPipe(t)

	require.NoError(t, p.Add(w, 0))

	events := make([]Event, 8)
	n, err := p.Wait(events, 0)
	require.NoError(t, err)
	_, ok := find(events[:n], w)
	assert.False(t, ok, "no interest yet")

	require.NoError(t, p.Modify(w, Writable))
	n, err = p.Wait(events, 1000)
	require.NoError(t, err)
	ev, ok := find(events[:n], w)
	require.True(t, ok)
	assert.True(t, ev.Writable)

	// level-triggered: still reported until interest is dropped
	n, err = p.Wait(events, 1000)
	require.NoError(t, err)
	_, ok = find(events[:n], w)
	assert.True(t, ok)

	require.NoError(t, p.Modify(w, 0))
	n, err = p.Wait(events, 0)
	require.NoError(t, err)
	_, ok = find(events[:n], w)
	assert.False(t, ok)
}

func TestPoller_Remove(t *testing.T) {
	p := newTestPoller(t)
	r, w := newPipe(t)

	require.NoError(t, p.Add(r, Readable))
	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.Remove(r))

	events := make([]Event, 8)
	n, err := p.Wait(events, 0)
	require.NoError(t, err)
	_, ok := find(events[:n], r)
	assert.False(t, ok)
}
