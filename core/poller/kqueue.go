//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"
)

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// NewPoller creates a new Poller (macOS)
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kqfd)

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
	}, nil
}

func kevent(fd int, filter int16, on bool) unix.Kevent_t {
	ev := unix.Kevent_t{}
	flags := unix.EV_DELETE
	if on {
		flags = unix.EV_ADD | unix.EV_ENABLE
	}
	unix.SetKevent(&ev, fd, int(filter), flags)
	return ev
}

// Add adds a file descriptor to the watch list
func (p *KqueuePoller) Add(fd int, interest Interest) error {
	changes := make([]unix.Kevent_t, 0, 2)
	if interest&Readable != 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, true))
	}
	if interest&Writable != 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, true))
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

// Modify replaces the interest set of a watched descriptor.
// Deleting a filter that was never added is not an error.
func (p *KqueuePoller) Modify(fd int, interest Interest) error {
	read := kevent(fd, unix.EVFILT_READ, interest&Readable != 0)
	write := kevent(fd, unix.EVFILT_WRITE, interest&Writable != 0)

	for _, ev := range []unix.Kevent_t{read, write} {
		if _, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil); err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

// Remove removes a file descriptor from the watch list
func (p *KqueuePoller) Remove(fd int) error {
	return p.Modify(fd, 0)
}

// Wait waits for I/O events
func (p *KqueuePoller) Wait(events []Event, timeout int) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * 1000000)
		ts = &t
	}

	max := len(events)
	if max > len(p.events) {
		max = len(p.events)
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events[:max], ts)
	if err != nil && err != unix.EINTR {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}

	for i := 0; i < n; i++ {
		kev := p.events[i]
		events[i] = Event{
			Fd:       int(kev.Ident),
			Readable: kev.Filter == unix.EVFILT_READ,
			Writable: kev.Filter == unix.EVFILT_WRITE,
			Hangup:   kev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0,
		}
	}
	return n, nil
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
