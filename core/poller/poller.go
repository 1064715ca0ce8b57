package poller

// Interest is the set of readiness events a descriptor is watched for
type Interest uint8

// Interest bits
const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one readiness notification
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Hangup   bool // peer closed or socket error; reads return EOF or the error
}

// Poller is the I/O multiplexing interface.
// Notifications are level-triggered.
type Poller interface {
	Add(fd int, interest Interest) error
	Modify(fd int, interest Interest) error
	Remove(fd int) error
	// Wait fills events and returns how many are ready. timeout is in
	// milliseconds; a negative value blocks.
	Wait(events []Event, timeout int) (int, error)
	Close() error
}
