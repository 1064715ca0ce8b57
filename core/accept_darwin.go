//go:build darwin

package core

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// acceptSocket accepts one connection as a non-blocking close-on-exec socket.
// Darwin has no accept4; holding ForkLock keeps the descriptor out of a
// concurrent fork until close-on-exec is set.
func acceptSocket(lfd int) (int, error) {
	syscall.ForkLock.RLock()
	nfd, _, err := unix.Accept(lfd)
	if err == nil {
		unix.CloseOnExec(nfd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, err
	}

	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, err
	}
	return nfd, nil
}
