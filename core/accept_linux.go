//go:build linux

package core

import "golang.org/x/sys/unix"

// acceptSocket accepts one connection as a non-blocking close-on-exec socket
func acceptSocket(lfd int) (int, error) {
	nfd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	return nfd, err
}
