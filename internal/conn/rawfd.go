package conn

import (
	"fmt"
	"net"
	"syscall"
)

// extractFD pulls the raw OS file descriptor out of a net.Conn or
// net.Listener via SyscallConn(), the sanctioned way to get poll-set
// access to a socket Go's net package otherwise keeps opaque — the same
// technique async-IO libraries like gaio use to hand fds to their own
// poller instead of Go's internal one.
func extractFD(v any) (int, error) {
	sc, ok := v.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("conn: %T does not support SyscallConn", v)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := raw.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return -1, err
	}
	return fd, nil
}

func fdOfConn(c net.Conn) (int, error)         { return extractFD(c) }
func fdOfListener(l net.Listener) (int, error) { return extractFD(l) }
