package transport

import (
	"fmt"
	"syscall"
)

// extractFD pulls the raw OS file descriptor out of a socket via
// SyscallConn(), the same technique internal/conn uses to give the
// runtime's poll set access to a socket transport connections also live
// on. Works for net.Conn and net.Listener alike.
func extractFD(v any) (int, error) {
	sc, ok := v.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("transport: %T does not support SyscallConn", v)
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
