//go:build !unix

package transport

import "syscall"

// socketControl is a no-op here; the net package already enables broadcast on
// UDP sockets and port sharing is not supported.
func socketControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
