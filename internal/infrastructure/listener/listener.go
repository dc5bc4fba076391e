// Package listener opens the HTTP listening socket.
package listener

import (
	"context"
	"net"
	"syscall"
)

// Listen opens a TCP listener on addr. With reusePort set, several cardgate
// processes can share the port and the kernel balances connections.
func Listen(ctx context.Context, addr string, reusePort bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if reusePort {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setReusePort(fd)
			}); err != nil {
				return err
			}
			return sockErr
		}
	}
	return lc.Listen(ctx, "tcp", addr)
}
