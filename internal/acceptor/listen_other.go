//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package acceptor

import (
	"context"
	"net"
)

// SO_REUSEPORT is not available here; the option is ignored.
func listen(ctx context.Context, addr string, _ bool) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
