// Package network holds listener helpers shared by the bridge's servers.
package network

import (
	"context"
	"fmt"
	"net"
)

// Listen opens a TCP listener on addr with SO_REUSEADDR set, so the status
// API can rebind right after a restart.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}
