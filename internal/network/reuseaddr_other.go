//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config; the platform's
// own defaults apply.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
