//go:build !linux && !windows

package network

import (
	"net"
	"time"
)

// ReuseAddrListenConfig returns a plain net.ListenConfig with TCP keepalive.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{KeepAlive: 30 * time.Second}
}
