// Package httpc provides shared network defaults for outbound connections.
// Use these instead of zero-valued dialers so timeouts are always set.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Default timeouts for network operations.
const (
	DefaultConnectTimeout      = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// NetDialer returns a TCP dialer with the default connect timeout and
// keep-alive.
func NetDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   DefaultConnectTimeout,
		KeepAlive: DefaultKeepAlive,
	}
}

// Proxy resolves the proxy for a request from the environment.
var Proxy = http.ProxyFromEnvironment
