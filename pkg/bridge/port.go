package bridge

import (
	"fmt"
	"net"

	"github.com/matzehuels/umlpipe/pkg/errors"
)

// Default automatic port range.
const (
	DefaultPortStart = 8080
	DefaultPortEnd   = 8090
)

const loopback = "127.0.0.1"

// Bind listens on exactly one loopback port.
func Bind(port int) (net.Listener, error) {
	if err := errors.ValidatePort(port); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(loopback, fmt.Sprint(port)))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePortUnavailable, err, "port %d is unavailable", port)
	}
	return ln, nil
}

// BindAuto tries every port in [start, end] in ascending order and returns
// the first listener that succeeds.
func BindAuto(start, end int) (net.Listener, error) {
	if err := errors.ValidatePortRange(start, end); err != nil {
		return nil, err
	}
	for port := start; port <= end; port++ {
		if ln, err := Bind(port); err == nil {
			return ln, nil
		}
	}
	return nil, errors.New(errors.ErrCodeAllPortsUnavailable, "no free port in range %d-%d", start, end)
}

// listenerPort returns the TCP port ln is bound to.
func listenerPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
