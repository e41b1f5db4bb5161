// Package portalloc assigns collision-free localhost ports to routes by
// probing TCP connectability. Probe sockets are short-lived and never kept
// open.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ttymux/ttymux/internal/routes"
)

// ErrPortsExhausted is returned when the allocation cursor passes the hard
// ceiling without finding a free port. This is fatal and never retried.
var ErrPortsExhausted = errors.New("port range exhausted")

const (
	// portCeiling is the hard upper bound for allocation.
	portCeiling = 65000

	probeTimeout = 500 * time.Millisecond
)

// Allocate assigns a unique port to every route that lacks one, starting at
// basePort and skipping ports assigned earlier in the batch as well as ports
// with a live listener. It mutates the routes in place and is a no-op when
// all ports are already set.
func Allocate(cfgs []*routes.Config, basePort int) error {
	assigned := make(map[int]bool)
	for _, cfg := range cfgs {
		if cfg.Port != 0 {
			assigned[cfg.Port] = true
		}
	}

	next := basePort
	for _, cfg := range cfgs {
		if cfg.Port != 0 {
			continue
		}
		for assigned[next] || InUse("127.0.0.1", next) {
			next++
			if next > portCeiling {
				return fmt.Errorf("allocating port for route %q: %w", cfg.RoutePath, ErrPortsExhausted)
			}
		}
		if next > portCeiling {
			return fmt.Errorf("allocating port for route %q: %w", cfg.RoutePath, ErrPortsExhausted)
		}
		cfg.Port = next
		assigned[next] = true
		next++
	}
	return nil
}

// InUse reports whether something is accepting TCP connections on
// host:port. The probe connection is closed immediately.
func InUse(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
