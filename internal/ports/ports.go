// Package ports hands out ephemeral TCP ports for user-mode SSH forwards.
//
// The port is not reserved: the probe listener is closed before the
// hypervisor binds the port, so another process can take it in between.
// Callers accept that race; a launch that loses it fails and is retried by
// the next reconciliation.
package ports

import (
	"fmt"
	"net"
)

// Allocate returns a port the kernel considered free a moment ago.
func Allocate() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to bind probe socket: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, fmt.Errorf("failed to release probe socket: %w", err)
	}
	return port, nil
}
