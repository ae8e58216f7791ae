package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

const (
	// DefaultSocket is the qemu:///system daemon socket.
	DefaultSocket = "/var/run/libvirt/libvirt-sock"

	defaultTimeout = 5 * time.Second
)

// Client wraps a go-libvirt connection.
type Client struct {
	libvirt *libvirt.Libvirt
}

// Connect establishes a connection to the local libvirt daemon.
// It returns a Client that must be closed via Close() when done.
//
// If socketPath is empty, defaults to DefaultSocket (qemu:///system).
// If timeout is zero, defaults to 5 seconds.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}

	return &Client{libvirt: l}, nil
}

// ConnectWithContext establishes a connection with context support for cancellation.
func ConnectWithContext(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(socketPath, timeout)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after we gave up on it
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close closes the libvirt connection and releases resources.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}

	if err := c.libvirt.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	c.libvirt = nil

	return nil
}

// Ping verifies the connection is still alive by calling a simple libvirt API.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("client not connected")
	}

	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}

	return nil
}

// ActiveNetworks lists the running libvirt networks.
func (c *Client) ActiveNetworks() ([]libvirt.Network, error) {
	if c.libvirt == nil {
		return nil, fmt.Errorf("client not connected")
	}
	nets, _, err := c.libvirt.ConnectListAllNetworks(1, libvirt.ConnectListNetworksActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	return nets, nil
}

// NetworkXML returns the live XML definition of a network.
func (c *Client) NetworkXML(n libvirt.Network) (string, error) {
	if c.libvirt == nil {
		return "", fmt.Errorf("client not connected")
	}
	xml, err := c.libvirt.NetworkGetXMLDesc(n, 0)
	if err != nil {
		return "", fmt.Errorf("failed to get XML for network %s: %w", n.Name, err)
	}
	return xml, nil
}

// NetworkLeases returns the DHCP leases handed out to mac on a network.
func (c *Client) NetworkLeases(n libvirt.Network, mac string) ([]libvirt.NetworkDhcpLease, error) {
	if c.libvirt == nil {
		return nil, fmt.Errorf("client not connected")
	}
	leases, _, err := c.libvirt.NetworkGetDhcpLeases(n, libvirt.OptString{mac}, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get DHCP leases for network %s: %w", n.Name, err)
	}
	return leases, nil
}
