package vm

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/config"
)

const (
	sshGuestPort    = 22
	sshProbeTimeout = 3 * time.Second
)

// sshAddress picks where SSH should answer: the forwarded loopback port in
// user mode, the guest address in bridge mode.
func sshAddress(spec *config.VMSpec, res *Result) (string, error) {
	switch spec.Network {
	case config.NetworkUser:
		if res.SSHPort == 0 {
			return "", fmt.Errorf("no forwarded SSH port for VM '%s'", spec.Name)
		}
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(res.SSHPort)), nil
	default:
		if res.IPAddress == "" {
			return "", fmt.Errorf("no address found for VM '%s', cannot wait for SSH", spec.Name)
		}
		return net.JoinHostPort(res.IPAddress, strconv.Itoa(sshGuestPort)), nil
	}
}

// waitForSSH polls the SSH endpoint until it answers or the timeout elapses.
func (c *Controller) waitForSSH(ctx context.Context, spec *config.VMSpec, res *Result, log logrus.FieldLogger) error {
	addr, err := sshAddress(spec, res)
	if err != nil {
		return err
	}

	timeout := time.Duration(spec.SSHTimeoutSeconds) * time.Second
	log.Infof("Waiting up to %v for SSH on %s...", timeout, addr)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.sshPoll)
	defer ticker.Stop()

	for {
		err := c.probeSSH(waitCtx, addr)
		if err == nil {
			log.Infof("SSH is up on %s", addr)
			return nil
		}
		log.Debugf("SSH not ready on %s: %v", addr, err)

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("timed out after %v waiting for SSH on %s: %w", timeout, addr, err)
		case <-ticker.C:
		}
	}
}

// sshBanner connects to addr and reads the server identification line.
// User-mode forwarding accepts connections before the guest listens, so a
// completed TCP handshake alone proves nothing.
func sshBanner(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: sshProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(sshProbeTimeout)); err != nil {
		return err
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("no SSH banner: %w", err)
	}
	if !strings.HasPrefix(line, "SSH-") {
		return fmt.Errorf("unexpected banner %q", strings.TrimSpace(line))
	}
	return nil
}
