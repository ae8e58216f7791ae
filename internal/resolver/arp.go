package resolver

import (
	"context"
	"strings"

	"github.com/jbweber/kiln/internal/executor"
	"github.com/jbweber/kiln/internal/process"
	"github.com/jbweber/kiln/internal/qemu"
)

type processLocator interface {
	Locate(ctx context.Context, name string) (process.Process, bool)
}

// ARPStrategy reads the host neighbor table for the MAC on the VM's running
// command line. It only sees guests that have already talked to the host.
type ARPStrategy struct {
	Locator processLocator
	Runner  executor.Runner
}

func (s *ARPStrategy) Name() string { return "arp" }

func (s *ARPStrategy) Lookup(ctx context.Context, t Target) (string, bool) {
	proc, ok := s.Locator.Locate(ctx, t.Name)
	if !ok {
		return "", false
	}
	cmd, err := qemu.ParseCommand(proc.Args)
	if err != nil || cmd.MAC == "" {
		return "", false
	}

	if res, err := s.Runner.Run(ctx, "ip", "neigh", "show"); err == nil {
		if ip, ok := neighborIP(res.Stdout, cmd.MAC); ok {
			return ip, true
		}
	}
	if res, err := s.Runner.Run(ctx, "arp", "-an"); err == nil {
		if ip, ok := neighborIP(res.Stdout, cmd.MAC); ok {
			return ip, true
		}
	}
	return "", false
}

// neighborIP scans neighbor table output for a line mentioning mac and
// returns the first IPv4 token on it. Both the iproute2 form
//
//	192.168.1.5 dev br0 lladdr 52:54:00:4b:5e:57 REACHABLE
//
// and the net-tools form
//
//	? (192.168.1.5) at 52:54:00:4b:5e:57 [ether] on br0
//
// are understood.
func neighborIP(out, mac string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if !containsFold(fields, mac) {
			continue
		}
		for _, f := range fields {
			if ip, ok := ipv4(strings.Trim(f, "()")); ok {
				return ip, true
			}
		}
	}
	return "", false
}

func containsFold(fields []string, s string) bool {
	for _, f := range fields {
		if strings.EqualFold(f, s) {
			return true
		}
	}
	return false
}
