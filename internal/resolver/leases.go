package resolver

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/jbweber/kiln/internal/libvirt"
	"github.com/jbweber/kiln/internal/naming"
)

// LeaseFileStrategy reads a dnsmasq lease file. Lines look like
//
//	1700000000 52:54:00:4b:5e:57 192.168.122.45 web 01:52:54:00:4b:5e:57
//
// and match when any whitespace-separated token equals the VM name.
type LeaseFileStrategy struct{}

func (s *LeaseFileStrategy) Name() string { return "lease-file" }

func (s *LeaseFileStrategy) Lookup(_ context.Context, t Target) (string, bool) {
	if t.LeaseFile == "" {
		return "", false
	}
	f, err := os.Open(t.LeaseFile)
	if err != nil {
		return "", false
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if !contains(fields, t.Name) {
			continue
		}
		for _, field := range fields {
			if ip, ok := ipv4(field); ok {
				return ip, true
			}
		}
	}
	return "", false
}

func contains(fields []string, s string) bool {
	for _, f := range fields {
		if f == s {
			return true
		}
	}
	return false
}

// LibvirtStrategy asks libvirt's DHCP server for the lease of the VM's
// derived MAC on the network owning the target bridge. A connection is
// opened per lookup so that an unavailable daemon costs one failed dial.
type LibvirtStrategy struct {
	Socket  string
	Timeout time.Duration
}

func (s *LibvirtStrategy) Name() string { return "libvirt" }

func (s *LibvirtStrategy) Lookup(ctx context.Context, t Target) (string, bool) {
	if t.Bridge == "" {
		return "", false
	}
	c, err := libvirt.ConnectWithContext(ctx, s.Socket, s.Timeout)
	if err != nil {
		return "", false
	}
	defer func() { _ = c.Close() }()

	ip, found, err := libvirt.LeaseIP(c, t.Bridge, naming.MACFromName(t.Name))
	if err != nil || !found {
		return "", false
	}
	return ip, true
}
