// Package resolver finds a running VM's guest IPv4 address.
//
// Strategies are tried in order and the first hit wins. A strategy that
// fails for any reason is a miss, and a miss from every strategy is not an
// error: callers decide whether a missing address matters.
package resolver

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/executor"
	"github.com/jbweber/kiln/internal/logging"
)

// DefaultInterval is the polling interval of ResolveWithWait.
const DefaultInterval = 5 * time.Second

// Target identifies the VM whose address is wanted.
type Target struct {
	Name        string
	Bridge      string // empty in user mode
	AgentSocket string // empty when no guest-agent channel was attached
	LeaseFile   string
}

// Strategy is one address discovery method.
type Strategy interface {
	Name() string
	Lookup(ctx context.Context, t Target) (string, bool)
}

// Resolver runs strategies in order.
type Resolver struct {
	strategies []Strategy
	log        logrus.FieldLogger

	// Interval is the polling interval of ResolveWithWait.
	Interval time.Duration
}

// New returns a Resolver over strategies, tried in the given order.
func New(log logrus.FieldLogger, strategies ...Strategy) *Resolver {
	return &Resolver{
		strategies: strategies,
		log:        logging.WithComponent(log, "resolver"),
		Interval:   DefaultInterval,
	}
}

// Default returns the standard chain: guest agent, neighbor table, lease
// file and, when libvirtSocket is set, libvirt's DHCP leases.
func Default(locator processLocator, runner executor.Runner, libvirtSocket string, log logrus.FieldLogger) *Resolver {
	strategies := []Strategy{
		&AgentStrategy{},
		&ARPStrategy{Locator: locator, Runner: runner},
		&LeaseFileStrategy{},
	}
	if libvirtSocket != "" {
		strategies = append(strategies, &LibvirtStrategy{Socket: libvirtSocket})
	}
	return New(log, strategies...)
}

// Resolve returns the first address any strategy finds.
func (r *Resolver) Resolve(ctx context.Context, t Target) (string, bool) {
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			return "", false
		}
		if ip, ok := s.Lookup(ctx, t); ok {
			r.log.Debugf("resolved %s to %s via %s", t.Name, ip, s.Name())
			return ip, true
		}
		r.log.Debugf("%s: no address for %s", s.Name(), t.Name)
	}
	return "", false
}

// ResolveWithWait polls Resolve until an address is found, timeout elapses
// or ctx is done. It never returns an error.
func (r *Resolver) ResolveWithWait(ctx context.Context, t Target, timeout time.Duration) (string, bool) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ip, ok := r.Resolve(waitCtx, t); ok {
			return ip, true
		}
		select {
		case <-waitCtx.Done():
			r.log.Debugf("no address for %s after %v", t.Name, timeout)
			return "", false
		case <-ticker.C:
		}
	}
}

// ipv4 returns s normalized if it is a syntactically valid IPv4 address.
func ipv4(s string) (string, bool) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return "", false
	}
	return ip.To4().String(), true
}
