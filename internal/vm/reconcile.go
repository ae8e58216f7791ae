package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/qemu"
)

// Reconcile brings the VM described by spec to spec.State.
//
// This orchestrates one reconciliation:
//  1. Observe the current state
//  2. Apply the transition for (current, desired)
//  3. Observe again to fill in state and PID
//  4. Resolve the address when running in bridge mode or when asked to wait
//  5. Wait for SSH when asked to
//
// spec must already be normalized and validated.
func (c *Controller) Reconcile(ctx context.Context, spec *config.VMSpec) (*Result, error) {
	log := c.log.WithFields(logrus.Fields{"vm": spec.Name, "run": uuid.NewString()})

	current := c.observe(ctx, spec)
	log.Infof("Current state %s, desired %s", current.state, spec.State)

	res := &Result{Name: spec.Name}
	var launch *launchOutcome

	switch spec.State {
	case config.StatePresent:
		if current.state == StateAbsent {
			created, err := c.ensureDisk(ctx, spec, log)
			if err != nil {
				return nil, err
			}
			res.Changed = created
		}

	case config.StateStarted:
		if current.state != StateRunning {
			out, err := c.start(ctx, spec, current, log)
			if err != nil {
				return nil, err
			}
			launch = out
			res.Changed = true
		}

	case config.StateStopped:
		if current.state == StateRunning {
			c.stop(ctx, current.pid, log)
			res.Changed = true
		}

	case config.StateAbsent:
		changed, err := c.remove(ctx, spec, current, log)
		if err != nil {
			return nil, err
		}
		res.Changed = changed

	default:
		return nil, fmt.Errorf("%w: unknown state %q", config.ErrInvalidSpec, spec.State)
	}

	// A cancelled context makes the process listing fail soft, which would
	// read as "not running"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reconcile of VM '%s' interrupted: %w", spec.Name, err)
	}

	final := c.observe(ctx, spec)
	res.State = final.state
	res.PID = final.pid

	if launch != nil {
		res.Cmd = launch.plan.Args
		res.CloudInit = launch.cloudInit
		if final.state != StateRunning {
			log.Warnf("Launch was accepted but no process carries the name %q", spec.Name)
		}
	}

	if final.state != StateRunning {
		return res, nil
	}

	if launch != nil && launch.plan.SSHPort != 0 {
		res.SSHPort = launch.plan.SSHPort
	} else {
		res.SSHPort = forwardedPort(spec, final.args)
	}

	if spec.Network == config.NetworkBridge || spec.WaitForAddress {
		res.IPAddress = c.resolveAddress(ctx, spec, log)
	}

	if spec.WaitForSSH {
		if err := c.waitForSSH(ctx, spec, res, log); err != nil {
			if launch != nil && spec.CleanupOnFailureEnabled() {
				log.Warnf("Stopping VM launched by this run after failure")
				c.stop(ctx, final.pid, log)
			}
			return nil, err
		}
	}

	log.Infof("VM '%s' is %s (changed=%t)", spec.Name, res.State, res.Changed)
	return res, nil
}

// Plan reports what Reconcile would do without doing it. Changed is true
// when Reconcile would act; State and PID describe the VM as it is now.
func (c *Controller) Plan(ctx context.Context, spec *config.VMSpec) (*Result, error) {
	current := c.observe(ctx, spec)
	res := c.describe(ctx, spec, current, false)

	switch spec.State {
	case config.StatePresent:
		res.Changed = current.state == StateAbsent
	case config.StateStarted:
		if current.state != StateRunning {
			if err := qemu.CheckNetwork(spec); err != nil {
				return nil, err
			}
			res.Changed = true
		}
	case config.StateStopped:
		res.Changed = current.state == StateRunning
	case config.StateAbsent:
		res.Changed = current.state != StateAbsent ||
			c.disks.Exists(naming.SeedISOPath(spec.Image, spec.Name))
	default:
		return nil, fmt.Errorf("%w: unknown state %q", config.ErrInvalidSpec, spec.State)
	}
	return res, nil
}

// Status observes the VM and, when it is running, looks up its address once.
func (c *Controller) Status(ctx context.Context, spec *config.VMSpec) *Result {
	return c.describe(ctx, spec, c.observe(ctx, spec), true)
}

func (c *Controller) describe(ctx context.Context, spec *config.VMSpec, obs observation, resolve bool) *Result {
	res := &Result{Name: spec.Name, State: obs.state, PID: obs.pid}
	if obs.state != StateRunning {
		return res
	}
	res.SSHPort = forwardedPort(spec, obs.args)
	if resolve {
		if ip, ok := c.resolver.Resolve(ctx, target(spec)); ok {
			res.IPAddress = ip
		}
	}
	return res
}

// resolveAddress looks up the guest address, waiting when the spec asks to.
// A miss is logged and leaves the address empty.
func (c *Controller) resolveAddress(ctx context.Context, spec *config.VMSpec, log logrus.FieldLogger) string {
	t := target(spec)

	var (
		ip string
		ok bool
	)
	if spec.WaitForAddress {
		timeout := time.Duration(spec.AddressTimeoutSeconds) * time.Second
		log.Infof("Waiting up to %v for an address...", timeout)
		ip, ok = c.resolver.ResolveWithWait(ctx, t, timeout)
	} else {
		ip, ok = c.resolver.Resolve(ctx, t)
	}

	if !ok {
		log.Warnf("No address found for VM '%s'", spec.Name)
		return ""
	}
	log.Infof("VM address is %s", ip)
	return ip
}
