package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/process"
)

// killSettlePolls bounds how long stop waits for a killed process to go away.
const killSettlePolls = 5

// stop terminates pid gracefully and escalates to SIGKILL once the stop
// window has passed. Failures are warnings; the caller re-observes.
func (c *Controller) stop(ctx context.Context, pid int, log logrus.FieldLogger) {
	log.Infof("Sending SIGTERM to process %d...", pid)
	if err := c.procs.Signal(ctx, pid, process.SigTerm); err != nil {
		log.Warnf("Graceful stop failed: %v", err)
	}

	log.Infof("Waiting up to %v for graceful shutdown...", c.stopTimeout)
	if c.waitExit(ctx, pid, c.stopTimeout) {
		log.Infof("VM shut down gracefully")
		return
	}
	log.Infof("Graceful shutdown timed out")

	if !c.procs.Alive(ctx, pid) {
		return
	}

	log.Warnf("Process %d still running, sending SIGKILL", pid)
	if err := c.procs.Signal(ctx, pid, process.SigKill); err != nil {
		log.Warnf("Force stop failed: %v", err)
		return
	}

	// Teardown after SIGKILL is asynchronous
	if !c.waitExit(ctx, pid, killSettlePolls*c.stopPoll) {
		log.Warnf("Process %d still present after SIGKILL", pid)
	}
}

// waitExit polls pid until it is gone or window elapses.
func (c *Controller) waitExit(ctx context.Context, pid int, window time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(c.stopPoll)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
			if !c.procs.Alive(waitCtx, pid) {
				return true
			}
		}
	}
}

// remove stops a running VM and deletes its image and seed volume. It
// reports whether anything was stopped or deleted.
func (c *Controller) remove(ctx context.Context, spec *config.VMSpec, current observation, log logrus.FieldLogger) (bool, error) {
	changed := false

	if current.state == StateRunning {
		c.stop(ctx, current.pid, log)
		changed = true
	}

	if current.state != StateAbsent {
		log.Infof("Removing disk image %s...", spec.Image)
		removed, err := c.disks.Remove(spec.Image)
		if err != nil {
			return changed, fmt.Errorf("failed to remove VM '%s': %w", spec.Name, err)
		}
		changed = changed || removed
	}

	seed := naming.SeedISOPath(spec.Image, spec.Name)
	removed, err := c.disks.Remove(seed)
	if err != nil {
		log.Warnf("Failed to remove seed volume %s: %v", seed, err)
	}
	changed = changed || removed

	if spec.GuestAgentEnabled() {
		socket := naming.AgentSocketPath(spec.RuntimeDir, spec.Name)
		if err := os.Remove(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Failed to remove agent socket %s: %v", socket, err)
		}
	}

	return changed, nil
}
