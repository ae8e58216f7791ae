package vm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/cloudinit"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/disk"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/qemu"
)

// runtimeDirPermissions are the permissions of the guest-agent socket directory.
const runtimeDirPermissions = 0o750

// launchOutcome is what a successful launch reports back into the result.
type launchOutcome struct {
	plan      qemu.LaunchPlan
	cloudInit map[string]any
}

// ensureDisk creates the image if it is missing.
func (c *Controller) ensureDisk(ctx context.Context, spec *config.VMSpec, log logrus.FieldLogger) (bool, error) {
	log.Infof("Ensuring disk image %s (%dGB)...", spec.Image, spec.DiskSizeGB)
	created, err := c.disks.Ensure(ctx, spec.Image, spec.DiskSizeGB)
	if err != nil {
		return false, err
	}
	if created {
		log.Infof("Created disk image %s", spec.Image)
	}
	return created, nil
}

// start launches the hypervisor for a VM that is absent or stopped.
//
// The network configuration is checked before anything touches the host so
// that a bad spec never leaves an image or a seed behind. The seed's working
// directory is released on every path; the seed volume itself stays beside
// the image for the hypervisor to read.
func (c *Controller) start(ctx context.Context, spec *config.VMSpec, current observation, log logrus.FieldLogger) (*launchOutcome, error) {
	// Step 1: Reject configurations that cannot be launched
	if err := qemu.CheckNetwork(spec); err != nil {
		return nil, err
	}

	// Step 2: Make sure there is a backing image
	if current.state == StateAbsent {
		if _, err := c.ensureDisk(ctx, spec, log); err != nil {
			return nil, err
		}
	} else {
		warnIfNotQCOW2(spec.Image, log)
	}

	// Step 3: Prepare the guest-agent socket location
	var in qemu.Inputs
	if spec.GuestAgentEnabled() {
		in.AgentSocket = naming.AgentSocketPath(spec.RuntimeDir, spec.Name)
		if err := os.MkdirAll(spec.RuntimeDir, runtimeDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create runtime directory %s: %w", spec.RuntimeDir, err)
		}
		// A socket left by a previous run would make the chardev fail to bind
		if err := os.Remove(in.AgentSocket); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Failed to remove stale agent socket %s: %v", in.AgentSocket, err)
		}
	}

	// Step 4: Package the provisioning data
	var echo map[string]any
	if len(spec.CloudInit) > 0 {
		log.Infof("Packaging cloud-init seed...")
		art, err := c.seeds.Package(ctx, spec.Name, spec.Image, cloudinit.Document(spec.CloudInit))
		if err != nil {
			return nil, err
		}
		defer func() {
			if cerr := art.Cleanup(); cerr != nil {
				log.Warnf("Failed to clean up seed working directory: %v", cerr)
			}
		}()
		if art != nil {
			in.SeedISO = art.ISO
			echo = spec.CloudInit
		}
	} else {
		log.Debugf("Skipping cloud-init (not configured)")
	}

	// Step 5: Build the command line
	plan, err := c.builder.Build(spec, in)
	if err != nil {
		return nil, err
	}

	// Step 6: Launch; the hypervisor daemonizes once it is set up
	log.Infof("Launching %s", plan)
	if _, err := c.runner.Run(ctx, plan.Binary(), plan.Args[1:]...); err != nil {
		return nil, fmt.Errorf("failed to launch VM '%s': %w", spec.Name, err)
	}

	return &launchOutcome{plan: plan, cloudInit: echo}, nil
}

// warnIfNotQCOW2 flags existing images that will not work with format=qcow2.
func warnIfNotQCOW2(path string, log logrus.FieldLogger) {
	format, err := disk.DetectFormat(path)
	if err != nil {
		log.Debugf("Could not detect image format of %s: %v", path, err)
		return
	}
	if format != disk.FormatQCOW2 {
		log.Warnf("Image %s looks like %s, not qcow2; the hypervisor will likely refuse it", path, format)
	}
}
