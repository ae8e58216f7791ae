package vm

import (
	"context"
	"time"

	"github.com/jbweber/kiln/internal/cloudinit"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/process"
	"github.com/jbweber/kiln/internal/qemu"
	"github.com/jbweber/kiln/internal/resolver"
)

// processTable defines the process operations needed for reconciliation.
//
// In production, this is satisfied by *process.Locator.
// In tests, this is satisfied by mock implementations.
type processTable interface {
	// Locate finds the hypervisor process carrying name
	Locate(ctx context.Context, name string) (process.Process, bool)

	// Signal sends a kill(1) signal name to pid
	Signal(ctx context.Context, pid int, sig string) error

	// Alive reports whether pid still exists
	Alive(ctx context.Context, pid int) bool
}

// diskProvisioner defines the image operations needed for reconciliation.
//
// In production, this is satisfied by *disk.Provisioner.
type diskProvisioner interface {
	// Exists reports whether path is present
	Exists(path string) bool

	// Ensure creates a qcow2 image at path unless one exists
	Ensure(ctx context.Context, path string, sizeGB int) (bool, error)

	// Remove deletes path, reporting whether anything was removed
	Remove(path string) (bool, error)
}

// seedPackager builds the provisioning volume.
//
// In production, this is satisfied by *cloudinit.Packager.
type seedPackager interface {
	Package(ctx context.Context, vmName, imagePath string, doc cloudinit.Document) (*cloudinit.Artifacts, error)
}

// planBuilder assembles the hypervisor command line.
//
// In production, this is satisfied by *qemu.Builder.
type planBuilder interface {
	Build(spec *config.VMSpec, in qemu.Inputs) (qemu.LaunchPlan, error)
}

// addressResolver discovers the guest address.
//
// In production, this is satisfied by *resolver.Resolver.
type addressResolver interface {
	Resolve(ctx context.Context, t resolver.Target) (string, bool)
	ResolveWithWait(ctx context.Context, t resolver.Target, timeout time.Duration) (string, bool)
}
