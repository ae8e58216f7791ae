// Package qemu assembles and parses hypervisor command lines.
//
// The argument order is fixed: binary, identity, memory, vCPUs, primary
// drive, optional seed drive, network stanza, optional guest-agent channel,
// headless/daemon flags, optional acceleration flags. ParseCommand reads the
// same vector back so that a running process can be interrogated through
// its command line alone.
package qemu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/ports"
)

// ErrConfiguration is returned when the spec cannot be turned into a command
// line. It is raised before anything is spawned.
var ErrConfiguration = errors.New("configuration error")

// guestSSHPort is the guest side of the user-mode forward.
const guestSSHPort = 22

// LaunchPlan is a fully built hypervisor invocation.
type LaunchPlan struct {
	Args []string
	// SSHPort is the forwarded host port in user mode, 0 otherwise.
	SSHPort int
}

// Binary returns the program to execute.
func (p LaunchPlan) Binary() string {
	if len(p.Args) == 0 {
		return ""
	}
	return p.Args[0]
}

// String renders the plan as a single shell-like line.
func (p LaunchPlan) String() string {
	return strings.Join(p.Args, " ")
}

// Builder builds launch plans. The zero value is not usable; use NewBuilder.
type Builder struct {
	allocatePort func() (int, error)
}

// NewBuilder returns a Builder that allocates ephemeral ports when a user-mode
// spec has no explicit SSH port.
func NewBuilder() *Builder {
	return &Builder{allocatePort: ports.Allocate}
}

// Inputs are the host-side paths produced before the build.
type Inputs struct {
	// SeedISO is the provisioning volume, empty when none was packaged.
	SeedISO string
	// AgentSocket is the guest-agent socket path, empty to omit the channel.
	AgentSocket string
}

// Build assembles the launch plan for spec.
func (b *Builder) Build(spec *config.VMSpec, in Inputs) (LaunchPlan, error) {
	netArgs, port, err := b.networkArgs(spec)
	if err != nil {
		return LaunchPlan{}, err
	}

	primary := "file=" + escape(spec.Image) + ",format=qcow2"
	if spec.SnapshotEnabled() {
		primary += ",snapshot=on"
	}

	args := []string{
		spec.QEMUBinary,
		"-name", spec.Name,
		"-m", strconv.Itoa(spec.MemoryMB),
		"-smp", strconv.Itoa(spec.VCPUs),
		"-drive", primary,
	}

	if in.SeedISO != "" {
		args = append(args, "-drive", "file="+escape(in.SeedISO)+",format=raw,media=cdrom")
	}

	args = append(args, netArgs...)

	if in.AgentSocket != "" {
		args = append(args,
			"-chardev", fmt.Sprintf("socket,path=%s,server=on,wait=off,id=%s", escape(in.AgentSocket), naming.AgentChardevID),
			"-device", "virtio-serial",
			"-device", fmt.Sprintf("virtserialport,chardev=%s,name=%s", naming.AgentChardevID, naming.AgentPortName),
		)
	}

	args = append(args, "-display", "none", "-daemonize")

	if spec.KVMEnabled() {
		args = append(args, "-enable-kvm", "-cpu", "host")
	}

	return LaunchPlan{Args: args, SSHPort: port}, nil
}

// CheckNetwork returns the configuration error Build would return for the
// network stanza, without allocating a port.
func CheckNetwork(spec *config.VMSpec) error {
	switch spec.Network {
	case config.NetworkUser:
		return nil
	case config.NetworkBridge:
		if spec.BridgeInterface == "" {
			return fmt.Errorf("%w: bridge_interface is required when network_mode=bridge", ErrConfiguration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported network mode %q", ErrConfiguration, spec.Network)
	}
}

func (b *Builder) networkArgs(spec *config.VMSpec) ([]string, int, error) {
	if err := CheckNetwork(spec); err != nil {
		return nil, 0, err
	}
	device := fmt.Sprintf("virtio-net,netdev=%s,mac=%s", naming.NetdevID, naming.MACFromName(spec.Name))

	switch spec.Network {
	case config.NetworkUser:
		port := spec.SSHPort
		if port == 0 {
			var err error
			if port, err = b.allocatePort(); err != nil {
				return nil, 0, fmt.Errorf("failed to allocate SSH port: %w", err)
			}
		}
		return []string{
			"-netdev", fmt.Sprintf("user,id=%s,hostfwd=tcp::%d-:%d", naming.NetdevID, port, guestSSHPort),
			"-device", device,
		}, port, nil

	default:
		return []string{
			"-netdev", fmt.Sprintf("bridge,id=%s,br=%s", naming.NetdevID, spec.BridgeInterface),
			"-device", device,
		}, 0, nil
	}
}

// escape doubles commas so a path survives QEMU's option parser.
func escape(v string) string {
	return strings.ReplaceAll(v, ",", ",,")
}
