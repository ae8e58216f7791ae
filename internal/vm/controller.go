package vm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/cloudinit"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/disk"
	"github.com/jbweber/kiln/internal/executor"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/process"
	"github.com/jbweber/kiln/internal/qemu"
	"github.com/jbweber/kiln/internal/resolver"
)

const (
	// DefaultStopTimeout is how long a VM gets to exit after SIGTERM.
	DefaultStopTimeout = 30 * time.Second

	// DefaultStopPoll is the interval between liveness checks while stopping.
	DefaultStopPoll = time.Second

	// DefaultSSHPoll is the interval between SSH reachability probes.
	DefaultSSHPoll = 5 * time.Second
)

// State is an observed VM state.
type State string

const (
	StateAbsent  State = "absent"
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Result describes the VM after a call. Fields that do not apply to the
// final state are left zero and omitted when serialized.
type Result struct {
	Changed   bool           `json:"changed" yaml:"changed"`
	State     State          `json:"state" yaml:"state"`
	Name      string         `json:"name" yaml:"name"`
	SSHPort   int            `json:"ssh_port,omitempty" yaml:"ssh_port,omitempty"`
	IPAddress string         `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	Cmd       []string       `json:"cmd,omitempty" yaml:"cmd,omitempty"`
	PID       int            `json:"pid,omitempty" yaml:"pid,omitempty"`
	CloudInit map[string]any `json:"cloud_init,omitempty" yaml:"cloud_init,omitempty"`
}

// Controller reconciles VMs. Its dependencies are narrow interfaces so that
// the whole state machine can be driven without a hypervisor.
type Controller struct {
	procs    processTable
	disks    diskProvisioner
	seeds    seedPackager
	builder  planBuilder
	runner   executor.Runner
	resolver addressResolver
	probeSSH func(ctx context.Context, addr string) error
	log      logrus.FieldLogger

	stopTimeout time.Duration
	stopPoll    time.Duration
	sshPoll     time.Duration
}

// NewController wires a Controller to the host for VMs run by spec's
// hypervisor binary.
func NewController(spec *config.VMSpec, log logrus.FieldLogger) *Controller {
	runner := executor.New()
	locator := process.NewLocator(runner, spec.QEMUBinary, log)

	return &Controller{
		procs:       locator,
		disks:       disk.NewProvisioner(runner),
		seeds:       cloudinit.NewPackager(runner, log),
		builder:     qemu.NewBuilder(),
		runner:      runner,
		resolver:    resolver.Default(locator, runner, spec.LibvirtSocket, log),
		probeSSH:    sshBanner,
		log:         logging.WithComponent(log, "vm"),
		stopTimeout: DefaultStopTimeout,
		stopPoll:    DefaultStopPoll,
		sshPoll:     DefaultSSHPoll,
	}
}

// observation is the host's view of one VM.
type observation struct {
	state State
	pid   int
	args  []string
}

// observe derives the VM state from the process table and the image file.
func (c *Controller) observe(ctx context.Context, spec *config.VMSpec) observation {
	if p, ok := c.procs.Locate(ctx, spec.Name); ok {
		return observation{state: StateRunning, pid: p.PID, args: p.Args}
	}
	if c.disks.Exists(spec.Image) {
		return observation{state: StateStopped}
	}
	return observation{state: StateAbsent}
}

// target describes spec to the address resolver.
func target(spec *config.VMSpec) resolver.Target {
	t := resolver.Target{Name: spec.Name, LeaseFile: spec.LeaseFile}
	if spec.Network == config.NetworkBridge {
		t.Bridge = spec.BridgeInterface
	}
	if spec.GuestAgentEnabled() {
		t.AgentSocket = naming.AgentSocketPath(spec.RuntimeDir, spec.Name)
	}
	return t
}

// forwardedPort reads the user-mode SSH forward off a running command line.
func forwardedPort(spec *config.VMSpec, args []string) int {
	if spec.Network != config.NetworkUser || len(args) == 0 {
		return 0
	}
	pc, err := qemu.ParseCommand(args)
	if err != nil {
		return 0
	}
	return pc.SSHPort
}
