package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/vm"
)

var (
	specFile  string
	checkOnly bool
	overrides config.VMSpec
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile a VM to its desired state",
	Long: `Reconcile a VM to the state described by a spec file and flags.

Flags override the corresponding fields of the spec file, so a VM can also
be described entirely on the command line.

Examples:
  kiln apply -f web.yaml
  kiln apply -f web.yaml --state stopped
  kiln apply --name web --image /var/lib/kiln/web.qcow2 --state started
  kiln apply -f web.yaml --check -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadSpec(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		c := vm.NewController(spec, log)

		var res *vm.Result
		if checkOnly {
			res, err = c.Plan(ctx, spec)
		} else {
			res, err = c.Reconcile(ctx, spec)
		}
		if err != nil {
			return fmt.Errorf("failed to reconcile VM '%s': %w", spec.Name, err)
		}

		return printResult(res)
	},
}

func init() {
	f := applyCmd.Flags()
	f.StringVarP(&specFile, "file", "f", "", "path to the VM spec YAML file")
	f.BoolVar(&checkOnly, "check", false, "report what would change without changing anything")

	addSpecFlags(applyCmd)
	f.StringVar((*string)(&overrides.State), "state", "", "desired state (absent, present, started, stopped)")
	f.IntVar(&overrides.MemoryMB, "memory", 0, "memory in MB")
	f.IntVar(&overrides.VCPUs, "vcpus", 0, "number of vCPUs")
	f.IntVar(&overrides.DiskSizeGB, "disk-size", 0, "disk size in GB when the image is created")
	f.StringVar(&overrides.BridgeInterface, "bridge", "", "bridge interface for network-mode=bridge")
	f.IntVar(&overrides.SSHPort, "ssh-port", 0, "host port forwarded to guest SSH in user mode")
	f.BoolVar(&overrides.WaitForAddress, "wait-for-address", false, "wait for the guest address")
	f.IntVar(&overrides.AddressTimeoutSeconds, "address-timeout", 0, "seconds to wait for the guest address")
	f.BoolVar(&overrides.WaitForSSH, "wait-for-ssh", false, "wait until SSH answers")
	f.IntVar(&overrides.SSHTimeoutSeconds, "ssh-timeout", 0, "seconds to wait for SSH")
}

// addSpecFlags registers the flags shared by commands that identify a VM.
func addSpecFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&overrides.Name, "name", "", "VM name")
	f.StringVar(&overrides.Image, "image", "", "path to the qcow2 disk image")
	f.StringVar((*string)(&overrides.Network), "network-mode", "", "network mode (user, bridge)")
	f.StringVar(&overrides.QEMUBinary, "qemu-binary", "", "hypervisor binary")
	f.StringVar(&overrides.RuntimeDir, "runtime-dir", "", "directory for guest-agent sockets")
	f.StringVar(&overrides.LeaseFile, "lease-file", "", "dnsmasq lease file")
	f.StringVar(&overrides.LibvirtSocket, "libvirt-socket", "", "libvirt socket for DHCP lease lookups")
}

// loadSpec reads the spec file if one was given, applies explicitly set
// flags on top, then normalizes and validates the result.
func loadSpec(cmd *cobra.Command) (*config.VMSpec, error) {
	spec := &config.VMSpec{}
	if specFile != "" {
		data, err := os.ReadFile(specFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read spec file: %w", err)
		}
		if spec, err = config.Parse(data); err != nil {
			return nil, err
		}
	}

	overlay(cmd, spec)
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// overlay copies every flag the user set onto spec.
func overlay(cmd *cobra.Command, spec *config.VMSpec) {
	changed := cmd.Flags().Changed
	set := map[string]func(){
		"name":             func() { spec.Name = overrides.Name },
		"image":            func() { spec.Image = overrides.Image },
		"network-mode":     func() { spec.Network = overrides.Network },
		"qemu-binary":      func() { spec.QEMUBinary = overrides.QEMUBinary },
		"runtime-dir":      func() { spec.RuntimeDir = overrides.RuntimeDir },
		"lease-file":       func() { spec.LeaseFile = overrides.LeaseFile },
		"libvirt-socket":   func() { spec.LibvirtSocket = overrides.LibvirtSocket },
		"state":            func() { spec.State = overrides.State },
		"memory":           func() { spec.MemoryMB = overrides.MemoryMB },
		"vcpus":            func() { spec.VCPUs = overrides.VCPUs },
		"disk-size":        func() { spec.DiskSizeGB = overrides.DiskSizeGB },
		"bridge":           func() { spec.BridgeInterface = overrides.BridgeInterface },
		"ssh-port":         func() { spec.SSHPort = overrides.SSHPort },
		"wait-for-address": func() { spec.WaitForAddress = overrides.WaitForAddress },
		"address-timeout":  func() { spec.AddressTimeoutSeconds = overrides.AddressTimeoutSeconds },
		"wait-for-ssh":     func() { spec.WaitForSSH = overrides.WaitForSSH },
		"ssh-timeout":      func() { spec.SSHTimeoutSeconds = overrides.SSHTimeoutSeconds },
	}
	for name, apply := range set {
		if cmd.Flags().Lookup(name) != nil && changed(name) {
			apply()
		}
	}
}
