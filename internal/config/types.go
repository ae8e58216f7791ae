package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSpec is wrapped by every validation failure.
var ErrInvalidSpec = errors.New("invalid VM spec")

// State is a desired VM state.
type State string

const (
	StateAbsent  State = "absent"
	StatePresent State = "present"
	StateStarted State = "started"
	StateStopped State = "stopped"
)

// NetworkMode selects the guest network backend.
type NetworkMode string

const (
	// NetworkUser is QEMU user-mode networking with an SSH port forward.
	NetworkUser NetworkMode = "user"
	// NetworkBridge attaches the guest to a pre-existing host bridge.
	NetworkBridge NetworkMode = "bridge"
)

// Defaults applied by Normalize.
const (
	DefaultState                 = StatePresent
	DefaultMemoryMB              = 2048
	DefaultVCPUs                 = 2
	DefaultDiskSizeGB            = 20
	DefaultNetworkMode           = NetworkUser
	DefaultAddressTimeoutSeconds = 300
	DefaultSSHTimeoutSeconds     = 300
	DefaultQEMUBinary            = "qemu-system-x86_64"
	DefaultLeaseFile             = "/var/lib/misc/dnsmasq.leases"
)

// namePattern allows what can safely appear as a -name value and a file
// stem: no commas, no whitespace, no path separators.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// VMSpec is the desired configuration of a single VM.
type VMSpec struct {
	Name       string      `yaml:"name"`
	State      State       `yaml:"state"`
	MemoryMB   int         `yaml:"memory_mb"`
	VCPUs      int         `yaml:"vcpus"`
	DiskSizeGB int         `yaml:"disk_size_gb"` // Only used when the image has to be created
	Image      string      `yaml:"image"`        // qcow2 path; also the seed volume's directory
	Network    NetworkMode `yaml:"network_mode"`

	BridgeInterface string `yaml:"bridge_interface,omitempty"`
	SSHPort         int    `yaml:"ssh_port,omitempty"` // 0 allocates an ephemeral port in user mode

	// CloudInit is the provisioning document, passed through as cloud-config.
	CloudInit map[string]any `yaml:"cloud_init,omitempty"`

	WaitForAddress        bool `yaml:"wait_for_address,omitempty"`
	AddressTimeoutSeconds int  `yaml:"address_timeout_seconds,omitempty"`
	WaitForSSH            bool `yaml:"wait_for_ssh,omitempty"`
	SSHTimeoutSeconds     int  `yaml:"ssh_timeout_seconds,omitempty"`

	// Pointers distinguish unset (default true) from false
	CleanupOnFailure *bool `yaml:"cleanup_on_failure,omitempty"`
	EnableKVM        *bool `yaml:"enable_kvm,omitempty"`
	Snapshot         *bool `yaml:"snapshot,omitempty"`
	GuestAgent       *bool `yaml:"guest_agent,omitempty"`

	QEMUBinary    string `yaml:"qemu_binary,omitempty"`
	RuntimeDir    string `yaml:"runtime_dir,omitempty"`
	LeaseFile     string `yaml:"lease_file,omitempty"`
	LibvirtSocket string `yaml:"libvirt_socket,omitempty"` // Empty disables libvirt lease lookup
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// CleanupOnFailureEnabled reports whether a VM launched by a failed call is stopped again.
func (s *VMSpec) CleanupOnFailureEnabled() bool { return boolOr(s.CleanupOnFailure, true) }

// KVMEnabled reports whether -enable-kvm -cpu host is emitted.
func (s *VMSpec) KVMEnabled() bool { return boolOr(s.EnableKVM, true) }

// SnapshotEnabled reports whether the primary drive runs in snapshot mode.
func (s *VMSpec) SnapshotEnabled() bool { return boolOr(s.Snapshot, true) }

// GuestAgentEnabled reports whether a guest-agent channel is attached.
func (s *VMSpec) GuestAgentEnabled() bool { return boolOr(s.GuestAgent, true) }

// Normalize trims user input and fills in defaults. It is called by
// LoadFromFile before validation.
func (s *VMSpec) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Image = strings.TrimSpace(s.Image)
	s.State = State(strings.ToLower(strings.TrimSpace(string(s.State))))
	s.Network = NetworkMode(strings.ToLower(strings.TrimSpace(string(s.Network))))

	// Note: bridge names are NOT lowercased - they must match the host exactly
	s.BridgeInterface = strings.TrimSpace(s.BridgeInterface)

	if s.State == "" {
		s.State = DefaultState
	}
	if s.MemoryMB == 0 {
		s.MemoryMB = DefaultMemoryMB
	}
	if s.VCPUs == 0 {
		s.VCPUs = DefaultVCPUs
	}
	if s.DiskSizeGB == 0 {
		s.DiskSizeGB = DefaultDiskSizeGB
	}
	if s.Network == "" {
		s.Network = DefaultNetworkMode
	}
	if s.AddressTimeoutSeconds == 0 {
		s.AddressTimeoutSeconds = DefaultAddressTimeoutSeconds
	}
	if s.SSHTimeoutSeconds == 0 {
		s.SSHTimeoutSeconds = DefaultSSHTimeoutSeconds
	}
	if s.QEMUBinary == "" {
		s.QEMUBinary = DefaultQEMUBinary
	}
	if s.RuntimeDir == "" {
		s.RuntimeDir = filepath.Join(os.TempDir(), "kiln")
	}
	if s.LeaseFile == "" {
		s.LeaseFile = DefaultLeaseFile
	}
	if s.Image != "" {
		s.Image = filepath.Clean(s.Image)
	}
}

// Validate checks the spec for errors. It does not look at the host: images,
// bridges and binaries are checked when they are used.
func (s *VMSpec) Validate() error {
	if err := s.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return nil
}

func (s *VMSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !namePattern.MatchString(s.Name) {
		return fmt.Errorf("name must start with an alphanumeric character and contain only alphanumerics, '.', '_' or '-' (max 64), got %q", s.Name)
	}

	switch s.State {
	case StateAbsent, StatePresent, StateStarted, StateStopped:
	default:
		return fmt.Errorf("state must be one of absent, present, started, stopped, got %q", s.State)
	}

	if s.Image == "" {
		return fmt.Errorf("image is required")
	}
	if s.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb must be > 0, got %d", s.MemoryMB)
	}
	if s.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be > 0, got %d", s.VCPUs)
	}
	if s.DiskSizeGB <= 0 {
		return fmt.Errorf("disk_size_gb must be > 0, got %d", s.DiskSizeGB)
	}

	switch s.Network {
	case NetworkUser:
		if s.BridgeInterface != "" {
			return fmt.Errorf("bridge_interface is only valid with network_mode=bridge")
		}
	case NetworkBridge:
		if s.BridgeInterface == "" {
			return fmt.Errorf("bridge_interface is required when network_mode=bridge")
		}
		if s.SSHPort != 0 {
			return fmt.Errorf("ssh_port is only valid with network_mode=user")
		}
	default:
		return fmt.Errorf("network_mode must be one of user, bridge, got %q", s.Network)
	}

	if s.SSHPort < 0 || s.SSHPort > 65535 {
		return fmt.Errorf("ssh_port must be between 1 and 65535, got %d", s.SSHPort)
	}
	if s.AddressTimeoutSeconds < 0 {
		return fmt.Errorf("address_timeout_seconds must be >= 0, got %d", s.AddressTimeoutSeconds)
	}
	if s.SSHTimeoutSeconds < 0 {
		return fmt.Errorf("ssh_timeout_seconds must be >= 0, got %d", s.SSHTimeoutSeconds)
	}

	if err := validateCloudInit(s.CloudInit); err != nil {
		return fmt.Errorf("cloud_init: %w", err)
	}
	return nil
}

// validateCloudInit checks the parts of the provisioning document that would
// otherwise only fail inside the guest. Everything else is passed through.
func validateCloudInit(doc map[string]any) error {
	if doc == nil {
		return nil
	}

	if err := validateKeys("ssh_authorized_keys", doc["ssh_authorized_keys"]); err != nil {
		return err
	}

	users, ok := doc["users"].([]any)
	if !ok {
		return nil
	}
	for i, u := range users {
		user, ok := u.(map[string]any)
		if !ok {
			// "default" and other scalar entries are valid cloud-config
			continue
		}
		if err := validateKeys(fmt.Sprintf("users[%d].ssh_authorized_keys", i), user["ssh_authorized_keys"]); err != nil {
			return err
		}
	}
	return nil
}

func validateKeys(field string, v any) error {
	if v == nil {
		return nil
	}
	keys, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%s must be a list", field)
	}
	for i, k := range keys {
		key, ok := k.(string)
		if !ok {
			return fmt.Errorf("%s[%d] must be a string", field, i)
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("%s[%d] is not a valid SSH public key: %w", field, i, err)
		}
	}
	return nil
}

// Parse decodes a YAML spec. Unknown fields are rejected so that typos do
// not silently fall back to defaults.
func Parse(data []byte) (*VMSpec, error) {
	var spec VMSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &spec, nil
}

// LoadFromFile loads, normalizes and validates a VM spec from a YAML file.
func LoadFromFile(path string) (*VMSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	spec, err := Parse(data)
	if err != nil {
		return nil, err
	}

	spec.Normalize()

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
