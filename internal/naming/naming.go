// Package naming holds the deterministic naming rules that tie host
// artifacts to a VM name. Every path or identifier derived from a name is
// computed here so the reconciler, the resolver and cleanup agree on it
// without keeping any state between calls.
package naming

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
)

const (
	// NetdevID is the id shared by the -netdev backend and its device.
	NetdevID = "net0"

	// AgentChardevID is the chardev id of the guest-agent channel.
	AgentChardevID = "qga0"

	// AgentPortName is the virtserialport name qemu-guest-agent looks for.
	AgentPortName = "org.qemu.guest_agent.0"

	// macPrefix is the QEMU/KVM locally administered OUI.
	macPrefix = "52:54:00"
)

// SeedISOPath returns the provisioning volume path for a VM. The volume sits
// beside the disk image so that repeated calls for the same name overwrite
// it.
//
// Example: /srv/vms/web.qcow2, web → /srv/vms/web-cloud-init.iso
func SeedISOPath(imagePath, vmName string) string {
	return filepath.Join(filepath.Dir(imagePath), vmName+"-cloud-init.iso")
}

// AgentSocketPath returns the guest-agent unix socket path for a VM.
//
// Example: /run/kiln, web → /run/kiln/web.qga
func AgentSocketPath(runtimeDir, vmName string) string {
	return filepath.Join(runtimeDir, vmName+".qga")
}

// MACFromName derives a stable MAC address from the VM name so the ARP
// table can be searched for it after every restart.
//
// Format: 52:54:00:XX:XX:XX where XX are the first three bytes of
// sha256(name).
func MACFromName(vmName string) string {
	sum := sha256.Sum256([]byte(vmName))
	return fmt.Sprintf("%s:%02x:%02x:%02x", macPrefix, sum[0], sum[1], sum[2])
}
