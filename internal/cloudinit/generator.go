// Package cloudinit packages a provisioning document into a NoCloud seed
// volume that the guest reads on first boot.
//
// The document itself is opaque: whatever tree the caller supplies is
// rendered as cloud-config user-data. Only meta-data is generated here.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// cloudConfigHeader must be the first line of cloud-config user-data.
const cloudConfigHeader = "#cloud-config\n"

// Document is a provisioning document as supplied by the caller.
type Document map[string]any

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// GenerateUserData renders doc as cloud-config user-data, including the
// "#cloud-config" header.
func GenerateUserData(doc Document) (string, error) {
	if len(doc) == 0 {
		return "", fmt.Errorf("provisioning document is empty")
	}

	yamlBytes, err := yaml.Marshal(map[string]any(doc))
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	return cloudConfigHeader + string(yamlBytes), nil
}

// GenerateMetaData generates meta-data for a VM.
//
// The instance-id is the VM name and stays the same across recreation.
// A recreated VM is provisioned again only because its new disk carries no
// cloud-init state.
func GenerateMetaData(vmName string) (string, error) {
	if vmName == "" {
		return "", fmt.Errorf("VM name cannot be empty")
	}

	yamlBytes, err := yaml.Marshal(&MetaData{
		InstanceID:    vmName,
		LocalHostname: vmName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
