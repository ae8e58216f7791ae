package libvirt

import (
	"fmt"
	"net"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// networkAPI is the subset of Client used for lease lookups.
type networkAPI interface {
	ActiveNetworks() ([]libvirt.Network, error)
	NetworkXML(n libvirt.Network) (string, error)
	NetworkLeases(n libvirt.Network, mac string) ([]libvirt.NetworkDhcpLease, error)
}

// LeaseIP returns the IPv4 address libvirt's DHCP server leased to mac on the
// network that owns bridge. found is false when no such network or lease
// exists.
func LeaseIP(api networkAPI, bridge, mac string) (ip string, found bool, err error) {
	n, ok, err := networkForBridge(api, bridge)
	if err != nil || !ok {
		return "", false, err
	}

	leases, err := api.NetworkLeases(n, mac)
	if err != nil {
		return "", false, err
	}

	for _, lease := range leases {
		if len(lease.Mac) > 0 && !strings.EqualFold(lease.Mac[0], mac) {
			continue
		}
		if parsed := net.ParseIP(lease.Ipaddr); parsed != nil && parsed.To4() != nil {
			return parsed.String(), true, nil
		}
	}
	return "", false, nil
}

// networkForBridge finds the active network whose <bridge name=...> is bridge.
func networkForBridge(api networkAPI, bridge string) (libvirt.Network, bool, error) {
	nets, err := api.ActiveNetworks()
	if err != nil {
		return libvirt.Network{}, false, err
	}

	for _, n := range nets {
		xml, err := api.NetworkXML(n)
		if err != nil {
			return libvirt.Network{}, false, err
		}

		var def libvirtxml.Network
		if err := def.Unmarshal(xml); err != nil {
			return libvirt.Network{}, false, fmt.Errorf("failed to parse XML for network %s: %w", n.Name, err)
		}
		if def.Bridge != nil && def.Bridge.Name == bridge {
			return n, true, nil
		}
	}
	return libvirt.Network{}, false, nil
}
