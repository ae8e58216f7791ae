package libvirt

import (
	"errors"
	"testing"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// mockNetworkAPI is a mock implementation of networkAPI for testing.
type mockNetworkAPI struct {
	nets   []golibvirt.Network
	xml    map[string]string
	leases map[string][]golibvirt.NetworkDhcpLease
	err    error

	leaseCalls []string
}

func (m *mockNetworkAPI) ActiveNetworks() ([]golibvirt.Network, error) {
	return m.nets, m.err
}

func (m *mockNetworkAPI) NetworkXML(n golibvirt.Network) (string, error) {
	return m.xml[n.Name], nil
}

func (m *mockNetworkAPI) NetworkLeases(n golibvirt.Network, mac string) ([]golibvirt.NetworkDhcpLease, error) {
	m.leaseCalls = append(m.leaseCalls, n.Name+"/"+mac)
	return m.leases[n.Name], nil
}

func newMockNetworkAPI() *mockNetworkAPI {
	return &mockNetworkAPI{
		nets: []golibvirt.Network{{Name: "default"}, {Name: "lab"}},
		xml: map[string]string{
			"default": `<network><name>default</name><bridge name="virbr0" stp="on" delay="0"/></network>`,
			"lab":     `<network><name>lab</name><bridge name="br-lab"/></network>`,
		},
		leases: map[string][]golibvirt.NetworkDhcpLease{
			"lab": {
				{Iface: "br-lab", Mac: golibvirt.OptString{"52:54:00:aa:bb:cc"}, Ipaddr: "fd00::10"},
				{Iface: "br-lab", Mac: golibvirt.OptString{"52:54:00:AA:BB:CC"}, Ipaddr: "192.168.50.10"},
			},
		},
	}
}

func TestLeaseIP(t *testing.T) {
	tests := []struct {
		name      string
		bridge    string
		mac       string
		wantIP    string
		wantFound bool
	}{
		{
			name:      "lease on matching bridge",
			bridge:    "br-lab",
			mac:       "52:54:00:aa:bb:cc",
			wantIP:    "192.168.50.10",
			wantFound: true,
		},
		{
			name:   "bridge not managed by libvirt",
			bridge: "br0",
			mac:    "52:54:00:aa:bb:cc",
		},
		{
			name:   "network without leases",
			bridge: "virbr0",
			mac:    "52:54:00:aa:bb:cc",
		},
		{
			name:   "different mac",
			bridge: "br-lab",
			mac:    "52:54:00:00:00:01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newMockNetworkAPI()
			ip, found, err := LeaseIP(api, tt.bridge, tt.mac)
			if err != nil {
				t.Fatalf("LeaseIP() unexpected error: %v", err)
			}
			if found != tt.wantFound || ip != tt.wantIP {
				t.Errorf("LeaseIP() = %q, %v; want %q, %v", ip, found, tt.wantIP, tt.wantFound)
			}
		})
	}
}

func TestLeaseIP_ListError(t *testing.T) {
	api := newMockNetworkAPI()
	api.err = errors.New("connection reset")

	if _, _, err := LeaseIP(api, "br-lab", "52:54:00:aa:bb:cc"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(api.leaseCalls) != 0 {
		t.Errorf("leases should not be queried, got %v", api.leaseCalls)
	}
}

func TestLeaseIP_BadXML(t *testing.T) {
	api := newMockNetworkAPI()
	api.xml["default"] = "<network"

	if _, _, err := LeaseIP(api, "br-lab", "52:54:00:aa:bb:cc"); err == nil {
		t.Fatal("expected XML parse error, got nil")
	}
}
