package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const agentTimeout = 3 * time.Second

// AgentStrategy asks the QEMU guest agent for the guest's interfaces over
// the host side of its virtio-serial channel.
type AgentStrategy struct {
	Timeout time.Duration
}

func (s *AgentStrategy) Name() string { return "guest-agent" }

func (s *AgentStrategy) Lookup(ctx context.Context, t Target) (string, bool) {
	if t.AgentSocket == "" {
		return "", false
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = agentTimeout
	}

	ifaces, err := queryInterfaces(ctx, t.AgentSocket, timeout)
	if err != nil {
		return "", false
	}
	return firstGuestIPv4(ifaces)
}

type agentRequest struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

type agentError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

type agentResponse struct {
	Return json.RawMessage `json:"return"`
	Error  *agentError     `json:"error"`
}

type guestInterface struct {
	Name        string `json:"name"`
	HardwareMAC string `json:"hardware-address"`
	Addresses   []struct {
		Type    string `json:"ip-address-type"`
		Address string `json:"ip-address"`
		Prefix  int    `json:"prefix"`
	} `json:"ip-addresses"`
}

// queryInterfaces runs guest-sync followed by guest-network-get-interfaces.
// The sync id flushes any reply left over from an earlier client that gave up
// mid-conversation.
func queryInterfaces(ctx context.Context, socket string, timeout time.Duration) ([]guestInterface, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to guest agent: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	syncID := time.Now().UnixNano() & 0x7fffffff
	if err := enc.Encode(agentRequest{Execute: "guest-sync", Arguments: map[string]int64{"id": syncID}}); err != nil {
		return nil, fmt.Errorf("failed to send guest-sync: %w", err)
	}
	for {
		resp, err := readResponse(dec)
		if err != nil {
			return nil, err
		}
		var id int64
		if json.Unmarshal(resp.Return, &id) == nil && id == syncID {
			break
		}
	}

	if err := enc.Encode(agentRequest{Execute: "guest-network-get-interfaces"}); err != nil {
		return nil, fmt.Errorf("failed to send guest-network-get-interfaces: %w", err)
	}
	resp, err := readResponse(dec)
	if err != nil {
		return nil, err
	}

	var ifaces []guestInterface
	if err := json.Unmarshal(resp.Return, &ifaces); err != nil {
		return nil, fmt.Errorf("failed to decode interfaces: %w", err)
	}
	return ifaces, nil
}

func readResponse(dec *json.Decoder) (agentResponse, error) {
	var resp agentResponse
	if err := dec.Decode(&resp); err != nil {
		return resp, fmt.Errorf("failed to read guest agent reply: %w", err)
	}
	if resp.Error != nil {
		return resp, fmt.Errorf("guest agent error %s: %s", resp.Error.Class, resp.Error.Desc)
	}
	return resp, nil
}

// firstGuestIPv4 returns the first non-loopback IPv4 address reported.
func firstGuestIPv4(ifaces []guestInterface) (string, bool) {
	for _, iface := range ifaces {
		for _, a := range iface.Addresses {
			if a.Type != "ipv4" {
				continue
			}
			ip, ok := ipv4(a.Address)
			if !ok || net.ParseIP(ip).IsLoopback() {
				continue
			}
			return ip, true
		}
	}
	return "", false
}
