package qemu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jbweber/kiln/internal/process"
)

// ParsedCommand is what ParseCommand recovers from a hypervisor command line.
type ParsedCommand struct {
	Name      string
	MemoryMB  int
	VCPUs     int
	Image     string
	SeedISO   string
	MAC       string
	SSHPort   int
	Bridge    string
	Daemonize bool
}

// ParseCommand reads a hypervisor argument vector, as built by Build or as
// seen in the process table, back into its main settings. args[0] is the
// binary. Options it does not know are skipped.
func ParseCommand(args []string) (ParsedCommand, error) {
	var pc ParsedCommand
	if len(args) == 0 {
		return pc, fmt.Errorf("empty command line")
	}

	if name, ok := process.IdentityName(args); ok {
		pc.Name = name
	}

	for i := 1; i < len(args); i++ {
		flag := args[i]
		if flag == "-daemonize" {
			pc.Daemonize = true
			continue
		}
		if i+1 >= len(args) {
			break
		}
		val := args[i+1]

		switch flag {
		case "-m":
			mb, err := parseMemory(val)
			if err != nil {
				return pc, err
			}
			pc.MemoryMB = mb
			i++
		case "-smp":
			n, err := strconv.Atoi(splitOptions(val)[0])
			if err != nil {
				return pc, fmt.Errorf("invalid -smp value %q: %w", val, err)
			}
			pc.VCPUs = n
			i++
		case "-drive":
			opts := optionMap(val)
			switch {
			case opts["media"] == "cdrom" || opts["format"] == "raw":
				pc.SeedISO = opts["file"]
			case pc.Image == "":
				pc.Image = opts["file"]
			}
			i++
		case "-netdev":
			parts := splitOptions(val)
			opts := optionMap(val)
			if parts[0] == "bridge" {
				pc.Bridge = opts["br"]
			}
			if fwd, ok := opts["hostfwd"]; ok {
				pc.SSHPort = parseHostFwdPort(fwd)
			}
			i++
		case "-device":
			if mac, ok := optionMap(val)["mac"]; ok && pc.MAC == "" {
				pc.MAC = strings.ToLower(mac)
			}
			i++
		}
	}

	return pc, nil
}

// parseMemory accepts plain megabytes and the M/G suffixed forms.
func parseMemory(v string) (int, error) {
	v = strings.TrimPrefix(splitOptions(v)[0], "size=")
	mult := 1
	switch {
	case strings.HasSuffix(v, "G"), strings.HasSuffix(v, "g"):
		mult = 1024
		v = v[:len(v)-1]
	case strings.HasSuffix(v, "M"), strings.HasSuffix(v, "m"):
		v = v[:len(v)-1]
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid -m value %q: %w", v, err)
	}
	return n * mult, nil
}

// parseHostFwdPort extracts HOSTPORT from tcp:[ADDR]:HOSTPORT-[GUESTADDR]:GUESTPORT.
func parseHostFwdPort(fwd string) int {
	host, _, ok := strings.Cut(fwd, "-")
	if !ok {
		return 0
	}
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return 0
	}
	port, err := strconv.Atoi(host[idx+1:])
	if err != nil {
		return 0
	}
	return port
}

// splitOptions splits a QEMU option string on single commas, treating ",,"
// as an escaped literal comma.
func splitOptions(v string) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != ',' {
			cur.WriteByte(v[i])
			continue
		}
		if i+1 < len(v) && v[i+1] == ',' {
			cur.WriteByte(',')
			i++
			continue
		}
		parts = append(parts, cur.String())
		cur.Reset()
	}
	return append(parts, cur.String())
}

// optionMap returns key=value pairs of an option string. Bare words are
// skipped.
func optionMap(v string) map[string]string {
	opts := map[string]string{}
	for _, part := range splitOptions(v) {
		if k, val, ok := strings.Cut(part, "="); ok {
			opts[k] = val
		}
	}
	return opts
}
