// Package process finds and signals hypervisor processes by VM name.
//
// A VM is identified solely by the -name argument on its hypervisor command
// line; there is no pidfile or ledger. The locator never fails: when the
// process table cannot be read the VM is reported as not running.
package process

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/executor"
	"github.com/jbweber/kiln/internal/logging"
)

const (
	listTool = "ps"

	// hypervisorPrefix matches every qemu system emulator regardless of the
	// configured binary.
	hypervisorPrefix = "qemu-system-"
)

// Process is one entry of the host process table.
type Process struct {
	PID  int
	Args []string
}

// Locator scans the process table for a VM's hypervisor process.
type Locator struct {
	runner executor.Runner
	binary string
	log    logrus.FieldLogger
}

// NewLocator returns a Locator matching processes started from binary.
func NewLocator(runner executor.Runner, binary string, log logrus.FieldLogger) *Locator {
	return &Locator{
		runner: runner,
		binary: binary,
		log:    logging.WithComponent(log, "process"),
	}
}

// Locate returns the first hypervisor process carrying name as its identity.
func (l *Locator) Locate(ctx context.Context, name string) (Process, bool) {
	res, err := l.runner.Run(ctx, listTool, "-eo", "pid=,args=")
	if err != nil {
		l.log.Debugf("process listing failed, treating %q as not running: %v", name, err)
		return Process{}, false
	}

	for _, p := range ParseListing(res.Stdout) {
		if MatchesIdentity(p.Args, l.binary, name) {
			return p, true
		}
	}
	return Process{}, false
}

// ParseListing parses "pid args..." lines as printed by ps -eo pid=,args=.
// Malformed lines are skipped.
func ParseListing(out string) []Process {
	var procs []Process
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil || pid <= 0 {
			continue
		}
		procs = append(procs, Process{PID: pid, Args: fields[1:]})
	}
	return procs
}

// MatchesIdentity reports whether args is a hypervisor command line whose
// -name value identifies the VM called name. The comparison is on the whole
// token so that "web" never matches a VM named "web2".
func MatchesIdentity(args []string, binary, name string) bool {
	if len(args) == 0 || name == "" {
		return false
	}
	if !isHypervisor(args[0], binary) {
		return false
	}
	got, ok := IdentityName(args)
	return ok && got == name
}

// IdentityName extracts the VM name from a -name argument. Both the plain
// form (-name web) and the keyed form (-name guest=web,debug-threads=on) are
// understood.
func IdentityName(args []string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] != "-name" {
			continue
		}
		parts := strings.Split(args[i+1], ",")
		for _, part := range parts {
			if v, ok := strings.CutPrefix(part, "guest="); ok {
				return v, true
			}
		}
		if strings.Contains(parts[0], "=") {
			return "", false
		}
		return parts[0], true
	}
	return "", false
}

func isHypervisor(argv0, binary string) bool {
	base := filepath.Base(argv0)
	if binary != "" && base == filepath.Base(binary) {
		return true
	}
	return strings.HasPrefix(base, hypervisorPrefix)
}
