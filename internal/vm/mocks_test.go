package vm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jbweber/kiln/internal/cloudinit"
	"github.com/jbweber/kiln/internal/config"
	"github.com/jbweber/kiln/internal/executor"
	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/naming"
	"github.com/jbweber/kiln/internal/process"
	"github.com/jbweber/kiln/internal/qemu"
	"github.com/jbweber/kiln/internal/resolver"
)

const testPID = 4242

// mockProcessTable is a mock implementation of the processTable interface for testing.
// It keeps a small process table that launches add to and signals remove from.
type mockProcessTable struct {
	mu sync.Mutex

	procs []process.Process

	// Configurable behavior
	exitOnTerm bool
	signalFunc func(pid int, sig string) error

	// Call tracking
	locateCalls []string
	signalCalls []string
	aliveCalls  int
}

func newMockProcessTable() *mockProcessTable {
	m := &mockProcessTable{exitOnTerm: true}

	// Default: TERM stops the process when exitOnTerm is set, KILL always does
	m.signalFunc = func(pid int, sig string) error {
		if sig == process.SigKill || (sig == process.SigTerm && m.exitOnTerm) {
			m.drop(pid)
		}
		return nil
	}
	return m
}

// add puts a hypervisor process into the table.
func (m *mockProcessTable) add(args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs = append(m.procs, process.Process{PID: testPID, Args: args})
}

// drop must be called with mu held.
func (m *mockProcessTable) drop(pid int) {
	kept := m.procs[:0]
	for _, p := range m.procs {
		if p.PID != pid {
			kept = append(kept, p)
		}
	}
	m.procs = kept
}

func (m *mockProcessTable) Locate(_ context.Context, name string) (process.Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locateCalls = append(m.locateCalls, name)
	for _, p := range m.procs {
		if process.MatchesIdentity(p.Args, "", name) {
			return p, true
		}
	}
	return process.Process{}, false
}

func (m *mockProcessTable) Signal(_ context.Context, pid int, sig string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalCalls = append(m.signalCalls, sig)
	return m.signalFunc(pid, sig)
}

func (m *mockProcessTable) Alive(_ context.Context, pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliveCalls++
	for _, p := range m.procs {
		if p.PID == pid {
			return true
		}
	}
	return false
}

// mockDisks is a mock implementation of the diskProvisioner interface for testing.
type mockDisks struct {
	mu sync.Mutex

	files map[string]bool

	// Configurable behavior
	ensureFunc func(path string, sizeGB int) (bool, error)

	// Call tracking
	ensureCalls []string
	removeCalls []string
}

func newMockDisks() *mockDisks {
	m := &mockDisks{files: map[string]bool{}}

	// Default: create the file if it is missing
	m.ensureFunc = func(path string, _ int) (bool, error) {
		if m.files[path] {
			return false, nil
		}
		m.files[path] = true
		return true, nil
	}
	return m
}

func (m *mockDisks) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[path]
}

func (m *mockDisks) Ensure(_ context.Context, path string, sizeGB int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls = append(m.ensureCalls, path)
	return m.ensureFunc(path, sizeGB)
}

func (m *mockDisks) Remove(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls = append(m.removeCalls, path)
	existed := m.files[path]
	delete(m.files, path)
	return existed, nil
}

// mockPackager is a mock implementation of the seedPackager interface for testing.
type mockPackager struct {
	mu sync.Mutex

	// Configurable behavior
	packageFunc func(vmName, imagePath string, doc cloudinit.Document) (*cloudinit.Artifacts, error)

	// Call tracking
	packageCalls []string
}

func newMockPackager(disks *mockDisks) *mockPackager {
	m := &mockPackager{}

	// Default: the seed volume appears beside the image
	m.packageFunc = func(vmName, imagePath string, _ cloudinit.Document) (*cloudinit.Artifacts, error) {
		iso := naming.SeedISOPath(imagePath, vmName)
		disks.mu.Lock()
		disks.files[iso] = true
		disks.mu.Unlock()
		return &cloudinit.Artifacts{ISO: iso}, nil
	}
	return m
}

func (m *mockPackager) Package(_ context.Context, vmName, imagePath string, doc cloudinit.Document) (*cloudinit.Artifacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packageCalls = append(m.packageCalls, vmName)
	return m.packageFunc(vmName, imagePath, doc)
}

// mockRunner is a mock implementation of executor.Runner for testing.
type mockRunner struct {
	mu sync.Mutex

	// Configurable behavior
	runFunc func(name string, args []string) (executor.Result, error)

	// Call tracking
	calls []string
}

func newMockRunner(procs *mockProcessTable) *mockRunner {
	m := &mockRunner{}

	// Default: launching a hypervisor adds it to the process table
	m.runFunc = func(name string, args []string) (executor.Result, error) {
		if strings.HasPrefix(name, "qemu-system-") {
			procs.add(append([]string{name}, args...))
		}
		return executor.Result{}, nil
	}
	return m
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) (executor.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, strings.Join(append([]string{name}, args...), " "))
	return m.runFunc(name, args)
}

// mockResolver is a mock implementation of the addressResolver interface for testing.
type mockResolver struct {
	mu sync.Mutex

	ip string

	resolveCalls []resolver.Target
	waitCalls    []time.Duration
}

func (m *mockResolver) Resolve(_ context.Context, t resolver.Target) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveCalls = append(m.resolveCalls, t)
	return m.ip, m.ip != ""
}

func (m *mockResolver) ResolveWithWait(_ context.Context, t resolver.Target, timeout time.Duration) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveCalls = append(m.resolveCalls, t)
	m.waitCalls = append(m.waitCalls, timeout)
	return m.ip, m.ip != ""
}

// testEnv bundles a Controller with the mocks behind it.
type testEnv struct {
	c        *Controller
	procs    *mockProcessTable
	disks    *mockDisks
	seeds    *mockPackager
	runner   *mockRunner
	resolver *mockResolver
	probes   []string
}

func newTestEnv() *testEnv {
	env := &testEnv{
		procs:    newMockProcessTable(),
		disks:    newMockDisks(),
		resolver: &mockResolver{},
	}
	env.seeds = newMockPackager(env.disks)
	env.runner = newMockRunner(env.procs)
	env.c = &Controller{
		procs:    env.procs,
		disks:    env.disks,
		seeds:    env.seeds,
		builder:  qemu.NewBuilder(),
		runner:   env.runner,
		resolver: env.resolver,
		probeSSH: func(_ context.Context, addr string) error {
			env.probes = append(env.probes, addr)
			return nil
		},
		log:         logging.Discard(),
		stopTimeout: 50 * time.Millisecond,
		stopPoll:    5 * time.Millisecond,
		sshPoll:     5 * time.Millisecond,
	}
	return env
}

// running puts spec's VM into the process table as if launched earlier.
func (env *testEnv) running(t *testing.T, spec *config.VMSpec) {
	t.Helper()
	plan, err := qemu.NewBuilder().Build(spec, qemu.Inputs{})
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	env.procs.add(plan.Args)
	env.disks.files[spec.Image] = true
}

// testSpec returns a normalized user-mode spec with a fixed SSH port.
func testSpec(t *testing.T, mutate func(s *config.VMSpec)) *config.VMSpec {
	t.Helper()
	s := &config.VMSpec{
		Name:       "web",
		State:      config.StateStarted,
		Image:      "/var/lib/kiln/web.qcow2",
		SSHPort:    2222,
		RuntimeDir: t.TempDir(),
	}
	s.Normalize()
	if mutate != nil {
		mutate(s)
	}
	return s
}
