package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/kiln/internal/executor"
)

const listing = `    1 /sbin/init
  812 /usr/sbin/sshd -D
 4242 qemu-system-x86_64 -name web2 -m 2048 -smp 2 -daemonize
 4300 /usr/bin/qemu-system-x86_64 -name web -m 1024 -smp 1 -daemonize
 4400 vim notes-about-qemu-system-x86_64 -name web
 4500 qemu-system-aarch64 -name guest=db,debug-threads=on -m 512
garbage line
`

func TestParseListing(t *testing.T) {
	procs := ParseListing(listing)
	require.Len(t, procs, 6)
	assert.Equal(t, 1, procs[0].PID)
	assert.Equal(t, []string{"/sbin/init"}, procs[0].Args)
	assert.Equal(t, 4300, procs[3].PID)
	assert.Equal(t, "/usr/bin/qemu-system-x86_64", procs[3].Args[0])
}

func TestMatchesIdentity(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		binary string
		vm     string
		want   bool
	}{
		{
			name:   "exact name",
			args:   []string{"qemu-system-x86_64", "-name", "web", "-m", "1024"},
			binary: "qemu-system-x86_64",
			vm:     "web",
			want:   true,
		},
		{
			name:   "prefix of another name does not match",
			args:   []string{"qemu-system-x86_64", "-name", "web2"},
			binary: "qemu-system-x86_64",
			vm:     "web",
			want:   false,
		},
		{
			name:   "longer name does not match shorter process",
			args:   []string{"qemu-system-x86_64", "-name", "web"},
			binary: "qemu-system-x86_64",
			vm:     "web2",
			want:   false,
		},
		{
			name:   "guest= keyed form",
			args:   []string{"qemu-system-aarch64", "-name", "guest=db,debug-threads=on"},
			binary: "qemu-system-x86_64",
			vm:     "db",
			want:   true,
		},
		{
			name:   "trailing options after comma",
			args:   []string{"/usr/bin/qemu-system-x86_64", "-name", "web,process=web"},
			binary: "qemu-system-x86_64",
			vm:     "web",
			want:   true,
		},
		{
			name:   "custom binary by base name",
			args:   []string{"/opt/qemu/bin/qemu-kvm", "-name", "web"},
			binary: "/usr/libexec/qemu-kvm",
			vm:     "web",
			want:   true,
		},
		{
			name:   "not a hypervisor",
			args:   []string{"vim", "-name", "web"},
			binary: "qemu-system-x86_64",
			vm:     "web",
			want:   false,
		},
		{
			name:   "name only appears elsewhere",
			args:   []string{"qemu-system-x86_64", "-drive", "file=/srv/web.qcow2"},
			binary: "qemu-system-x86_64",
			vm:     "web",
			want:   false,
		},
		{
			name:   "-name is last token",
			args:   []string{"qemu-system-x86_64", "-name"},
			binary: "qemu-system-x86_64",
			vm:     "web",
			want:   false,
		},
		{
			name: "empty args",
			vm:   "web",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesIdentity(tt.args, tt.binary, tt.vm))
		})
	}
}

func TestLocate(t *testing.T) {
	runner := newMockRunner()
	runner.runFunc = func(name string, args []string) (executor.Result, error) {
		return executor.Result{Stdout: listing}, nil
	}
	l := NewLocator(runner, "qemu-system-x86_64", nil)

	p, ok := l.Locate(context.Background(), "web")
	require.True(t, ok)
	assert.Equal(t, 4300, p.PID)

	p, ok = l.Locate(context.Background(), "web2")
	require.True(t, ok)
	assert.Equal(t, 4242, p.PID)

	_, ok = l.Locate(context.Background(), "missing")
	assert.False(t, ok)

	assert.Equal(t, "ps -eo pid=,args=", runner.calls[0])
}

func TestLocate_ListingFailureIsNotRunning(t *testing.T) {
	runner := newMockRunner()
	runner.runFunc = func(name string, args []string) (executor.Result, error) {
		return executor.Result{}, executor.Failed(name, args, 1, "ps: permission denied")
	}
	l := NewLocator(runner, "qemu-system-x86_64", nil)

	_, ok := l.Locate(context.Background(), "web")
	assert.False(t, ok)
}

func TestSignalAndAlive(t *testing.T) {
	runner := newMockRunner()
	runner.runFunc = func(name string, args []string) (executor.Result, error) {
		if args[0] == "-0" && args[1] == "99" {
			return executor.Result{}, executor.Failed(name, args, 1, "no such process")
		}
		return executor.Result{}, nil
	}
	l := NewLocator(runner, "qemu-system-x86_64", nil)
	ctx := context.Background()

	require.NoError(t, l.Signal(ctx, 4300, SigTerm))
	assert.True(t, l.Alive(ctx, 4300))
	assert.False(t, l.Alive(ctx, 99))
	assert.Equal(t, []string{"kill -TERM 4300", "kill -0 4300", "kill -0 99"}, runner.calls)
}

func TestSignal_Failure(t *testing.T) {
	runner := newMockRunner()
	runner.runFunc = func(name string, args []string) (executor.Result, error) {
		return executor.Result{}, executor.Failed(name, args, 1, "operation not permitted")
	}
	l := NewLocator(runner, "qemu-system-x86_64", nil)

	err := l.Signal(context.Background(), 1, SigKill)
	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrCommandFailed)
	assert.Contains(t, err.Error(), "SIGKILL")
}
