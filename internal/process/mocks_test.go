package process

import (
	"context"
	"strings"
	"sync"

	"github.com/jbweber/kiln/internal/executor"
)

// mockRunner is a mock implementation of executor.Runner for testing.
type mockRunner struct {
	mu sync.Mutex

	runFunc func(name string, args []string) (executor.Result, error)

	calls []string
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		runFunc: func(name string, args []string) (executor.Result, error) {
			return executor.Result{}, nil
		},
	}
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) (executor.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, strings.Join(append([]string{name}, args...), " "))
	return m.runFunc(name, args)
}
