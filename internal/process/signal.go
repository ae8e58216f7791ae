package process

import (
	"context"
	"fmt"
	"strconv"
)

const signalTool = "kill"

// Signals understood by kill(1).
const (
	SigTerm  = "TERM"
	SigKill  = "KILL"
	sigProbe = "0"
)

// Signal sends sig to pid through kill(1).
func (l *Locator) Signal(ctx context.Context, pid int, sig string) error {
	if _, err := l.runner.Run(ctx, signalTool, "-"+sig, strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("failed to send SIG%s to %d: %w", sig, pid, err)
	}
	return nil
}

// Alive reports whether pid still exists.
func (l *Locator) Alive(ctx context.Context, pid int) bool {
	_, err := l.runner.Run(ctx, signalTool, "-"+sigProbe, strconv.Itoa(pid))
	return err == nil
}
