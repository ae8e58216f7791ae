// Package executor runs external programs on behalf of the reconciler.
//
// Every host interaction that is not a plain file operation (qemu-img,
// cloud-localds, ps, kill, ip, the hypervisor binary itself) goes through
// the Runner interface so that callers can be exercised against a recording
// fake in tests.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCommandFailed is matched by every error returned from Exec.Run when the
// program could not be spawned or exited non-zero.
var ErrCommandFailed = errors.New("command failed")

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a single external program to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// CommandError describes a failed invocation. ExitCode is -1 when the
// program never started.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command failed: %s", strings.Join(append([]string{e.Name}, e.Args...), " "))
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s (exit %d)", msg, e.ExitCode)
	}
	if e.Stderr != "" {
		return msg + ": " + e.Stderr
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrCommandFailed.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Exec is the production Runner backed by os/exec.
type Exec struct {
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// New returns an Exec that inherits the caller's environment.
func New() *Exec {
	return &Exec{}
}

// Run executes name with args and waits for it to exit.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if e.Env != nil {
		cmd.Env = e.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return res, nil
	}

	cerr := &CommandError{
		Name:     name,
		Args:     args,
		ExitCode: -1,
		Stderr:   strings.TrimSpace(res.Stderr),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	res.ExitCode = cerr.ExitCode
	return res, cerr
}

// HasCommand reports whether name resolves on PATH.
func HasCommand(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Failed builds a CommandError for a program that exited with code and
// stderr. Fakes use it to produce errors shaped like Exec's.
func Failed(name string, args []string, code int, stderr string) *CommandError {
	return &CommandError{
		Name:     name,
		Args:     args,
		ExitCode: code,
		Stderr:   stderr,
	}
}
