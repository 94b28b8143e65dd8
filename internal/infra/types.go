// Package infra runs the per-infra lifecycle: provision the container or
// compose project, run its init scripts exactly once across invocations, and
// keep it running until the run ends.
package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"devenv/internal/runtime"
)

// Phase is the initialisation state of one infra unit.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseInitialized
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "Uninitialized"
	case PhaseInitializing:
		return "Initializing"
	case PhaseInitialized:
		return "Initialized"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ContainerRuntime is the Engine API surface standalone containers need.
type ContainerRuntime interface {
	EnsureContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error)
	Exec(ctx context.Context, containerID string, cmd []string) (runtime.ExecResult, error)
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, nameOrID string) error
	ConnectContainer(ctx context.Context, network, containerID string, aliases []string) error
}

// ComposeRunner is the docker compose surface compose projects need.
type ComposeRunner interface {
	Up(ctx context.Context, p runtime.ComposeProject) error
	PS(ctx context.Context, p runtime.ComposeProject) ([]runtime.ComposeService, error)
	Exec(ctx context.Context, p runtime.ComposeProject, service, script string) (runtime.ExecResult, error)
	Stop(ctx context.Context, p runtime.ComposeProject) error
	Down(ctx context.Context, p runtime.ComposeProject) error
}

// InitStore is the part of the state store the lifecycle reads and writes.
type InitStore interface {
	IsInitialized(name string) bool
	MarkInitialized(name string) error
}

// InitScriptError reports the init script that failed. A script that could
// not be run at all has ExitCode -1 and Err set.
type InitScriptError struct {
	Infra    string
	Script   string
	ExitCode int
	Output   string
	Err      error
}

func (e *InitScriptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "init script %q for infra %s failed", e.Script, e.Infra)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func (e *InitScriptError) Unwrap() error {
	return e.Err
}

// ReadyTimeoutError means the ready command did not succeed in time.
type ReadyTimeoutError struct {
	Infra   string
	Command string
	Timeout time.Duration
	Last    string
}

func (e *ReadyTimeoutError) Error() string {
	msg := fmt.Sprintf("infra %s not ready after %s (ready %q)", e.Infra, e.Timeout, e.Command)
	if last := strings.TrimSpace(e.Last); last != "" {
		msg += ": " + last
	}
	return msg
}
