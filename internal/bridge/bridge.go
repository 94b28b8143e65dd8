// Package bridge attaches compose-managed containers to the project network so
// that they resolve each other and the standalone infra by name.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"devenv/internal/runtime"
	"devenv/pkg/logging"
)

// Attacher connects a container to a network under the given aliases.
type Attacher interface {
	ConnectContainer(ctx context.Context, network, containerID string, aliases []string) error
}

// ContainerFailure is one container that could not be attached.
type ContainerFailure struct {
	Container string
	Service   string
	Err       error
}

// AttachError collects the per-container failures of one bridging pass.
type AttachError struct {
	Network  string
	Failures []ContainerFailure
}

func (e *AttachError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", f.Container, f.Service, f.Err))
	}
	return fmt.Sprintf("failed to attach %d container(s) to network %s: %s", len(e.Failures), e.Network, strings.Join(parts, "; "))
}

func (e *AttachError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Bridge connects every container to network with its compose service name as
// alias. Containers that are already attached are skipped. An unavailable
// runtime or a missing network aborts the pass; any other failure is recorded
// and the remaining containers are still attempted.
func Bridge(ctx context.Context, attacher Attacher, network string, containers []runtime.ComposeService) error {
	var failures []ContainerFailure
	for _, c := range containers {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := c.Name
		if name == "" {
			name = c.ID
		}

		err := attacher.ConnectContainer(ctx, network, c.ID, []string{c.Service})
		switch {
		case err == nil:
			logging.Debug("Bridge", "Attached %s to %s as %s", name, network, c.Service)
		case errors.Is(err, runtime.ErrAlreadyAttached):
			logging.Debug("Bridge", "%s already attached to %s", name, network)
		case errors.Is(err, runtime.ErrRuntimeUnavailable), errors.Is(err, runtime.ErrNetworkNotFound):
			return fmt.Errorf("bridging %s onto %s: %w", name, network, err)
		default:
			logging.Warn("Bridge", "Failed to attach %s to %s: %v", name, network, err)
			failures = append(failures, ContainerFailure{Container: name, Service: c.Service, Err: err})
		}
	}
	if len(failures) > 0 {
		return &AttachError{Network: network, Failures: failures}
	}
	return nil
}
