package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// Error classes callers match with errors.Is.
var (
	// ErrRuntimeUnavailable means the Docker daemon (or the docker CLI) cannot be reached.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrNotFound means the container, image or exec the call referred to does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNetworkNotFound means the project network does not exist.
	ErrNetworkNotFound = errors.New("network not found")
	// ErrAlreadyAttached means the container is already connected to the network.
	ErrAlreadyAttached = errors.New("container already attached to network")
)

// Error carries both the classification and the underlying runtime error so
// that errors.Is works for either.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// classify maps an Engine API error onto the package error classes. Errors it
// does not recognise are wrapped with the operation name only.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case client.IsErrConnectionFailed(err), isDaemonUnreachableMessage(err.Error()):
		return &Error{Kind: ErrRuntimeUnavailable, Op: op, Err: err}
	case errdefs.IsNotFound(err):
		return &Error{Kind: ErrNotFound, Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyConnect narrows the "already attached" case of a network connect.
// Only forbidden/conflict responses whose message says the endpoint already
// exists qualify; anything else keeps its own classification.
func classifyConnect(network string, err error) error {
	if err == nil {
		return nil
	}
	op := "connect to network " + network
	if (errdefs.IsForbidden(err) || errdefs.IsConflict(err)) && isAlreadyAttachedMessage(err.Error()) {
		return &Error{Kind: ErrAlreadyAttached, Op: op, Err: err}
	}
	if errdefs.IsNotFound(err) && strings.Contains(strings.ToLower(err.Error()), "network") {
		return &Error{Kind: ErrNetworkNotFound, Op: op, Err: err}
	}
	return classify(op, err)
}

func isAlreadyAttachedMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already exists in network") ||
		strings.Contains(msg, "already attached to network") ||
		strings.Contains(msg, "already connected")
}

func isDaemonUnreachableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "cannot connect to the docker daemon") ||
		strings.Contains(msg, "is the docker daemon running")
}
