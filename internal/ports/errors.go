package ports

import (
	"fmt"
	"strings"
)

// CollisionError means a port a service needs is already bound.
type CollisionError struct {
	Port    uint16
	Service string
	// Holder describes the conflicting listener when it is known,
	// e.g. "service api".
	Holder string
	Err    error
}

func (e *CollisionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "port %d for service %q is already in use", e.Port, e.Service)
	if e.Holder != "" {
		fmt.Fprintf(&b, " by %s", e.Holder)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CollisionError) Unwrap() error {
	return e.Err
}
