package orchestrator

import (
	"errors"
	"fmt"

	"devenv/internal/ports"
)

var errUnknownDependency = errors.New("not a declared infra unit")

// DependencyError means a service was not started because an infra unit it
// depends on failed.
type DependencyError struct {
	Service    string
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("service %s: dependency %s: %v", e.Service, e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func collisionService(err error) string {
	var collision *ports.CollisionError
	if errors.As(err, &collision) {
		return collision.Service
	}
	return ""
}
