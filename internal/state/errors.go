package state

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStateNotFound means the project has no persisted state, i.e. it has
// never been started from this directory.
var ErrStateNotFound = errors.New("no state found for project (has it ever been started?)")

// UnknownInfraError is returned when an operator names an infra unit that is
// not present in the state file.
type UnknownInfraError struct {
	Name  string
	Known []string
}

func (e *UnknownInfraError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown infra %q: state has no infra entries", e.Name)
	}
	return fmt.Sprintf("unknown infra %q, known infra: %s", e.Name, strings.Join(e.Known, ", "))
}

// CorruptStateError means the state file exists but could not be decoded.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}
