package infra

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"

	"devenv/internal/runtime"
)

// hostExecFunc runs a shell script on the host in dir.
type hostExecFunc func(ctx context.Context, dir string, env []string, script string) (runtime.ExecResult, error)

// runOnHost runs script with sh -c. A non-zero exit is reported through the
// result; only a failure to launch the shell is an error.
func runOnHost(ctx context.Context, dir string, env []string, script string) (runtime.ExecResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return runtime.ExecResult{ExitCode: exitErr.ExitCode(), Output: out.String()}, nil
	}
	if err != nil {
		return runtime.ExecResult{}, err
	}
	return runtime.ExecResult{Output: out.String()}, nil
}
