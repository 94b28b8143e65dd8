package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"devenv/pkg/logging"
)

// commandFunc runs the docker CLI with args in dir and returns its stdout and
// stderr separately.
type commandFunc func(ctx context.Context, dir string, args ...string) (stdout, stderr []byte, err error)

// Compose drives compose sub-projects through the docker compose CLI.
type Compose struct {
	run commandFunc
}

// NewCompose returns a runner that shells out to the docker binary on PATH.
func NewCompose() *Compose {
	return &Compose{run: runDockerCLI}
}

func runDockerCLI(ctx context.Context, dir string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func baseArgs(p ComposeProject) []string {
	return []string{"compose", "-p", p.Name, "-f", p.File}
}

// Up starts the project (or its declared service subset) detached.
func (c *Compose) Up(ctx context.Context, p ComposeProject) error {
	args := append(baseArgs(p), "up", "-d")
	args = append(args, p.Services...)
	logging.Info("Compose", "Bringing up compose project %s", p.Name)
	_, err := c.invoke(ctx, p, "up", args)
	return err
}

// PS lists the project's containers. It accepts both the JSON array printed by
// older compose releases and the one-object-per-line form of newer ones.
func (c *Compose) PS(ctx context.Context, p ComposeProject) ([]ComposeService, error) {
	args := append(baseArgs(p), "ps", "--format", "json")
	out, err := c.invoke(ctx, p, "ps", args)
	if err != nil {
		return nil, err
	}
	all, err := parsePS(out)
	if err != nil {
		return nil, fmt.Errorf("compose ps for %s: %w", p.Name, err)
	}
	if len(p.Services) == 0 {
		return all, nil
	}
	wanted := make(map[string]bool, len(p.Services))
	for _, s := range p.Services {
		wanted[s] = true
	}
	filtered := all[:0]
	for _, svc := range all {
		if wanted[svc.Service] {
			filtered = append(filtered, svc)
		}
	}
	return filtered, nil
}

func parsePS(out []byte) ([]ComposeService, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	if out[0] == '[' {
		var list []ComposeService
		if err := json.Unmarshal(out, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var list []ComposeService
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var svc ComposeService
		if err := json.Unmarshal(line, &svc); err != nil {
			return nil, err
		}
		list = append(list, svc)
	}
	return list, scanner.Err()
}

// Exec runs script with sh -c inside service without a TTY. A non-zero exit
// is reported in the result, not as an error.
func (c *Compose) Exec(ctx context.Context, p ComposeProject, service, script string) (ExecResult, error) {
	args := append(baseArgs(p), "exec", "-T", service, "sh", "-c", script)
	stdout, stderr, err := c.run(ctx, p.Dir, args...)
	output := string(stdout) + string(stderr)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !isDaemonUnreachableMessage(string(stderr)) {
		return ExecResult{ExitCode: exitErr.ExitCode(), Output: output}, nil
	}
	if err != nil {
		return ExecResult{}, c.wrap(p, "exec", err, stderr)
	}
	return ExecResult{ExitCode: 0, Output: output}, nil
}

// Stop stops the project's containers and keeps them (and their data).
func (c *Compose) Stop(ctx context.Context, p ComposeProject) error {
	_, err := c.invoke(ctx, p, "stop", append(baseArgs(p), "stop"))
	return err
}

// Down removes the project's containers and its default network.
func (c *Compose) Down(ctx context.Context, p ComposeProject) error {
	_, err := c.invoke(ctx, p, "down", append(baseArgs(p), "down"))
	return err
}

func (c *Compose) invoke(ctx context.Context, p ComposeProject, op string, args []string) ([]byte, error) {
	logging.Debug("Compose", "docker %s", strings.Join(args, " "))
	stdout, stderr, err := c.run(ctx, p.Dir, args...)
	if err != nil {
		return nil, c.wrap(p, op, err, stderr)
	}
	return stdout, nil
}

func (c *Compose) wrap(p ComposeProject, op string, err error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	opName := fmt.Sprintf("compose %s %s", op, p.Name)
	if errors.Is(err, exec.ErrNotFound) || isDaemonUnreachableMessage(msg) {
		return &Error{Kind: ErrRuntimeUnavailable, Op: opName, Err: withStderr(err, msg)}
	}
	return fmt.Errorf("%s: %w", opName, withStderr(err, msg))
}

func withStderr(err error, msg string) error {
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}
