package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"devenv/internal/ports"
	"devenv/pkg/logging"
)

const tailLines = 40

var (
	execCommand       = exec.Command
	readyPollInterval = 100 * time.Millisecond
)

// ExitError means the process ended before it became ready.
type ExitError struct {
	Service string
	Err     error
	Output  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("service %s exited before becoming ready", e.Service)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ReadyTimeoutError means nothing accepted connections on the port in time.
type ReadyTimeoutError struct {
	Service string
	Port    uint16
	Timeout time.Duration
}

func (e *ReadyTimeoutError) Error() string {
	return fmt.Sprintf("service %s did not accept connections on port %d within %s", e.Service, e.Port, e.Timeout)
}

// Process is one running service command.
type Process struct {
	spec      Spec
	subsystem string
	cmd       *exec.Cmd
	pid       int
	done      chan struct{}

	mu      sync.Mutex
	tail    []string
	waitErr error
}

// Spawn starts spec.Command in a new process group and begins streaming its
// output. It does not wait for readiness.
func Spawn(spec Spec) (*Process, error) {
	cmd := execCommand("sh", "-c", spec.Command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", spec.Name, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdoutPipe.Close()
		return nil, fmt.Errorf("stderr pipe for %s: %w", spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		stdoutPipe.Close()
		stderrPipe.Close()
		return nil, fmt.Errorf("failed to start service %s (%s): %w", spec.Name, spec.Command, err)
	}

	p := &Process{
		spec:      spec,
		subsystem: "svc-" + spec.Name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		done:      make(chan struct{}),
	}
	logging.Debug(p.subsystem, "Started (PID %d, port %d)", p.pid, spec.Port)

	var streams sync.WaitGroup
	streams.Add(2)
	go p.stream(&streams, stdoutPipe, false)
	go p.stream(&streams, stderrPipe, true)

	go func() {
		// Pipes must be drained before Wait closes them.
		streams.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		if err != nil {
			logging.Debug(p.subsystem, "Exited: %v", err)
		} else {
			logging.Debug(p.subsystem, "Exited")
		}
		close(p.done)
	}()

	return p, nil
}

func buildEnv(spec Spec) []string {
	env := os.Environ()
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+spec.Env[k])
	}
	env = append(env,
		"PORT="+strconv.Itoa(int(spec.Port)),
		"DEVENV_PROJECT="+spec.Project,
	)
	return env
}

func (p *Process) stream(wg *sync.WaitGroup, r io.Reader, stderr bool) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > tailLines {
			p.tail = p.tail[len(p.tail)-tailLines:]
		}
		p.mu.Unlock()
		if stderr {
			logging.Warn(p.subsystem, "%s", line)
		} else {
			logging.Info(p.subsystem, "%s", line)
		}
	}
}

// PID is the process (and process group) ID.
func (p *Process) PID() int {
	return p.pid
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err is the wait error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Output returns the most recent output lines.
func (p *Process) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, "\n")
}

// WaitReady dials the service port until it accepts a connection, the
// process exits, or timeout passes.
func (p *Process) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort("localhost", strconv.Itoa(int(p.spec.Port)))
	dialer := net.Dialer{Timeout: time.Second}
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			logging.Debug(p.subsystem, "Accepting connections on %s", addr)
			return nil
		}

		select {
		case <-p.done:
			return p.exitError()
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &ReadyTimeoutError{Service: p.spec.Name, Port: p.spec.Port, Timeout: timeout}
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// exitError describes an exit before readiness. A bind failure in the output
// becomes a port collision.
func (p *Process) exitError() error {
	output := p.Output()
	exitErr := &ExitError{Service: p.spec.Name, Err: p.Err(), Output: output}
	if strings.Contains(strings.ToLower(output), "address already in use") {
		return &ports.CollisionError{Port: p.spec.Port, Service: p.spec.Name, Err: exitErr}
	}
	return exitErr
}

// Stop interrupts the process group and kills it if it is still alive after
// grace. It returns once the process has exited.
func (p *Process) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	logging.Debug(p.subsystem, "Sending SIGINT to process group %d", p.pid)
	if err := syscall.Kill(-p.pid, syscall.SIGINT); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to interrupt service %s: %w", p.spec.Name, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	logging.Warn(p.subsystem, "Did not exit within %s, sending SIGKILL", grace)
	if err := syscall.Kill(-p.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill service %s: %w", p.spec.Name, err)
	}
	<-p.done
	return nil
}
