package infra

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"devenv/internal/bridge"
	"devenv/internal/config"
	"devenv/internal/metrics"
	"devenv/internal/project"
	"devenv/internal/runtime"
	"devenv/pkg/logging"
)

const defaultPollInterval = 500 * time.Millisecond

// Options describes one infra unit.
type Options struct {
	Name         string
	Config       config.InfraConfig
	Identity     project.Identity
	ProjectDir   string
	RunID        string
	ServiceNames []string // published to containers as host-gateway aliases
	ReadyTimeout time.Duration
	StopGrace    time.Duration
}

// Deps are the collaborators a unit drives. Containers is required for
// container units, Compose for compose units.
type Deps struct {
	Containers ContainerRuntime
	Compose    ComposeRunner
	Store      InitStore
	Metrics    *metrics.Metrics
}

// Unit is the lifecycle of one infra block.
type Unit struct {
	opts      Options
	deps      Deps
	subsystem string

	hostExec     hostExecFunc
	pollInterval time.Duration

	mu              sync.Mutex
	phase           Phase
	running         bool
	containerID     string
	composeServices []runtime.ComposeService
}

// NewUnit validates that the collaborators needed for the unit's kind are present.
func NewUnit(opts Options, deps Deps) (*Unit, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("infra %s: no state store", opts.Name)
	}
	switch opts.Config.Kind() {
	case config.InfraKindContainer:
		if deps.Containers == nil {
			return nil, fmt.Errorf("infra %s: no container runtime", opts.Name)
		}
	case config.InfraKindCompose:
		if deps.Compose == nil {
			return nil, fmt.Errorf("infra %s: no compose runner", opts.Name)
		}
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = config.DefaultReadyTimeout
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = config.DefaultStopGrace
	}
	return &Unit{
		opts:         opts,
		deps:         deps,
		subsystem:    "Infra-" + opts.Name,
		hostExec:     runOnHost,
		pollInterval: defaultPollInterval,
	}, nil
}

func (u *Unit) Name() string {
	return u.opts.Name
}

func (u *Unit) Kind() config.InfraKind {
	return u.opts.Config.Kind()
}

// Phase returns the current initialisation phase.
func (u *Unit) Phase() Phase {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase
}

// Running reports whether Start brought the unit up and it has not been stopped since.
func (u *Unit) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// ComposeServices returns the containers found after the last compose up.
func (u *Unit) ComposeServices() []runtime.ComposeService {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]runtime.ComposeService, len(u.composeServices))
	copy(out, u.composeServices)
	return out
}

func (u *Unit) setPhase(p Phase) {
	u.mu.Lock()
	u.phase = p
	u.mu.Unlock()
	logging.Debug(u.subsystem, "Phase %s", p)
}

// Start brings the unit to running. When the persisted flag is false it also
// waits for readiness, runs the init scripts in order, and persists the flag
// before returning. Any failure on that path leaves the flag false.
//
// For an uninitialized unit, provisioning counts as part of init: a failure
// to create the container or bring the compose project up drops the phase
// back to Uninitialized and records an init failure, the same as a failing
// init script.
func (u *Unit) Start(ctx context.Context) error {
	name := u.opts.Name
	initialized := u.deps.Store.IsInitialized(name)
	if initialized {
		u.setPhase(PhaseInitialized)
	} else {
		u.setPhase(PhaseInitializing)
	}

	fail := func(err error) error {
		if !initialized {
			u.setPhase(PhaseUninitialized)
			u.deps.Metrics.InfraInit(name, string(u.Kind()), metrics.OutcomeFailure)
		}
		return err
	}

	if err := u.ensureRunning(ctx); err != nil {
		return fail(fmt.Errorf("infra %s: %w", name, err))
	}
	if err := u.waitReady(ctx); err != nil {
		return fail(err)
	}

	if initialized {
		logging.Info(u.subsystem, "Already initialized, skipping init scripts")
		u.deps.Metrics.InfraInit(name, string(u.Kind()), metrics.OutcomeSkipped)
		return nil
	}

	if err := u.runInit(ctx); err != nil {
		return fail(err)
	}
	if err := u.deps.Store.MarkInitialized(name); err != nil {
		return fail(fmt.Errorf("infra %s: failed to persist init state: %w", name, err))
	}
	u.setPhase(PhaseInitialized)
	u.deps.Metrics.InfraInit(name, string(u.Kind()), metrics.OutcomeSuccess)
	logging.Info(u.subsystem, "Initialized (%d init script(s))", len(u.opts.Config.Init))
	return nil
}

func (u *Unit) ensureRunning(ctx context.Context) error {
	switch u.Kind() {
	case config.InfraKindContainer:
		id, err := u.deps.Containers.EnsureContainer(ctx, u.containerSpec())
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.containerID = id
		u.running = true
		u.mu.Unlock()
		logging.Info(u.subsystem, "Container %s running", u.opts.Identity.ContainerName(u.opts.Name))
	case config.InfraKindCompose:
		p := u.composeProject()
		if err := u.deps.Compose.Up(ctx, p); err != nil {
			return err
		}
		services, err := u.deps.Compose.PS(ctx, p)
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.composeServices = services
		u.running = true
		u.mu.Unlock()
		logging.Info(u.subsystem, "Compose project %s up with %d container(s)", p.Name, len(services))
	default:
		return fmt.Errorf("unsupported infra kind %q", u.Kind())
	}
	return nil
}

func (u *Unit) containerSpec() runtime.ContainerSpec {
	cfg := u.opts.Config
	extraHosts := []string{"host.docker.internal:host-gateway"}
	for _, svc := range u.opts.ServiceNames {
		extraHosts = append(extraHosts, svc+":host-gateway")
	}
	volumes := make([]string, 0, len(cfg.Volumes))
	for _, v := range cfg.Volumes {
		volumes = append(volumes, u.resolveBind(v))
	}
	return runtime.ContainerSpec{
		Name:       u.opts.Identity.ContainerName(u.opts.Name),
		Image:      cfg.Image,
		Cmd:        cfg.Command,
		Env:        cfg.Env,
		Ports:      cfg.Ports,
		Volumes:    volumes,
		Labels:     u.opts.Identity.Labels(u.opts.Name, u.opts.RunID),
		Network:    u.opts.Identity.NetworkName(),
		Aliases:    []string{u.opts.Name},
		ExtraHosts: extraHosts,
	}
}

// resolveBind makes relative host paths in a bind mount absolute against the
// project directory. Named volumes are left alone.
func (u *Unit) resolveBind(v string) string {
	source, rest, ok := strings.Cut(v, ":")
	if !ok || !(strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../") || source == ".") {
		return v
	}
	return filepath.Join(u.opts.ProjectDir, source) + ":" + rest
}

func (u *Unit) composeProject() runtime.ComposeProject {
	return runtime.ComposeProject{
		Name:     u.opts.Identity.ComposeProject(u.opts.Name),
		File:     u.opts.Config.Compose,
		Dir:      u.opts.ProjectDir,
		Services: u.opts.Config.Services,
	}
}

// runScript runs one script where the unit's scripts belong: inside the
// container, inside the compose init service, or on the host.
func (u *Unit) runScript(ctx context.Context, script string) (runtime.ExecResult, error) {
	switch u.Kind() {
	case config.InfraKindContainer:
		u.mu.Lock()
		id := u.containerID
		u.mu.Unlock()
		return u.deps.Containers.Exec(ctx, id, []string{"sh", "-c", script})
	case config.InfraKindCompose:
		p := u.composeProject()
		if svc := u.opts.Config.InitService; svc != "" {
			return u.deps.Compose.Exec(ctx, p, svc, script)
		}
		env := []string{
			"COMPOSE_PROJECT_NAME=" + p.Name,
			"COMPOSE_FILE=" + p.File,
			"DEVENV_PROJECT=" + u.opts.Identity.Name,
		}
		return u.hostExec(ctx, u.opts.ProjectDir, env, script)
	}
	return runtime.ExecResult{}, fmt.Errorf("unsupported infra kind %q", u.Kind())
}

func (u *Unit) runInit(ctx context.Context) error {
	for i, script := range u.opts.Config.Init {
		logging.Info(u.subsystem, "Running init script %d/%d", i+1, len(u.opts.Config.Init))
		res, err := u.runScript(ctx, script)
		if err != nil {
			return &InitScriptError{Infra: u.opts.Name, Script: script, ExitCode: -1, Err: err}
		}
		if res.ExitCode != 0 {
			return &InitScriptError{Infra: u.opts.Name, Script: script, ExitCode: res.ExitCode, Output: res.Output}
		}
		for _, line := range strings.Split(strings.TrimSpace(res.Output), "\n") {
			if line != "" {
				logging.Debug(u.subsystem, "init: %s", line)
			}
		}
	}
	return nil
}

// waitReady polls the ready command until it exits 0 or the timeout passes.
func (u *Unit) waitReady(ctx context.Context) error {
	command := u.opts.Config.Ready
	if command == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, u.opts.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(u.pollInterval)
	defer ticker.Stop()

	var last string
	for {
		res, err := u.runScript(ctx, command)
		switch {
		case err == nil && res.ExitCode == 0:
			logging.Debug(u.subsystem, "Ready command succeeded")
			return nil
		case err != nil && errors.Is(err, runtime.ErrRuntimeUnavailable):
			return fmt.Errorf("infra %s: ready command: %w", u.opts.Name, err)
		case err != nil:
			last = err.Error()
		default:
			last = res.Output
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &ReadyTimeoutError{Infra: u.opts.Name, Command: command, Timeout: u.opts.ReadyTimeout, Last: last}
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Bridge attaches a compose unit's containers to the project network. It is a
// no-op for standalone containers, which join the network at creation.
func (u *Unit) Bridge(ctx context.Context) error {
	if u.Kind() != config.InfraKindCompose || u.deps.Containers == nil {
		return nil
	}
	return bridge.Bridge(ctx, u.deps.Containers, u.opts.Identity.NetworkName(), u.ComposeServices())
}

// Stop stops the unit and keeps its containers and data.
func (u *Unit) Stop(ctx context.Context) error {
	var err error
	switch u.Kind() {
	case config.InfraKindContainer:
		err = u.deps.Containers.StopContainer(ctx, u.opts.Identity.ContainerName(u.opts.Name), u.opts.StopGrace)
	case config.InfraKindCompose:
		err = u.deps.Compose.Stop(ctx, u.composeProject())
	}
	if err != nil {
		return fmt.Errorf("infra %s: stop: %w", u.opts.Name, err)
	}
	u.mu.Lock()
	u.running = false
	u.mu.Unlock()
	logging.Info(u.subsystem, "Stopped")
	return nil
}

// Down removes the unit's containers. Named volumes survive, and so does the
// persisted init flag.
func (u *Unit) Down(ctx context.Context) error {
	var err error
	switch u.Kind() {
	case config.InfraKindContainer:
		err = u.deps.Containers.RemoveContainer(ctx, u.opts.Identity.ContainerName(u.opts.Name))
	case config.InfraKindCompose:
		err = u.deps.Compose.Down(ctx, u.composeProject())
	}
	if err != nil {
		return fmt.Errorf("infra %s: down: %w", u.opts.Name, err)
	}
	u.mu.Lock()
	u.running = false
	u.containerID = ""
	u.composeServices = nil
	u.mu.Unlock()
	logging.Info(u.subsystem, "Removed")
	return nil
}
