package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devenv/internal/infra"
	"devenv/internal/metrics"
	"devenv/internal/orchestrator"
	"devenv/internal/ports"
	"devenv/internal/runtime"
	"devenv/internal/services"
	"devenv/internal/state"
	"devenv/pkg/logging"
)

const runtimePingTimeout = 10 * time.Second

// newDockerRuntime connects to the Docker daemon. Tests replace it.
var newDockerRuntime = func(ctx context.Context) (*runtime.Docker, error) {
	docker, err := runtime.NewDocker()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, runtimePingTimeout)
	defer cancel()
	if err := docker.Ping(ctx); err != nil {
		_ = docker.Close()
		return nil, err
	}
	return docker, nil
}

// Services holds all the initialized collaborators of one run
type Services struct {
	Store        *state.Store
	Docker       *runtime.Docker // nil when the project declares no infra
	Compose      *runtime.Compose
	Supervisor   *services.Supervisor
	Metrics      *metrics.Metrics
	Orchestrator *orchestrator.Orchestrator

	// StopGrace bounds how long each unit gets to stop on shutdown.
	StopGrace time.Duration
}

// InitializeServices opens the state store, connects to the container
// runtime when infra is declared, and builds the orchestrator.
func InitializeServices(cfg *Config, proj *Project, runID string) (*Services, error) {
	projectCfg := proj.Config
	infraNames := projectCfg.InfraNames()

	store, err := state.Open(proj.StateDir)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == ModeUp {
		if err := store.Reconcile(infraNames); err != nil {
			return nil, fmt.Errorf("failed to reconcile project state: %w", err)
		}
	}

	svcs := &Services{
		Store:     store,
		Metrics:   metrics.New(),
		StopGrace: projectCfg.Settings.StopGrace.Std(),
	}

	var (
		network    orchestrator.NetworkManager
		containers infra.ContainerRuntime
		compose    infra.ComposeRunner
	)
	if len(infraNames) > 0 {
		docker, err := newDockerRuntime(context.Background())
		switch {
		case err == nil:
			svcs.Docker = docker
			svcs.Compose = runtime.NewCompose()
			network, containers, compose = docker, docker, svcs.Compose
		case cfg.Mode == ModeUp && cfg.KeepGoing && errors.Is(err, runtime.ErrRuntimeUnavailable):
			// Infra units fail on Start; services that do not depend on them still run.
			logging.Warn("Bootstrap", "Container runtime is not usable, infra will fail to start: %v", err)
			containers, compose = unavailableContainers{err: err}, unavailableCompose{err: err}
		default:
			return nil, fmt.Errorf("infra is declared but the container runtime is not usable: %w", err)
		}
	}

	units := make([]orchestrator.InfraUnit, 0, len(infraNames))
	for _, name := range infraNames {
		infraCfg := projectCfg.Infra[name]
		infraCfg.Compose = projectCfg.ResolvePath(infraCfg.Compose)
		unit, err := infra.NewUnit(infra.Options{
			Name:         name,
			Config:       infraCfg,
			Identity:     proj.Identity,
			ProjectDir:   proj.Identity.Dir,
			RunID:        runID,
			ServiceNames: projectCfg.ServiceNames(),
			ReadyTimeout: projectCfg.InfraReadyTimeout(name),
			StopGrace:    projectCfg.Settings.StopGrace.Std(),
		}, infra.Deps{
			Containers: containers,
			Compose:    compose,
			Store:      store,
			Metrics:    svcs.Metrics,
		})
		if err != nil {
			svcs.Close()
			return nil, err
		}
		units = append(units, unit)
	}

	svcs.Supervisor = services.NewSupervisor(proj.Identity.Name, proj.Identity.Dir, ports.NewAllocator(), svcs.Metrics)

	svcs.Orchestrator = orchestrator.New(orchestrator.Config{
		Project:   projectCfg,
		Identity:  proj.Identity,
		Infra:     units,
		Services:  svcs.Supervisor,
		Network:   network,
		Metrics:   svcs.Metrics,
		KeepGoing: cfg.KeepGoing,
	})

	logging.Debug("Bootstrap", "Initialized %d infra unit(s) and %d service(s)", len(units), len(projectCfg.Services))
	return svcs, nil
}

// Close releases the runtime connection.
func (s *Services) Close() {
	if s.Docker != nil {
		if err := s.Docker.Close(); err != nil {
			logging.Debug("Bootstrap", "Closing docker client: %v", err)
		}
	}
}

// unavailableContainers and unavailableCompose stand in for the container
// runtime when it cannot be reached. Every operation fails with the
// connection error.
type unavailableContainers struct {
	err error
}

func (u unavailableContainers) EnsureContainer(context.Context, runtime.ContainerSpec) (string, error) {
	return "", u.err
}

func (u unavailableContainers) Exec(context.Context, string, []string) (runtime.ExecResult, error) {
	return runtime.ExecResult{}, u.err
}

func (u unavailableContainers) StopContainer(context.Context, string, time.Duration) error {
	return u.err
}

func (u unavailableContainers) RemoveContainer(context.Context, string) error {
	return u.err
}

func (u unavailableContainers) ConnectContainer(context.Context, string, string, []string) error {
	return u.err
}

type unavailableCompose struct {
	err error
}

func (u unavailableCompose) Up(context.Context, runtime.ComposeProject) error {
	return u.err
}

func (u unavailableCompose) PS(context.Context, runtime.ComposeProject) ([]runtime.ComposeService, error) {
	return nil, u.err
}

func (u unavailableCompose) Exec(context.Context, runtime.ComposeProject, string, string) (runtime.ExecResult, error) {
	return runtime.ExecResult{}, u.err
}

func (u unavailableCompose) Stop(context.Context, runtime.ComposeProject) error {
	return u.err
}

func (u unavailableCompose) Down(context.Context, runtime.ComposeProject) error {
	return u.err
}
