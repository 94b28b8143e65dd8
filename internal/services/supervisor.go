package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"devenv/internal/config"
	"devenv/internal/metrics"
	"devenv/internal/ports"
	"devenv/pkg/logging"
)

// Supervisor starts and stops the services of one run and tracks their records.
type Supervisor struct {
	project    string
	projectDir string
	allocator  *ports.Allocator
	metrics    *metrics.Metrics

	mu      sync.Mutex
	procs   map[string]*Process
	records map[string]*RuntimeRecord
}

// NewSupervisor creates a supervisor for the project named project rooted at projectDir.
func NewSupervisor(project, projectDir string, allocator *ports.Allocator, m *metrics.Metrics) *Supervisor {
	if allocator == nil {
		allocator = ports.NewAllocator()
	}
	return &Supervisor{
		project:    project,
		projectDir: projectDir,
		allocator:  allocator,
		metrics:    m,
		procs:      make(map[string]*Process),
		records:    make(map[string]*RuntimeRecord),
	}
}

// CheckDeclared fails when two services declare the same explicit port.
func (s *Supervisor) CheckDeclared(requested map[string]uint16) error {
	return s.allocator.CheckDeclared(requested)
}

// MarkWaiting records that name is blocked on its dependencies.
func (s *Supervisor) MarkWaiting(name string) {
	s.update(name, func(r *RuntimeRecord) { r.State = StateWaiting })
}

// MarkFailed records a failure that happened before the service was spawned.
func (s *Supervisor) MarkFailed(name string, err error) {
	s.update(name, func(r *RuntimeRecord) {
		r.State = StateFailed
		r.LastError = err
	})
}

// Start resolves a port for the service, spawns it and waits until it accepts
// connections. On failure the process is killed and its port released.
func (s *Supervisor) Start(ctx context.Context, name string, cfg config.ServiceConfig, readyTimeout time.Duration) error {
	subsystem := "svc-" + name
	s.update(name, func(r *RuntimeRecord) { r.State = StateStarting })

	assignment, err := s.allocator.Resolve(name, cfg.Port)
	if err != nil {
		var collision *ports.CollisionError
		if errors.As(err, &collision) {
			s.metrics.PortCollision(name)
		}
		return s.fail(name, err)
	}
	s.update(name, func(r *RuntimeRecord) {
		r.Port = assignment.Port
		r.PortAuto = assignment.Auto
	})
	if assignment.Auto {
		logging.Info(subsystem, "Assigned free port %d", assignment.Port)
	}

	// cfg.Dir arrives resolved against the config file.
	dir := cfg.Dir
	if dir == "" {
		dir = s.projectDir
	}

	proc, err := Spawn(Spec{
		Name:    name,
		Command: cfg.Command,
		Dir:     dir,
		Env:     cfg.Env,
		Port:    assignment.Port,
		Project: s.project,
	})
	if err != nil {
		s.allocator.Release(assignment.Port)
		return s.fail(name, err)
	}
	s.mu.Lock()
	s.procs[name] = proc
	s.mu.Unlock()
	s.update(name, func(r *RuntimeRecord) { r.PID = proc.PID() })

	if err := proc.WaitReady(ctx, readyTimeout); err != nil {
		if stopErr := proc.Stop(0); stopErr != nil {
			logging.Warn(subsystem, "Failed to kill after failed start: %v", stopErr)
		}
		s.allocator.Release(assignment.Port)
		var collision *ports.CollisionError
		if errors.As(err, &collision) {
			s.metrics.PortCollision(name)
		}
		return s.fail(name, err)
	}

	s.update(name, func(r *RuntimeRecord) {
		r.State = StateRunning
		r.StartedAt = time.Now()
	})
	s.metrics.ServiceStart(name, metrics.OutcomeSuccess)
	logging.Info(subsystem, "Running on port %d (PID %d)", assignment.Port, proc.PID())

	go s.watch(name, proc)
	return nil
}

// watch records exits that happen while the service is expected to run.
func (s *Supervisor) watch(name string, proc *Process) {
	<-proc.Done()
	s.update(name, func(r *RuntimeRecord) {
		if r.State == StateStopping || r.State == StateStopped {
			return
		}
		r.State = StateFailed
		r.LastError = proc.Err()
		logging.Warn("svc-"+name, "Exited unexpectedly: %v", proc.Err())
	})
}

func (s *Supervisor) fail(name string, err error) error {
	s.MarkFailed(name, err)
	s.metrics.ServiceStart(name, metrics.OutcomeFailure)
	return fmt.Errorf("service %s: %w", name, err)
}

// Stop stops one service with the given grace period.
func (s *Supervisor) Stop(name string, grace time.Duration) error {
	s.mu.Lock()
	proc, ok := s.procs[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.update(name, func(r *RuntimeRecord) { r.State = StateStopping })
	err := proc.Stop(grace)
	s.update(name, func(r *RuntimeRecord) {
		r.State = StateStopped
		if r.Port != 0 {
			s.allocator.Release(r.Port)
		}
	})
	return err
}

// StopAll stops every spawned service in parallel and waits for all of them.
func (s *Supervisor) StopAll(grace time.Duration) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := s.Stop(name, grace); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Records returns a copy of every service record, sorted by name.
func (s *Supervisor) Records() []RuntimeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RuntimeRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Record returns the record for one service.
func (s *Supervisor) Record(name string) (RuntimeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[name]
	if !ok {
		return RuntimeRecord{}, false
	}
	return *r, true
}

func (s *Supervisor) update(name string, fn func(r *RuntimeRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[name]
	if !ok {
		r = &RuntimeRecord{Name: name}
		s.records[name] = r
	}
	fn(r)
}
