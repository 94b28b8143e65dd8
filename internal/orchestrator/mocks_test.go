package orchestrator

import (
	"context"
	"sync"
	"time"

	"devenv/internal/config"
	"devenv/internal/services"
)

// fakeInfra is a scripted InfraUnit.
type fakeInfra struct {
	name      string
	kind      config.InfraKind
	startErr  error
	delay     time.Duration
	bridgeErr error

	mu      sync.Mutex
	running bool
	starts  int
	bridges int
	stops   int
	downs   int
}

func (f *fakeInfra) Name() string           { return f.name }
func (f *fakeInfra) Kind() config.InfraKind { return f.kind }

func (f *fakeInfra) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeInfra) Bridge(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bridges++
	return f.bridgeErr
}

func (f *fakeInfra) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeInfra) Down(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs++
	f.running = false
	return nil
}

func (f *fakeInfra) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeInfra) counts() (starts, bridges, stops, downs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.bridges, f.stops, f.downs
}

// fakeServices is a scripted ServiceRunner. A service listed in block waits
// for cancellation instead of starting.
type fakeServices struct {
	startErrs   map[string]error
	block       map[string]bool
	declaredErr error
	onStart     func(name string)

	mu       sync.Mutex
	started  []string
	dirs     map[string]string
	records  map[string]services.RuntimeRecord
	stopAlls int
	grace    time.Duration
}

func newFakeServices() *fakeServices {
	return &fakeServices{
		startErrs: map[string]error{},
		block:     map[string]bool{},
		dirs:      map[string]string{},
		records:   map[string]services.RuntimeRecord{},
	}
}

func (f *fakeServices) CheckDeclared(requested map[string]uint16) error {
	return f.declaredErr
}

func (f *fakeServices) Start(ctx context.Context, name string, cfg config.ServiceConfig, readyTimeout time.Duration) error {
	if f.onStart != nil {
		f.onStart(name)
	}
	if f.block[name] {
		<-ctx.Done()
		f.set(name, services.StateFailed, 0)
		return ctx.Err()
	}
	if err := f.startErrs[name]; err != nil {
		f.set(name, services.StateFailed, 0)
		return err
	}
	f.mu.Lock()
	f.started = append(f.started, name)
	f.dirs[name] = cfg.Dir
	f.mu.Unlock()
	f.set(name, services.StateRunning, cfg.Port)
	return nil
}

func (f *fakeServices) set(name string, state services.ServiceState, port uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[name] = services.RuntimeRecord{Name: name, State: state, Port: port, PID: 100 + len(f.records)}
}

func (f *fakeServices) MarkWaiting(name string) {
	f.set(name, services.StateWaiting, 0)
}

func (f *fakeServices) MarkFailed(name string, err error) {
	f.set(name, services.StateFailed, 0)
}

func (f *fakeServices) StopAll(grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAlls++
	f.grace = grace
	for name, rec := range f.records {
		if rec.State == services.StateRunning {
			rec.State = services.StateStopped
			f.records[name] = rec
		}
	}
	return nil
}

func (f *fakeServices) Records() []services.RuntimeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]services.RuntimeRecord, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out
}

func (f *fakeServices) startedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// fakeNetwork records network calls.
type fakeNetwork struct {
	mu      sync.Mutex
	ensured []string
	removed []string
	err     error
}

func (f *fakeNetwork) EnsureNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.ensured = append(f.ensured, name)
	return "net-" + name, nil
}

func (f *fakeNetwork) RemoveNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}
