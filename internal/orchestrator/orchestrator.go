package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"devenv/internal/config"
	"devenv/internal/metrics"
	"devenv/internal/project"
	"devenv/internal/runtime"
	"devenv/internal/services"
	"devenv/pkg/logging"
)

// unitKind is the closed set of things the orchestrator launches.
type unitKind int

const (
	unitInfra unitKind = iota
	unitService
)

func (k unitKind) String() string {
	switch k {
	case unitInfra:
		return "infra"
	case unitService:
		return "service"
	default:
		return fmt.Sprintf("unitKind(%d)", int(k))
	}
}

// InfraUnit is one infra lifecycle, as implemented by *infra.Unit.
type InfraUnit interface {
	Name() string
	Kind() config.InfraKind
	Start(ctx context.Context) error
	Bridge(ctx context.Context) error
	Stop(ctx context.Context) error
	Down(ctx context.Context) error
}

// ServiceRunner supervises native processes, as implemented by *services.Supervisor.
type ServiceRunner interface {
	CheckDeclared(requested map[string]uint16) error
	Start(ctx context.Context, name string, cfg config.ServiceConfig, readyTimeout time.Duration) error
	MarkWaiting(name string)
	MarkFailed(name string, err error)
	StopAll(grace time.Duration) error
	Records() []services.RuntimeRecord
}

// NetworkManager owns the project network.
type NetworkManager interface {
	EnsureNetwork(ctx context.Context, name string, labels map[string]string) (string, error)
	RemoveNetwork(ctx context.Context, name string) error
}

// Config holds everything the orchestrator needs for one run. Infra,
// Services and Network may be empty or nil for projects that declare no
// units of that type.
type Config struct {
	Project  *config.ProjectConfig
	Identity project.Identity
	Infra    []InfraUnit
	Services ServiceRunner
	Network  NetworkManager
	Metrics  *metrics.Metrics

	// KeepGoing keeps independent units running when one unit fails to
	// start. By default the first failure cancels the whole run.
	KeepGoing bool
}

// unitResult is the outcome of launching one unit. done is closed once err
// is final, which lets dependants wait without polling.
type unitResult struct {
	kind    unitKind
	name    string
	done    chan struct{}
	err     error
	running bool
}

// Orchestrator launches every declared unit concurrently, lets services wait
// for the infra they depend on, and acts as the shutdown coordinator: one
// cancellation signal reaches every unit and Shutdown joins them all before
// returning. It never writes persisted init state itself; that happens in the
// infra units on successful init only.
type Orchestrator struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	results  map[string]*unitResult
	started  bool
	shutdown bool
}

// New creates an orchestrator. Nothing is started until Start is called.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		results: make(map[string]*unitResult),
	}
}

func resultKey(kind unitKind, name string) string {
	return kind.String() + "/" + name
}

// Start launches all units and returns once each one is running or has
// failed.
//
// In the default fail-fast mode the first failure cancels the other launches,
// everything that did start is stopped again, and the failures are returned
// joined. With KeepGoing the failed units (and the services depending on
// them) are reported through Failures while the rest keep running; an error
// is returned only when nothing at all could be started.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	o.started = true
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	cfg := o.cfg.Project
	serviceNames := cfg.ServiceNames()

	if len(serviceNames) > 0 {
		if o.cfg.Services == nil {
			return errors.New("services declared but no service runner configured")
		}
		declared := make(map[string]uint16, len(serviceNames))
		for _, name := range serviceNames {
			declared[name] = cfg.Services[name].Port
		}
		if err := o.cfg.Services.CheckDeclared(declared); err != nil {
			o.cancel()
			o.cfg.Metrics.PortCollision(collisionService(err))
			return err
		}
	}

	if len(o.cfg.Infra) > 0 && o.cfg.Network != nil {
		network := o.cfg.Identity.NetworkName()
		labels := map[string]string{project.LabelProject: o.cfg.Identity.ID}
		if _, err := o.cfg.Network.EnsureNetwork(o.ctx, network, labels); err != nil {
			o.cancel()
			return fmt.Errorf("failed to prepare network %s: %w", network, err)
		}
	}

	// Register every result before launching anything so that services can
	// look up their dependencies regardless of goroutine scheduling.
	for _, u := range o.cfg.Infra {
		o.register(unitInfra, u.Name())
	}
	for _, name := range serviceNames {
		o.register(unitService, name)
	}

	var startup sync.WaitGroup
	for _, u := range o.cfg.Infra {
		startup.Add(1)
		o.wg.Add(1)
		go func(u InfraUnit) {
			defer o.wg.Done()
			defer startup.Done()
			o.launchInfra(u)
		}(u)
	}
	for _, name := range serviceNames {
		startup.Add(1)
		o.wg.Add(1)
		go func(name string) {
			defer o.wg.Done()
			defer startup.Done()
			svc := cfg.Services[name]
			svc.Dir = cfg.ResolvePath(svc.Dir)
			o.launchService(name, svc)
		}(name)
	}
	startup.Wait()

	failures := o.Failures()
	if len(failures) == 0 {
		logging.Info("Orchestrator", "All %d unit(s) running", len(o.cfg.Infra)+len(serviceNames))
		return nil
	}

	if !o.cfg.KeepGoing {
		logging.Error("Orchestrator", nil, "Startup failed, stopping started units")
		stopCtx, cancel := context.WithTimeout(context.Background(), o.stopGrace()+30*time.Second)
		defer cancel()
		if err := o.Shutdown(stopCtx); err != nil {
			logging.Warn("Orchestrator", "Teardown after failed startup: %v", err)
		}
		return joinRootCauses(failures)
	}

	if o.runningCount() == 0 {
		return joinRootCauses(failures)
	}
	for _, name := range sortedKeys(failures) {
		logging.Warn("Orchestrator", "%s failed, continuing with remaining units: %v", name, failures[name])
	}
	return nil
}

func (o *Orchestrator) register(kind unitKind, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[resultKey(kind, name)] = &unitResult{kind: kind, name: name, done: make(chan struct{})}
}

func (o *Orchestrator) result(kind unitKind, name string) *unitResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[resultKey(kind, name)]
}

// finish records the outcome of a launch and, in fail-fast mode, broadcasts
// cancellation on the first failure.
func (o *Orchestrator) finish(r *unitResult, err error, since time.Time) {
	o.mu.Lock()
	r.err = err
	r.running = err == nil
	o.mu.Unlock()
	close(r.done)

	if err == nil {
		o.cfg.Metrics.UnitRunning(r.kind.String(), time.Since(since))
		return
	}
	if errors.Is(err, context.Canceled) && o.ctx.Err() != nil {
		logging.Debug("Orchestrator", "%s %s cancelled", r.kind, r.name)
		return
	}
	logging.Error("Orchestrator", err, "%s %s failed to start", r.kind, r.name)
	if !o.cfg.KeepGoing {
		o.cancel()
	}
}

func (o *Orchestrator) launchInfra(u InfraUnit) {
	r := o.result(unitInfra, u.Name())
	start := time.Now()
	err := u.Start(o.ctx)
	if err == nil && u.Kind() == config.InfraKindCompose {
		if bridgeErr := u.Bridge(o.ctx); bridgeErr != nil {
			logging.Warn("Orchestrator", "Bridging %s onto the project network failed: %v", u.Name(), bridgeErr)
		}
	}
	o.finish(r, err, start)
}

func (o *Orchestrator) launchService(name string, svc config.ServiceConfig) {
	r := o.result(unitService, name)
	start := time.Now()

	if len(svc.DependsOn) > 0 {
		o.cfg.Services.MarkWaiting(name)
		if err := o.waitDependencies(name, svc.DependsOn); err != nil {
			o.cfg.Services.MarkFailed(name, err)
			o.finish(r, err, start)
			return
		}
	}

	err := o.cfg.Services.Start(o.ctx, name, svc, o.cfg.Project.ServiceReadyTimeout(name))
	o.finish(r, err, start)
}

// waitDependencies blocks until every infra unit in deps has finished
// launching. A failed dependency fails the service.
func (o *Orchestrator) waitDependencies(service string, deps []string) error {
	for _, dep := range deps {
		r := o.result(unitInfra, dep)
		if r == nil {
			return &DependencyError{Service: service, Dependency: dep, Err: errUnknownDependency}
		}
		logging.Debug("Orchestrator", "Service %s waiting for infra %s", service, dep)
		select {
		case <-r.done:
		case <-o.ctx.Done():
			// A dependency that failed closes done before cancelling.
			select {
			case <-r.done:
			default:
				return o.ctx.Err()
			}
		}
		o.mu.Lock()
		depErr := r.err
		o.mu.Unlock()
		if depErr != nil {
			return &DependencyError{Service: service, Dependency: dep, Err: depErr}
		}
	}
	return nil
}

// Failures returns the launch error of every unit that failed, keyed by
// "<type>/<name>". Units cancelled because another unit failed are left out.
func (o *Orchestrator) Failures() map[string]error {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]error)
	for key, r := range o.results {
		if r.err != nil && !errors.Is(r.err, context.Canceled) {
			out[key] = r.err
		}
	}
	return out
}

func (o *Orchestrator) runningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.results {
		if r.running {
			n++
		}
	}
	return n
}

// Status is a point-in-time view of one unit.
type Status struct {
	Type    string
	Name    string
	Running bool
	Err     error
	Port    uint16
	PID     int
}

// Status reports every unit, infra first, each group sorted by name.
func (o *Orchestrator) Status() []Status {
	var records map[string]services.RuntimeRecord
	if o.cfg.Services != nil {
		records = make(map[string]services.RuntimeRecord)
		for _, rec := range o.cfg.Services.Records() {
			records[rec.Name] = rec
		}
	}

	o.mu.Lock()
	out := make([]Status, 0, len(o.results))
	for _, r := range o.results {
		st := Status{Type: r.kind.String(), Name: r.name, Running: r.running, Err: r.err}
		if rec, ok := records[r.name]; ok && r.kind == unitService {
			st.Port, st.PID = rec.Port, rec.PID
			st.Running = rec.State == services.StateRunning
		}
		out = append(out, st)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == unitInfra.String()
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Run starts every unit, then blocks until ctx is cancelled and shuts down.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logging.Info("Orchestrator", "Shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), o.stopGrace()+30*time.Second)
	defer cancel()
	return o.Shutdown(stopCtx)
}

// Shutdown cancels every in-flight launch, then stops services and infra in
// parallel and waits for all of it or for ctx to expire. Containers are
// stopped but kept, so their data and the persisted init flags survive.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return nil
	}
	o.shutdown = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	// Launch goroutines observe the cancellation and return quickly.
	if err := waitGroupWithContext(ctx, &o.wg); err != nil {
		return fmt.Errorf("waiting for unit launches: %w", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	collect := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if o.cfg.Services != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect(o.cfg.Services.StopAll(o.stopGrace()))
		}()
	}
	for _, u := range o.cfg.Infra {
		r := o.result(unitInfra, u.Name())
		if r == nil {
			continue
		}
		o.mu.Lock()
		unreachable := errors.Is(r.err, runtime.ErrRuntimeUnavailable)
		o.mu.Unlock()
		if unreachable {
			// Nothing was created, and the runtime cannot be asked to stop anything.
			continue
		}
		wg.Add(1)
		go func(u InfraUnit) {
			defer wg.Done()
			collect(u.Stop(ctx))
		}(u)
	}

	if err := waitGroupWithContext(ctx, &wg); err != nil {
		collect(fmt.Errorf("shutdown did not finish: %w", err))
	}

	o.mu.Lock()
	for _, r := range o.results {
		if r.running {
			r.running = false
			o.cfg.Metrics.UnitStopped(r.kind.String())
		}
	}
	o.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		logging.Info("Orchestrator", "Shutdown complete")
	}
	return errors.Join(errs...)
}

// Down removes every infra unit's containers and the project network. It is
// used without Start and never touches persisted init state.
func (o *Orchestrator) Down(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, u := range o.cfg.Infra {
		wg.Add(1)
		go func(u InfraUnit) {
			defer wg.Done()
			if err := u.Down(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()

	if o.cfg.Network != nil && len(errs) == 0 {
		network := o.cfg.Identity.NetworkName()
		if err := o.cfg.Network.RemoveNetwork(ctx, network); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove network %s: %w", network, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) stopGrace() time.Duration {
	if g := o.cfg.Project.Settings.StopGrace.Std(); g > 0 {
		return g
	}
	return config.DefaultStopGrace
}

func waitGroupWithContext(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// joinRootCauses joins failures in a stable order, leaving out services that
// only failed because an infra unit they depend on failed.
func joinRootCauses(failures map[string]error) error {
	var errs []error
	for _, key := range sortedKeys(failures) {
		var depErr *DependencyError
		if errors.As(failures[key], &depErr) && len(failures) > 1 {
			continue
		}
		errs = append(errs, failures[key])
	}
	if len(errs) == 0 {
		for _, key := range sortedKeys(failures) {
			errs = append(errs, failures[key])
		}
	}
	return errors.Join(errs...)
}
