package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"devenv/pkg/logging"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-project state directory, created next to the config file.
	DirName = ".devenv"
	// FileName is the single state file inside the state directory.
	FileName = "state.yaml"

	currentVersion = 1
)

// ProjectState is the durable root record for one project.
type ProjectState struct {
	Version int                    `yaml:"version"`
	Infra   map[string]InfraRecord `yaml:"infra"`
}

// InfraRecord tracks the lifecycle of one infra unit across runs.
type InfraRecord struct {
	Initialized   bool       `yaml:"initialized"`
	InitializedAt *time.Time `yaml:"initialized_at,omitempty"`
}

func newProjectState() *ProjectState {
	return &ProjectState{Version: currentVersion, Infra: map[string]InfraRecord{}}
}

// StateDirFor derives the state directory of the project rooted at projectDir.
func StateDirFor(projectDir string) string {
	return filepath.Join(projectDir, DirName)
}

// FilePath returns the state file location inside dir.
func FilePath(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads persisted state from dir. It returns ErrStateNotFound when the
// project has never been started; a file that cannot be parsed is reported as
// a *CorruptStateError and never silently replaced.
func Load(dir string) (*ProjectState, error) {
	path := FilePath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStateNotFound, path)
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	st := newProjectState()
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, &CorruptStateError{Path: path, Err: err}
	}
	if st.Infra == nil {
		st.Infra = map[string]InfraRecord{}
	}
	return st, nil
}

// Store owns the ProjectState of one project. Every mutation is routed
// through a named method which saves before returning; the mutex is held
// across mutate and save.
type Store struct {
	mu    sync.Mutex
	dir   string
	state *ProjectState
}

// Open loads the state in dir, or starts from an empty state on first run.
func Open(dir string) (*Store, error) {
	st, err := Load(dir)
	if err != nil {
		if !errors.Is(err, ErrStateNotFound) {
			return nil, err
		}
		logging.Debug("State", "No state at %s, starting fresh", dir)
		st = newProjectState()
	}
	return &Store{dir: dir, state: st}, nil
}

// OpenExisting loads the state in dir and fails with ErrStateNotFound when
// the project has never been started.
func OpenExisting(dir string) (*Store, error) {
	st, err := Load(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, state: st}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the current state, replacing the previous file atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", s.dir, err)
	}
	path := FilePath(s.dir)
	if err := atomicwriter.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", path, err)
	}
	return nil
}

// Reconcile makes sure every declared infra name has a record. Records for
// names no longer declared are kept and reported.
func (s *Store) Reconcile(declared []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(declared))
	changed := false
	for _, name := range declared {
		wanted[name] = true
		if _, ok := s.state.Infra[name]; !ok {
			s.state.Infra[name] = InfraRecord{}
			changed = true
		}
	}
	for name := range s.state.Infra {
		if !wanted[name] {
			logging.Warn("State", "State has a record for infra %q which is no longer declared", name)
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}

// IsInitialized reports whether the named infra finished its init scripts.
// Unknown names are implicitly uninitialized.
func (s *Store) IsInitialized(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Infra[name].Initialized
}

// MarkInitialized records that the named infra's init scripts completed and
// persists that fact before returning.
func (s *Store) MarkInitialized(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.state.Infra[name]
	now := time.Now().UTC()
	s.state.Infra[name] = InfraRecord{Initialized: true, InitializedAt: &now}
	if err := s.saveLocked(); err != nil {
		if existed {
			s.state.Infra[name] = previous
		} else {
			delete(s.state.Infra, name)
		}
		return err
	}
	logging.Debug("State", "Marked infra %s initialized", name)
	return nil
}

// ResetInit clears the initialized flag of every name in one save. When any
// name is not present in the state nothing is changed or written and the
// missing names are returned.
func (s *Store) ResetInit(names ...string) (missing []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		if _, ok := s.state.Infra[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 || len(names) == 0 {
		return missing, nil
	}

	previous := make(map[string]InfraRecord, len(names))
	for _, name := range names {
		previous[name] = s.state.Infra[name]
		s.state.Infra[name] = InfraRecord{}
	}
	if err := s.saveLocked(); err != nil {
		for name, rec := range previous {
			s.state.Infra[name] = rec
		}
		return nil, err
	}
	logging.Debug("State", "Reset init state of %v", names)
	return nil, nil
}

// Names returns the infra names present in state, sorted.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedNames(s.state.Infra)
}

func sortedNames(m map[string]InfraRecord) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Names returns the recorded infra names in sorted order.
func (p *ProjectState) Names() []string {
	return sortedNames(p.Infra)
}
