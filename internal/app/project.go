package app

import (
	"fmt"

	"devenv/internal/config"
	"devenv/internal/project"
	"devenv/internal/state"
)

// Project is a loaded configuration together with the identity and state
// directory derived from it.
type Project struct {
	Config   *config.ProjectConfig
	Identity project.Identity
	StateDir string
}

// LoadProject reads the configuration from configPath, or discovers it from
// the working directory when configPath is empty, and resolves the project
// identity.
func LoadProject(configPath string) (*Project, error) {
	var (
		cfg *config.ProjectConfig
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadConfigFromPath(configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	identity, err := project.Resolve(cfg.Project.Name, cfg.ProjectDir())
	if err != nil {
		return nil, err
	}
	return &Project{
		Config:   cfg,
		Identity: identity,
		StateDir: state.StateDirFor(identity.Dir),
	}, nil
}

func (p *Project) String() string {
	return fmt.Sprintf("%s (%s)", p.Identity.Name, p.Identity.ID)
}
