package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir  = ".config/devenv"
	userConfigFile = "config.yaml"
)

// ConfigFileNames are the file names discovery looks for, in order of preference.
var ConfigFileNames = []string{"devenv.yaml", "devenv.yml"}

// ErrConfigNotFound is returned when discovery reaches the filesystem root
// without finding a project file.
var ErrConfigNotFound = errors.New("no devenv.yaml found in current directory or any parent")

// Discover walks from startDir up through its ancestors and returns the first
// project file it finds.
func Discover(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w (searched from %s)", ErrConfigNotFound, startDir)
		}
		dir = parent
	}
}

// LoadConfig discovers the project file starting at the working directory
// and loads it.
func LoadConfig() (*ProjectConfig, error) {
	wd, err := osGetwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}
	path, err := Discover(wd)
	if err != nil {
		return nil, err
	}
	return LoadConfigFromPath(path)
}

// LoadConfigFromPath loads a project file from an explicit location, layers the
// user settings underneath it, applies defaults and validates the result.
func LoadConfigFromPath(path string) (*ProjectConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFromFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("error loading project config from %s: %w", absPath, err)
	}
	cfg.Path = absPath

	userSettings, err := loadUserSettings()
	if err != nil {
		return nil, err
	}
	cfg.Settings = mergeSettings(userSettings, cfg.Settings)

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}
	return cfg, nil
}

// ProjectDir is the directory holding the project file. State and relative
// paths are resolved against it.
func (c *ProjectConfig) ProjectDir() string {
	return filepath.Dir(c.Path)
}

// ResolvePath makes a config-relative path absolute.
func (c *ProjectConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir(), p)
}

// loadConfigFromFile loads a ProjectConfig from a YAML file.
func loadConfigFromFile(filePath string) (*ProjectConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, userConfigFile), nil
}

// userConfig is the optional per-user file; only settings are honoured there.
type userConfig struct {
	Settings Settings `yaml:"settings"`
}

func loadUserSettings() (Settings, error) {
	path, err := getUserConfigPath()
	if err != nil {
		// The user file is optional.
		return Settings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("error loading user config from %s: %w", path, err)
	}
	var uc userConfig
	if err := yaml.Unmarshal(data, &uc); err != nil {
		return Settings{}, fmt.Errorf("error parsing user config %s: %w", path, err)
	}
	return uc.Settings, nil
}

// mergeSettings lays overlay on top of base.
func mergeSettings(base, overlay Settings) Settings {
	merged := base
	if overlay.StopGrace != 0 {
		merged.StopGrace = overlay.StopGrace
	}
	if overlay.ReadyTimeout != 0 {
		merged.ReadyTimeout = overlay.ReadyTimeout
	}
	if overlay.LogFormat != "" {
		merged.LogFormat = overlay.LogFormat
	}
	return merged
}
