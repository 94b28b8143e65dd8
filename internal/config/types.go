package config

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ProjectConfig is the top-level structure of a devenv.yaml file.
type ProjectConfig struct {
	Project  ProjectMeta              `yaml:"project"`
	Services map[string]ServiceConfig `yaml:"services,omitempty"`
	Infra    map[string]InfraConfig   `yaml:"infra,omitempty"`
	Settings Settings                 `yaml:"settings,omitempty"`

	// Path is the absolute path of the file this configuration was read from.
	// It is filled in by the loader and never read from YAML.
	Path string `yaml:"-"`
}

// ProjectMeta holds the project block.
type ProjectMeta struct {
	Name string `yaml:"name"`
}

// ServiceConfig describes a native process the engine spawns directly.
type ServiceConfig struct {
	Command      string            `yaml:"command"`                 // Shell command, run with sh -c
	Port         uint16            `yaml:"port,omitempty"`          // Explicit port; 0 selects a free port
	Dir          string            `yaml:"dir,omitempty"`           // Working directory, relative to the project dir
	Env          map[string]string `yaml:"env,omitempty"`           // Extra environment variables
	DependsOn    []string          `yaml:"depends_on,omitempty"`    // Infra units that must be running first
	ReadyTimeout Duration          `yaml:"ready_timeout,omitempty"` // Overrides settings.ready_timeout
}

// InfraKind is the closed set of infra unit variants.
type InfraKind string

const (
	InfraKindContainer InfraKind = "container"
	InfraKindCompose   InfraKind = "compose"
)

// InfraConfig describes a container-backed dependency. Exactly one of Image or
// Compose must be set.
type InfraConfig struct {
	// Standalone container
	Image   string            `yaml:"image,omitempty"`
	Ports   []string          `yaml:"ports,omitempty"`   // "host:container" mappings
	Env     map[string]string `yaml:"env,omitempty"`
	Volumes []string          `yaml:"volumes,omitempty"` // "source:target[:ro]"
	Command []string          `yaml:"command,omitempty"` // Optional cmd override

	// Compose sub-project
	Compose     string   `yaml:"compose,omitempty"`      // Path to a compose file, relative to the project dir
	Services    []string `yaml:"services,omitempty"`     // Optional subset of compose services to bring up
	InitService string   `yaml:"init_service,omitempty"` // Compose service that init scripts execute in

	// Shared
	Ready        string   `yaml:"ready,omitempty"`         // Readiness command, retried until it exits 0
	ReadyTimeout Duration `yaml:"ready_timeout,omitempty"` // Overrides settings.ready_timeout
	Init         []string `yaml:"init,omitempty"`          // One-time init scripts
}

// Kind reports which variant the infra block describes.
func (c InfraConfig) Kind() InfraKind {
	if c.Compose != "" {
		return InfraKindCompose
	}
	return InfraKindContainer
}

// Settings holds engine tunables. They can also come from the user config file.
type Settings struct {
	StopGrace    Duration `yaml:"stop_grace,omitempty"`
	ReadyTimeout Duration `yaml:"ready_timeout,omitempty"`
	LogFormat    string   `yaml:"log_format,omitempty"` // "text" or "json"
}

// ServiceNames returns the declared service names in a stable order.
func (c *ProjectConfig) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InfraNames returns the declared infra names in a stable order.
func (c *ProjectConfig) InfraNames() []string {
	names := make([]string, 0, len(c.Infra))
	for name := range c.Infra {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Duration wraps time.Duration so it can be written as "5s" in YAML.
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings and plain integers (seconds).
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration %q", raw)
}

// MarshalYAML renders the duration as a Go duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
