package app

import (
	"io"
	"os"
)

// Mode selects what a run does once the project is loaded.
type Mode int

const (
	// ModeUp starts every unit and keeps them running until interrupted.
	ModeUp Mode = iota
	// ModeDown removes containers, compose projects and the project network.
	ModeDown
)

// Config holds the application configuration collected from flags.
type Config struct {
	Mode Mode

	// ConfigPath is an explicit devenv.yaml path. When empty the file is
	// discovered from the working directory upwards.
	ConfigPath string

	// Debug settings
	Debug     bool
	LogLevel  string // debug, info, warn or error; Debug wins
	LogFormat string // overrides settings.log_format when set

	// KeepGoing keeps independent units running when one fails to start.
	KeepGoing bool

	// MetricsAddr serves Prometheus metrics on this address when set.
	MetricsAddr string

	// LogOutput receives log lines; os.Stderr when nil.
	LogOutput io.Writer
}

// NewConfig creates a new application configuration
func NewConfig(mode Mode, configPath string, debug, keepGoing bool) *Config {
	return &Config{
		Mode:       mode,
		ConfigPath: configPath,
		Debug:      debug,
		KeepGoing:  keepGoing,
		LogOutput:  os.Stderr,
	}
}
