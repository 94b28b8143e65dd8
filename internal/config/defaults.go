package config

import "time"

const (
	DefaultStopGrace    = 5 * time.Second
	DefaultReadyTimeout = 30 * time.Second
)

// DefaultSettings returns the engine tunables used when neither the user
// config nor the project file sets them.
func DefaultSettings() Settings {
	return Settings{
		StopGrace:    Duration(DefaultStopGrace),
		ReadyTimeout: Duration(DefaultReadyTimeout),
		LogFormat:    "text",
	}
}

// applyDefaults fills zero values in place.
func applyDefaults(cfg *ProjectConfig) {
	defaults := DefaultSettings()
	if cfg.Settings.StopGrace == 0 {
		cfg.Settings.StopGrace = defaults.StopGrace
	}
	if cfg.Settings.ReadyTimeout == 0 {
		cfg.Settings.ReadyTimeout = defaults.ReadyTimeout
	}
	if cfg.Settings.LogFormat == "" {
		cfg.Settings.LogFormat = defaults.LogFormat
	}
	if cfg.Services == nil {
		cfg.Services = map[string]ServiceConfig{}
	}
	if cfg.Infra == nil {
		cfg.Infra = map[string]InfraConfig{}
	}
}

// ServiceReadyTimeout resolves the readiness timeout for one service.
func (c *ProjectConfig) ServiceReadyTimeout(name string) time.Duration {
	if svc, ok := c.Services[name]; ok && svc.ReadyTimeout > 0 {
		return svc.ReadyTimeout.Std()
	}
	return c.Settings.ReadyTimeout.Std()
}

// InfraReadyTimeout resolves the readiness timeout for one infra unit.
func (c *ProjectConfig) InfraReadyTimeout(name string) time.Duration {
	if inf, ok := c.Infra[name]; ok && inf.ReadyTimeout > 0 {
		return inf.ReadyTimeout.Std()
	}
	return c.Settings.ReadyTimeout.Std()
}
