package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Validate checks the semantic rules a loaded project file must satisfy.
// All problems are reported together.
func Validate(cfg *ProjectConfig) error {
	var errs []error

	for _, name := range cfg.ServiceNames() {
		svc := cfg.Services[name]
		if !namePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("service %q: invalid name", name))
		}
		if strings.TrimSpace(svc.Command) == "" {
			errs = append(errs, fmt.Errorf("service %q: command is required", name))
		}
		for _, dep := range svc.DependsOn {
			if _, ok := cfg.Infra[dep]; !ok {
				errs = append(errs, fmt.Errorf("service %q: depends_on references unknown infra %q", name, dep))
			}
		}
	}

	for _, name := range cfg.InfraNames() {
		inf := cfg.Infra[name]
		if !namePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("infra %q: invalid name", name))
		}
		if _, clash := cfg.Services[name]; clash {
			errs = append(errs, fmt.Errorf("infra %q: name is also used by a service", name))
		}
		switch {
		case inf.Image == "" && inf.Compose == "":
			errs = append(errs, fmt.Errorf("infra %q: one of image or compose is required", name))
		case inf.Image != "" && inf.Compose != "":
			errs = append(errs, fmt.Errorf("infra %q: image and compose are mutually exclusive", name))
		}
		if inf.Compose == "" && (inf.InitService != "" || len(inf.Services) > 0) {
			errs = append(errs, fmt.Errorf("infra %q: services and init_service are only valid with compose", name))
		}
		for _, mapping := range inf.Ports {
			if len(strings.Split(mapping, ":")) < 2 {
				errs = append(errs, fmt.Errorf("infra %q: port mapping %q must be host:container", name, mapping))
			}
		}
		for i, script := range inf.Init {
			if strings.TrimSpace(script) == "" {
				errs = append(errs, fmt.Errorf("infra %q: init script %d is empty", name, i))
			}
		}
	}

	switch cfg.Settings.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("settings: unknown log_format %q", cfg.Settings.LogFormat))
	}

	return errors.Join(errs...)
}
