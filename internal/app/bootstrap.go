package app

import (
	"context"
	"fmt"
	"log/slog"

	"devenv/pkg/logging"

	"github.com/google/uuid"
)

// Application is the main application structure that bootstraps and runs devenv
type Application struct {
	config   *Config
	project  *Project
	services *Services
	runID    string
}

// NewApplication loads the project and wires every collaborator for one run.
func NewApplication(cfg *Config) (*Application, error) {
	appLogLevel, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}
	logging.Init(logFormat(cfg.LogFormat, ""), appLogLevel, cfg.LogOutput)

	proj, err := LoadProject(cfg.ConfigPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load project configuration")
		return nil, fmt.Errorf("failed to load project configuration: %w", err)
	}

	// The project file may ask for JSON logs; an explicit flag still wins.
	if format := logFormat(cfg.LogFormat, proj.Config.Settings.LogFormat); format != logging.FormatText {
		logging.Init(format, appLogLevel, cfg.LogOutput)
	}

	runID := uuid.NewString()
	logging.With(
		slog.String("project", proj.Identity.Name),
		slog.String("project_id", proj.Identity.ID),
		slog.String("run", runID),
	)
	logging.Info("Bootstrap", "Loaded %s from %s", proj, proj.Config.Path)

	services, err := InitializeServices(cfg, proj, runID)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		project:  proj,
		services: services,
		runID:    runID,
	}, nil
}

// Run executes the application in the configured mode.
func (a *Application) Run(ctx context.Context) error {
	defer a.services.Close()
	switch a.config.Mode {
	case ModeDown:
		return runDownMode(ctx, a.services)
	default:
		return runUpMode(ctx, a.config, a.services)
	}
}

func logFormat(flag, fromConfig string) logging.Format {
	switch {
	case flag != "":
		return logging.Format(flag)
	case fromConfig != "":
		return logging.Format(fromConfig)
	default:
		return logging.FormatText
	}
}
