package cmd

import (
	"context"
	"fmt"

	"devenv/internal/app"

	"github.com/spf13/cobra"
)

type upOptions struct {
	configPath  string
	keepGoing   bool
	debug       bool
	metricsAddr string
	logFormat   string
	logLevel    string
}

func newUpCmd() *cobra.Command {
	opts := &upOptions{}
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start all infra and services and keep them running",
		Long: `Starts every infra unit and service declared in devenv.yaml.

Infra starts first. Services that declare depends_on wait for those infra
units to be running and initialized. Init scripts run only on the first
successful start of each infra unit; use 'devenv reset' to run them again.

By default the first failure stops everything that was started. With
--keep-going, units that do not depend on the failed one keep running.

Press Ctrl+C to stop. Services receive SIGINT and are killed after
settings.stop_grace; containers are stopped but not removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "file", "f", "", "Path to devenv.yaml (default: discovered from the working directory)")
	cmd.Flags().BoolVar(&opts.keepGoing, "keep-going", false, "Keep independent units running when one fails to start")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (default: settings.log_format)")
	return cmd
}

func runUp(cmd *cobra.Command, opts *upOptions) error {
	if opts.logFormat != "" && opts.logFormat != "text" && opts.logFormat != "json" {
		return fmt.Errorf("unsupported log format %q (use text or json)", opts.logFormat)
	}

	cfg := app.NewConfig(app.ModeUp, opts.configPath, opts.debug, opts.keepGoing)
	cfg.MetricsAddr = opts.metricsAddr
	cfg.LogFormat = opts.logFormat
	cfg.LogLevel = opts.logLevel
	cfg.LogOutput = cmd.ErrOrStderr()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}
