package cmd

import (
	"context"
	"fmt"

	"devenv/internal/app"

	"github.com/spf13/cobra"
)

func newDownCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Remove the project's containers, compose projects and network",
		Long: `Removes every container and compose project devenv created for this
project, then the project network. Persisted init state is kept, so the
next 'devenv up' recreates containers without re-running init scripts.
Use 'devenv reset' to forget init state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.NewConfig(app.ModeDown, configPath, debug, false)
			cfg.LogOutput = cmd.ErrOrStderr()
			cfg.LogLevel = logLevel

			application, err := app.NewApplication(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return application.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "file", "f", "", "Path to devenv.yaml (default: discovered from the working directory)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	return cmd
}
