package cmd

import (
	"errors"
	"fmt"

	"devenv/internal/app"
	"devenv/internal/state"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var (
		configPath string
		all        bool
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "reset [infra...]",
		Short: "Forget that infra was initialized so its init scripts run again",
		Long: `Clears the initialized flag of the named infra units, or of every infra
unit with --all. The next 'devenv up' re-runs their init scripts.

Containers and their data are not touched; combine with 'devenv down' and
removing volumes for a clean slate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return errors.New("pass infra names or --all, not both")
			case !all && len(args) == 0:
				return errors.New("name at least one infra unit, or pass --all")
			}
			initCLILogging(cmd, debug)

			proj, err := app.LoadProject(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if all {
				names, err := state.ResetAll(proj.StateDir)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					fmt.Fprintln(out, "No infra recorded, nothing to reset")
					return nil
				}
				for _, name := range names {
					fmt.Fprintf(out, "Reset %s\n", name)
				}
				return nil
			}

			if err := state.ResetInfra(proj.StateDir, args...); err != nil {
				return err
			}
			for _, name := range args {
				fmt.Fprintf(out, "Reset %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "file", "f", "", "Path to devenv.yaml (default: discovered from the working directory)")
	cmd.Flags().BoolVar(&all, "all", false, "Reset every infra unit")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
