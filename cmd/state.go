package cmd

import (
	"fmt"

	"devenv/internal/app"
	"devenv/internal/cli"
	"devenv/internal/color"
	"devenv/internal/state"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	var (
		configPath string
		output     string
		theme      string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the persisted init state of the project's infra",
		Long: `Prints which infra units have been initialized and when. Records for
infra that is no longer declared are marked stale; they are kept until
reset explicitly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			if err := applyTheme(theme); err != nil {
				return err
			}
			initCLILogging(cmd, debug)

			proj, err := app.LoadProject(configPath)
			if err != nil {
				return err
			}
			st, err := state.Load(proj.StateDir)
			if err != nil {
				return err
			}
			return cli.RenderState(cmd.OutOrStdout(), format, buildStateReport(proj, st))
		},
	}
	cmd.Flags().StringVarP(&configPath, "file", "f", "", "Path to devenv.yaml (default: discovered from the working directory)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, yaml)")
	cmd.Flags().StringVar(&theme, "theme", "auto", "Terminal background for colors (auto, dark, light)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// applyTheme overrides lipgloss background detection when asked to.
func applyTheme(theme string) error {
	switch theme {
	case "", "auto":
		return nil
	case "dark", "light":
		color.Initialize(theme == "dark")
		return nil
	default:
		return fmt.Errorf("unsupported theme %q (use auto, dark or light)", theme)
	}
}

func buildStateReport(proj *app.Project, st *state.ProjectState) cli.StateReport {
	report := cli.StateReport{
		Project:   proj.Identity.Name,
		ProjectID: proj.Identity.ID,
		StateFile: state.FilePath(proj.StateDir),
	}
	for _, name := range st.Names() {
		rec := st.Infra[name]
		_, declared := proj.Config.Infra[name]
		report.Infra = append(report.Infra, cli.InfraRow{
			Name:          name,
			Initialized:   rec.Initialized,
			InitializedAt: rec.InitializedAt,
			Declared:      declared,
		})
	}
	return report
}
