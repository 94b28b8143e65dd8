package cmd

import (
	"os"

	"devenv/pkg/logging"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "devenv",
	Short: "Run a project's local development environment",
	Long: `devenv starts everything a project needs for local development from a
single devenv.yaml: native services run as child processes, infra runs in
containers or compose projects, and one-time init scripts are tracked per
project so they run exactly once.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. port collisions, failed starts)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "devenv version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newDownCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newStateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initCLILogging sets up logging for the short-lived commands that do not go
// through the application bootstrap.
func initCLILogging(cmd *cobra.Command, debug bool) {
	level := logging.LevelWarn
	if debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())
}
