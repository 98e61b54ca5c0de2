package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

var (
	// Global flags
	configPath string
	layoutPath string
	workDir    string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wpk",
		Short: "wpk - WordPress plugin code generator",
		Long: `wpk generates REST controllers, TypeScript resources and block metadata
for a WordPress plugin from one declarative configuration file.

Generated sources are merged into your files with a three-way patch, so
hand edits survive regeneration:
  - wpk generate   builds the IR and stages a patch plan
  - wpk apply      merges the plan into the workspace
  - wpk start      regenerates on every configuration change`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: discover wpk.config.*)")
	rootCmd.PersistentFlags().StringVar(&layoutPath, "layout", "", "layout manifest path (default: layout.manifest.json or built-in)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "cwd", "C", ".", "workspace root")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// exitError carries a non-zero exit code for an outcome that is not an
// error of its own, such as an apply that left conflicts.
type exitError struct {
	code engine.ExitCode
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d (%s)", e.code, e.code)
}

// ExitCodeOf maps a command error to the process exit code.
func ExitCodeOf(err error) engine.ExitCode {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return engine.ExitCodeFor(err)
}

// IsSilent reports whether err was already reported by the command.
func IsSilent(err error) bool {
	var exit *exitError
	return errors.As(err, &exit)
}
