package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath    string
	workspacePath string
	verbose       bool
	jsonOutput    bool
	metricsFile   string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crateplan",
		Short: "crateplan - dependency resolver and build planner",
		Long: `crateplan resolves the dependencies of a package workspace and plans its build.

It:
  - Resolves one version per semver-compatible range, honoring the lockfile
  - Unifies features across the dependency graph
  - Expands the resolve into a DAG of compilation units for an executor
  - Evaluates Rego policies against every resolve
  - Records resolves in a local SQLite history`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: crateplan.yaml next to the workspace)")
	rootCmd.PersistentFlags().StringVarP(&workspacePath, "workspace", "w", "workspace.yaml", "workspace description (.yaml, .cue or .star)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newGenerateLockfileCommand())
	rootCmd.AddCommand(newTreeCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newIndexCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
