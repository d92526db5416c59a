package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	jsonOutput   bool
	storeBackend string
	storePath    string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tasktree",
		Short: "tasktree - task-tree orchestration engine",
		Long: `tasktree turns a project blueprint into a persistent tree of tasks and
drives each task through its test-first lifecycle.

Features:
  - Blueprints in CUE, JSON or YAML, admitted by OPA/rego policies
  - Dependency-aware readiness across the whole tree
  - Per-task checkpoints and whole-tree snapshots with rollback
  - SQLite, Badger or plain-file persistence with an event journal
  - Acceptance-test generation through an external command`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "backend", "", "store backend (sqlite, badger, file, memory)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "store data directory")

	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newReadyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newArtifactCommand())
	rootCmd.AddCommand(newCheckpointCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
