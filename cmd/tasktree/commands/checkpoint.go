package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Snapshot and roll back single tasks",
		Long: `A checkpoint captures one task's status, latest test result and
artifacts. Restoring it rolls the task back and drops later checkpoints.`,
	}
	cmd.AddCommand(newCheckpointCreateCommand())
	cmd.AddCommand(newCheckpointRestoreCommand())
	cmd.AddCommand(newCheckpointListCommand())
	return cmd
}

func newCheckpointCreateCommand() *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "create <tree-id> <task-id>",
		Short: "Checkpoint a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				cp, err := r.orch.CreateCheckpoint(ctx, args[0], args[1], name, description)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cp)
				}
				fmt.Printf("Created checkpoint %s (%d files)\n", cp.ID, len(cp.Files))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "checkpoint name")
	cmd.Flags().StringVar(&description, "description", "", "checkpoint description")

	return cmd
}

func newCheckpointRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <tree-id> <task-id> <checkpoint-id>",
		Short: "Roll a task back to a checkpoint",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				cp, err := r.orch.RestoreCheckpoint(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cp)
				}
				fmt.Printf("Restored %s to checkpoint %s (status %s)\n", args[1], cp.ID, cp.Status)
				return nil
			})
		},
	}
}

func newCheckpointListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tree-id> <task-id>",
		Short: "List a task's checkpoints",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				cps, err := r.orch.ListCheckpoints(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cps)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFILES\tCREATED")
				for _, cp := range cps {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", cp.ID, cp.Name, cp.Status, len(cp.Files),
						cp.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}
}

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Snapshot and roll back whole trees",
		Long: `A snapshot (global checkpoint) captures the whole tree. Restoring one
replaces every task with its captured state and lists the files the
snapshot holds, so a working copy can be brought back in line.`,
	}
	cmd.AddCommand(newSnapshotCreateCommand())
	cmd.AddCommand(newSnapshotRestoreCommand())
	cmd.AddCommand(newSnapshotListCommand())
	return cmd
}

func newSnapshotCreateCommand() *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "create <tree-id>",
		Short: "Snapshot a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				info, err := r.orch.CreateGlobalCheckpoint(ctx, args[0], name, description)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(info)
				}
				fmt.Printf("Created snapshot %s (%d files)\n", info.ID, info.Files)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "snapshot name")
	cmd.Flags().StringVar(&description, "description", "", "snapshot description")

	return cmd
}

func newSnapshotRestoreCommand() *cobra.Command {
	var applyDir string

	cmd := &cobra.Command{
		Use:   "restore <tree-id> <snapshot-id>",
		Short: "Roll a tree back to a snapshot",
		Example: `  # Restore and rewrite the snapshotted files under ./workspace
  tasktree snapshot restore 6f1c... 2e4b... --apply ./workspace`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				changes, err := r.orch.RestoreGlobalCheckpoint(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if applyDir != "" {
					if err := applyFileChanges(applyDir, changes); err != nil {
						return err
					}
				}
				if jsonOutput {
					return printJSON(changes)
				}
				fmt.Printf("Restored snapshot %s\n", args[1])
				for _, c := range changes {
					fmt.Printf("  %s %s (%s)\n", c.Action, c.Path, c.Hash)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&applyDir, "apply", "", "write the restored files under this directory")

	return cmd
}

// applyFileChanges writes restored files under dir. Paths must stay inside dir.
func applyFileChanges(dir string, changes []engine.FileChange) error {
	for _, c := range changes {
		if !filepath.IsLocal(c.Path) {
			return fmt.Errorf("refusing to write %q outside %s", c.Path, dir)
		}
		target := filepath.Join(dir, c.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", c.Path, err)
		}
		if err := os.WriteFile(target, []byte(c.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", c.Path, err)
		}
		log.Debug().Str("path", target).Str("task_id", c.TaskID).Msg("Restored file")
	}
	return nil
}

func newSnapshotListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tree-id>",
		Short: "List a tree's snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				infos, err := r.orch.ListGlobalCheckpoints(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(infos)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tFILES\tCREATED")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", info.ID, info.Name, info.Files,
						info.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}
}
