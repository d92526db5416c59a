package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return failed or interrupted tasks to pending",
	}
	cmd.AddCommand(newResetFailedCommand())
	cmd.AddCommand(newResetInterruptedCommand())
	return cmd
}

func newResetFailedCommand() *cobra.Command {
	var resetRetries bool

	cmd := &cobra.Command{
		Use:   "failed <tree-id>",
		Short: "Reset every test_failed or rejected task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				ids, err := r.orch.ResetFailedTasks(ctx, args[0], resetRetries)
				if err != nil {
					return err
				}
				return printReset(ids)
			})
		},
	}

	cmd.Flags().BoolVar(&resetRetries, "reset-retries", false, "also zero the retry counters")

	return cmd
}

func newResetInterruptedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "interrupted <tree-id>",
		Short: "Reset every task left in test_writing, coding or testing",
		Long: `Reset every task left in test_writing, coding or testing, typically after
a worker crashed mid-task.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				ids, err := r.orch.ResetInterruptedTasks(ctx, args[0])
				if err != nil {
					return err
				}
				return printReset(ids)
			})
		},
	}
}

func printReset(ids []string) error {
	if jsonOutput {
		return printJSON(ids)
	}
	if len(ids) == 0 {
		fmt.Println("Nothing to reset")
		return nil
	}
	fmt.Printf("Reset %d task(s): %s\n", len(ids), strings.Join(ids, ", "))
	return nil
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tree-id>",
		Short: "Delete a task tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				if err := r.orch.DeleteTree(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted tree %s\n", args[0])
				return nil
			})
		},
	}
}
