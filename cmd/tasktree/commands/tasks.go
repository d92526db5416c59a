package commands

import (
	"fmt"
	"os"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var (
		meta   map[string]string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "status <tree-id> <task-id> <status>",
		Short: "Request a task status change",
		Long: `Request a task status change. Parent statuses are derived from their
children after every change.

Illegal requests (leaving approved or cancelled, or passed back to a failure)
are reported and otherwise ignored; use --strict to turn them into an error.`,
		Example: `  tasktree status 6f1c... 9ab2... coding
  tasktree status 6f1c... 9ab2... rejected --meta reason="missing edge case"`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			treeID, taskID := args[0], args[1]
			status := engine.TaskStatus(args[2])
			if err := status.Validate(); err != nil {
				return err
			}

			return withRuntime(ctx, func(r *runtime) error {
				res, err := r.orch.UpdateTaskStatus(ctx, treeID, taskID, status, meta)
				if err != nil {
					return err
				}
				if jsonOutput {
					if err := printJSON(res); err != nil {
						return err
					}
				} else if res.Applied {
					fmt.Printf("%s: %s -> %s\n", taskID, res.Previous, res.Current)
				} else {
					fmt.Printf("%s: not applied: %s\n", taskID, res.Reason)
				}
				if strict {
					return res.Err()
				}
				return nil
			})
		},
	}

	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata to merge into the task (key=value)")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when the transition is refused")

	return cmd
}

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Refine and retry tasks",
	}
	cmd.AddCommand(newTaskAddCommand())
	cmd.AddCommand(newTaskRetryCommand())
	return cmd
}

func newTaskAddCommand() *cobra.Command {
	var spec orchestrator.TaskSpec

	cmd := &cobra.Command{
		Use:   "add <tree-id> <parent-id>",
		Short: "Add a subtask under an existing task",
		Example: `  tasktree task add 6f1c... 9ab2... --name "Paginate results" --depends-on 1c7d...`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				task, err := r.orch.AddTask(ctx, args[0], args[1], spec)
				if err != nil {
					return err
				}
				if err := r.orch.Wait(ctx); err != nil {
					log.Warn().Err(err).Msg("Stopped waiting for test generation")
				}
				if jsonOutput {
					return printJSON(task)
				}
				fmt.Printf("Added task %s under %s\n", task.ID, args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&spec.Name, "name", "", "task name")
	cmd.Flags().StringVar(&spec.Description, "description", "", "task description")
	cmd.Flags().IntVar(&spec.Priority, "priority", 0, "task priority (higher runs first)")
	cmd.Flags().StringVar((*string)(&spec.Provenance), "provenance", "", "requirement or codebase (default: the parent's)")
	cmd.Flags().StringSliceVar(&spec.Dependencies, "depends-on", nil, "task IDs this task depends on")
	cmd.Flags().StringToStringVar(&spec.Metadata, "meta", nil, "task metadata (key=value)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newTaskRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <tree-id> <task-id>",
		Short: "Count one more attempt at a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				count, exhausted, err := r.orch.IncrementRetry(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]interface{}{"retry_count": count, "exhausted": exhausted})
				}
				fmt.Printf("retry %d", count)
				if exhausted {
					fmt.Print(" (ceiling reached)")
				}
				fmt.Println()
				return nil
			})
		},
	}
}

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Record test outcomes",
	}
	cmd.AddCommand(newTestRecordCommand())
	cmd.AddCommand(newTestAcceptCommand())
	return cmd
}

func newTestRecordCommand() *cobra.Command {
	var (
		result     engine.TestResult
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "record <tree-id> <task-id>",
		Short: "Record the latest test run of a task",
		Long: `Record the latest test run of a task. A task in testing moves to passed
or test_failed; a failed run counts against the task's test retries.`,
		Example: `  go test ./... 2>&1 | tee out.txt; tasktree test record 6f1c... 9ab2... --total 12 --failures 0 --passed --output-file out.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if outputFile != "" {
				data, err := os.ReadFile(outputFile)
				if err != nil {
					return fmt.Errorf("failed to read test output: %w", err)
				}
				result.Output = string(data)
			}
			return withRuntime(ctx, func(r *runtime) error {
				if err := r.orch.RecordTestResult(ctx, args[0], args[1], result); err != nil {
					return err
				}
				task, err := r.orch.GetTask(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(task)
				}
				fmt.Printf("%s: %s\n", task.ID, task.Status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&result.Passed, "passed", false, "the run passed")
	cmd.Flags().IntVar(&result.Total, "total", 0, "number of tests run")
	cmd.Flags().IntVar(&result.Failures, "failures", 0, "number of failing tests")
	cmd.Flags().DurationVar(&result.Duration, "duration", 0, "how long the run took")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "file holding the test output")

	return cmd
}

func newTestAcceptCommand() *cobra.Command {
	var (
		passed bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "accept <tree-id> <task-id> <test-id>",
		Short: "Record a run of one acceptance test",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				return r.orch.RecordAcceptanceTestResult(ctx, args[0], args[1], args[2], passed, output)
			})
		},
	}

	cmd.Flags().BoolVar(&passed, "passed", false, "the test passed")
	cmd.Flags().StringVar(&output, "output", "", "test output")

	return cmd
}

func newArtifactCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Manage task artifacts",
	}
	cmd.AddCommand(newArtifactAddCommand())
	return cmd
}

func newArtifactAddCommand() *cobra.Command {
	var (
		typ  string
		from string
	)

	cmd := &cobra.Command{
		Use:   "add <tree-id> <task-id> <path>",
		Short: "Record a file produced for a task",
		Long: `Record a file produced for a task. The content is read from --from, or
from <path> itself when --from is not given.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src := from
			if src == "" {
				src = args[2]
			}
			content, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("failed to read artifact: %w", err)
			}

			return withRuntime(ctx, func(r *runtime) error {
				artifact, err := r.orch.AppendArtifact(ctx, args[0], args[1], engine.ArtifactType(typ), args[2], string(content))
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(artifact)
				}
				fmt.Printf("Recorded %s artifact %s (%s)\n", artifact.Type, artifact.Path, artifact.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&typ, "type", string(engine.ArtifactCode), "artifact type (test, code, doc)")
	cmd.Flags().StringVar(&from, "from", "", "read content from this file instead of <path>")

	return cmd
}
