package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted task trees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				trees, err := r.orch.ListTrees(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(trees)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTASKS\tDONE\tCREATED")
				for _, t := range trees {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
						t.ID, t.Name, t.Status, t.TotalTasks, t.CompletionPercent,
						t.CreatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
}

func newShowCommand() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "show <tree-id>",
		Short: "Show a task tree or one of its tasks",
		Example: `  # Print the tree outline with statuses
  tasktree show 6f1c...

  # Print one task as JSON
  tasktree show 6f1c... --task 9ab2... --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			treeID := args[0]

			return withRuntime(ctx, func(r *runtime) error {
				if taskID != "" {
					task, err := r.orch.GetTask(ctx, treeID, taskID)
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(task)
					}
					printTask(task)
					return nil
				}

				tree, err := r.orch.GetTree(ctx, treeID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(tree)
				}

				fmt.Printf("Tree %s  %s  %.0f%% complete\n\n", tree.ID, tree.Status, tree.Stats.CompletionPercent)
				engine.Walk(tree.Root, func(n *engine.TaskNode) bool {
					fmt.Printf("%s%-12s %s  (%s)\n", strings.Repeat("  ", n.Depth), n.Status, n.Name, n.ID)
					return true
				})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "show a single task")

	return cmd
}

func printTask(n *engine.TaskNode) {
	fmt.Printf("Task %s\n", n.ID)
	fmt.Printf("  name:        %s\n", n.Name)
	if n.Description != "" {
		fmt.Printf("  description: %s\n", n.Description)
	}
	fmt.Printf("  status:      %s\n", n.Status)
	fmt.Printf("  type:        %s\n", n.Type)
	fmt.Printf("  module:      %s\n", n.ModuleID)
	fmt.Printf("  provenance:  %s\n", n.Provenance)
	fmt.Printf("  priority:    %d\n", n.Priority)
	fmt.Printf("  retries:     %d/%d (tests %d/%d)\n", n.RetryCount, n.MaxRetries, n.TestRetryCount, n.MaxTestRetries)
	if len(n.Dependencies) > 0 {
		fmt.Printf("  depends on:  %s\n", strings.Join(n.Dependencies, ", "))
	}
	for _, at := range n.AcceptanceTests {
		fmt.Printf("  test:        %s %s (%d runs)\n", at.ID, at.Name, len(at.Runs))
	}
	for _, a := range n.Artifacts {
		fmt.Printf("  artifact:    %s %s\n", a.Type, a.Path)
	}
	if res := n.LatestTestResult; res != nil {
		fmt.Printf("  last test:   passed=%v %d/%d failures\n", res.Passed, res.Failures, res.Total)
	}
	fmt.Printf("  checkpoints: %d\n", len(n.Checkpoints))
}

func newReadyCommand() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "ready <tree-id>",
		Short: "List tasks that can start now",
		Long: `List leaf tasks whose status allows starting and whose dependencies
are all passed or approved, highest priority first.

With --task, explain whether one task can start and what it is waiting on.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			treeID := args[0]

			return withRuntime(ctx, func(r *runtime) error {
				if taskID != "" {
					ok, unmet, err := r.orch.CanStart(ctx, treeID, taskID)
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(map[string]interface{}{"can_start": ok, "unmet": unmet})
					}
					if ok {
						fmt.Printf("Task %s can start\n", taskID)
						return nil
					}
					fmt.Printf("Task %s cannot start:\n", taskID)
					for _, u := range unmet {
						fmt.Printf("  - %s\n", u)
					}
					return nil
				}

				tasks, err := r.orch.ExecutableTasks(ctx, treeID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(tasks)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tNAME")
				for _, t := range tasks {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", t.ID, t.Priority, t.Status, t.Name)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "explain readiness of a single task")

	return cmd
}

func newGraphCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph <tree-id>",
		Short: "Print the dependency graph of a tree",
		Example: `  # Execution levels, one per line
  tasktree graph 6f1c...

  # Render with graphviz
  tasktree graph 6f1c... --dot | dot -Tsvg > tree.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				levels, graph, err := r.orch.Graph(ctx, args[0])
				if err != nil {
					return err
				}
				switch {
				case dot:
					fmt.Print(graph)
				case jsonOutput:
					return printJSON(levels)
				default:
					for i, level := range levels {
						fmt.Printf("%d: %s\n", i, strings.Join(level, " "))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "output graphviz DOT")

	return cmd
}

func newEventsCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "events <tree-id>",
		Short: "Print the event journal of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				events, err := r.orch.Events(ctx, args[0], limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(events)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tTYPE\tTASK\tPAYLOAD")
				for _, e := range events {
					task, payload := "-", ""
					if e.TaskID != nil {
						task = *e.TaskID
					}
					if e.Payload != nil {
						payload = *e.Payload
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, task, payload)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of events to skip")

	return cmd
}
