package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/tasktree/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBuildCommand() *cobra.Command {
	var (
		noWait      bool
		waitTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "build <blueprint>",
		Short: "Build a task tree from a blueprint",
		Long: `Build a task tree from a blueprint and persist it.

The blueprint is validated against the CUE schema and, when enabled, the
admission policies. When a generator command is configured, acceptance
tests are requested for every new leaf and the command waits for them.`,
		Example: `  # Build from a CUE blueprint
  tasktree build ./shop.cue

  # Build from YAML into a file store without waiting for test generation
  tasktree build --backend file --store ./trees --no-wait shop.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bp, err := config.NewBlueprintLoader().Load(ctx, args[0])
			if err != nil {
				return err
			}

			return withRuntime(ctx, func(r *runtime) error {
				log.Info().
					Str("blueprint", bp.Name).
					Int("modules", len(bp.Modules)).
					Msg("Building task tree")

				tree, err := r.orch.CreateTree(ctx, bp)
				if err != nil {
					return err
				}

				if !noWait {
					waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
					defer cancel()
					if err := r.orch.Wait(waitCtx); err != nil {
						log.Warn().Err(err).Msg("Stopped waiting for test generation")
					}
				}

				stats, status, err := r.orch.GetStats(ctx, tree.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]interface{}{
						"id":     tree.ID,
						"status": status,
						"stats":  stats,
					})
				}
				fmt.Printf("Created tree %s (%s)\n", tree.ID, bp.Name)
				fmt.Printf("  tasks: %d, leaves: %d, status: %s\n", stats.TotalTasks, stats.Leaves, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for acceptance-test generation")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 10*time.Minute, "how long to wait for test generation")

	return cmd
}
