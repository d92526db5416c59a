package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openfroyo/tasktree/pkg/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var (
		listen       string
		recoverTasks bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a long-lived process",
		Long: `Run the engine as a long-lived process. It exposes Prometheus metrics,
reloads admission policies when policy.watch is set, and logs every tree
event until interrupted.

With --recover, tasks left in test_writing, coding or testing by a previous
crash are reset to pending on startup.`,
		Example: `  tasktree serve --listen :9090 --recover`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withRuntime(ctx, func(r *runtime) error {
				if recoverTasks {
					recoverInterrupted(ctx, r)
				}

				if r.policy != nil && r.cfg.Policy.Watch && len(r.cfg.Policy.Paths) > 0 {
					if err := r.policy.Watch(ctx, r.cfg.Policy.Paths); err != nil {
						return err
					}
				}

				r.orch.Subscribe(func(e telemetry.Event) {
					log.Info().
						Str("type", e.Type).
						Str("tree_id", e.TreeID).
						Str("task_id", e.TaskID).
						Msg(e.Message)
				}, nil)

				server := r.tel.Metrics.NewMetricsServer()
				if listen != "" {
					server.Addr = listen
				}
				errCh := make(chan error, 1)
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()
				log.Info().Str("addr", server.Addr).Msg("Serving metrics")

				select {
				case <-ctx.Done():
				case err := <-errCh:
					if err != nil {
						return err
					}
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "metrics listen address (default: telemetry.metrics.listen_address)")
	cmd.Flags().BoolVar(&recoverTasks, "recover", false, "reset interrupted tasks on startup")

	return cmd
}

func recoverInterrupted(ctx context.Context, r *runtime) {
	trees, err := r.orch.ListTrees(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list trees for recovery")
		return
	}
	for _, t := range trees {
		ids, err := r.orch.ResetInterruptedTasks(ctx, t.ID)
		if err != nil {
			log.Error().Err(err).Str("tree_id", t.ID).Msg("Failed to reset interrupted tasks")
			continue
		}
		if len(ids) > 0 {
			log.Info().Str("tree_id", t.ID).Int("tasks", len(ids)).Msg("Reset interrupted tasks")
		}
	}
}
