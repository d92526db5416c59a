package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// refreshDelay coalesces bursts of store writes into one refresh.
const refreshDelay = 250 * time.Millisecond

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [tree-id]",
		Short: "Follow store changes made by other processes",
		Long: `Watch the store directory and print tree progress whenever another
process writes to it. With a tree ID, print that tree's stats and ready
tasks instead of the tree list.

The badger backend locks its directory and cannot be watched while another
process has it open.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			treeID := ""
			if len(args) > 0 {
				treeID = args[0]
			}

			return withRuntime(ctx, func(r *runtime) error {
				if stores.Backend(r.cfg.Store.Backend) == stores.BackendMemory {
					return fmt.Errorf("the memory backend has nothing to watch")
				}

				watcher, err := fsnotify.NewWatcher()
				if err != nil {
					return fmt.Errorf("failed to create watcher: %w", err)
				}
				defer watcher.Close()

				if err := watcher.Add(r.cfg.Store.Path); err != nil {
					return fmt.Errorf("failed to watch %s: %w", r.cfg.Store.Path, err)
				}

				log.Info().Str("path", r.cfg.Store.Path).Msg("Watching store")
				refresh := func() {
					if err := printProgress(ctx, r.store, treeID); err != nil {
						log.Error().Err(err).Msg("Failed to read store")
					}
				}
				refresh()

				return watchLoop(ctx, watcher, refresh)
			})
		},
	}

	return cmd
}

// watchLoop calls refresh once per burst of writes until ctx is done.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, refresh func()) error {
	timer := time.NewTimer(refreshDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Store changed")
			timer.Reset(refreshDelay)

		case <-timer.C:
			refresh()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// printProgress reads the store directly; the orchestrator's registry would
// keep serving the copy it hydrated first.
func printProgress(ctx context.Context, store stores.TreeStore, treeID string) error {
	if treeID == "" {
		trees, err := store.ListTrees(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(trees)
		}
		fmt.Printf("--- %s\n", time.Now().Format("15:04:05"))
		for _, t := range trees {
			fmt.Printf("%s  %-11s %3.0f%%  %s\n", t.ID, t.Status, t.CompletionPercent, t.Name)
		}
		return nil
	}

	tree, err := store.LoadTree(ctx, treeID)
	if err != nil {
		return err
	}
	ready := engine.ExecutableTasks(tree)
	if jsonOutput {
		return printJSON(map[string]interface{}{
			"status": tree.Status,
			"stats":  tree.Stats,
			"ready":  ready,
		})
	}
	s := tree.Stats
	fmt.Printf("--- %s  %s %.0f%%  pending=%d in_progress=%d failed=%d passed=%d approved=%d\n",
		time.Now().Format("15:04:05"), tree.Status, s.CompletionPercent,
		s.Pending, s.InProgress, s.Failed, s.Passed, s.Approved)
	for _, t := range ready {
		fmt.Printf("  ready: %s  %s\n", t.ID, t.Name)
	}
	return nil
}
