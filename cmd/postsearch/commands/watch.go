package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/postsearch-go/internal/watch"
)

// NewWatchCmd constructs the `postsearch watch` command, which re-runs sync
// (or push) whenever POSTS_DIR changes.
func NewWatchCmd() *cobra.Command {
	var push bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the posts directory and sync on change",
		Long: `Watch POSTS_DIR and re-run sync after each burst of edits.

Changes are debounced by one second. Edits that land while a run is in
progress schedule exactly one follow-up run. Hidden files (such as the sync
ledger) are ignored. Failed runs are logged and watching continues.

With --push, changes are pushed to API_BASE_URL instead of reconciled into
the local store.

Examples:
  postsearch watch
  postsearch watch --push`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := rootLog

			var run func(ctx context.Context) error
			if push {
				emb, err := buildEmbedder(log)
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				pusher, err := buildPusher(settings, emb, false, log)
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				run = func(ctx context.Context) error {
					sum, err := pusher.Run(ctx)
					if err == nil {
						log.Info("watch: push complete", slog.Int("sent", sum.Total))
					}
					return err
				}
			} else {
				d, err := buildDeps(ctx, settings, log)
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				defer d.close()
				rec, err := d.reconciler(false)
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				run = func(ctx context.Context) error {
					_, err := rec.Run(ctx)
					return err
				}
			}

			w, err := watch.New(settings.PostsDir, run, watch.Options{Logger: log})
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return w.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&push, "push", false, "Push changes to API_BASE_URL instead of syncing the local store")

	return cmd
}
