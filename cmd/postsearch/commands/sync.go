package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewSyncCmd constructs the `postsearch sync` command, which reconciles
// POSTS_DIR into the document store once and prints the summary.
func NewSyncCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the posts directory into the document store",
		Long: `Reconcile POSTS_DIR into the document store.

New and changed posts are embedded and upserted; posts whose files were
removed are deleted. Posts created through the push feed by a user are never
deleted. With --full every post is re-embedded regardless of its hash.

The summary is printed to stdout as JSON:
  {"total":12,"inserted":1,"updated":2,"deleted":0,"unchanged":9}

Examples:
  postsearch sync
  postsearch sync --full
  POSTS_DIR=./content/blog postsearch sync`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := rootLog

			d, err := buildDeps(ctx, settings, log)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			defer d.close()

			rec, err := d.reconciler(full)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			sum, err := rec.Run(ctx)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			log.Info("sync complete", slog.Bool("full", full))

			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(sum)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Re-embed every post, ignoring content hashes")

	return cmd
}
