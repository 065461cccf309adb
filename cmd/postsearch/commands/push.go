package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewPushCmd constructs the `postsearch push` command, which sends changed
// local posts to a remote instance's push feed.
func NewPushCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push changed posts to a remote postsearch instance",
		Long: `Push changed posts in POSTS_DIR to API_BASE_URL/api/v1/posts/sync.

A post is sent when its content hash differs from the one recorded in the
sync ledger (SYNC_STATE_FILE, default .sync-state.json). The ledger is
updated after each accepted batch, so an interrupted push resumes where it
stopped. With --dry-run nothing is embedded or sent.

Required environment variables (unless --dry-run):
  API_BASE_URL      remote instance root, e.g. https://blog.example.com
  POST_SYNC_TOKEN   shared token sent as a Bearer credential

Examples:
  postsearch push --dry-run
  API_BASE_URL=https://blog.example.com postsearch push`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := rootLog

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}
			pusher, err := buildPusher(settings, emb, dryRun, log)
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}

			sum, err := pusher.Run(ctx)
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(sum)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log what would be pushed without embedding or sending")

	return cmd
}
