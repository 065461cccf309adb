package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/postsearch-go/internal/search"
)

// NewSearchCmd constructs the `postsearch search` command, which runs one
// query against the local store and prints the results.
func NewSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search posts from the command line",
		Long: `Run one search against the local document store and print the JSON
response, exactly as GET /search would return it.

Examples:
  postsearch search "kubernetes networking"
  postsearch search --limit 10 rust`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := buildDeps(ctx, settings, rootLog)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer d.close()

			svc, err := d.searchService()
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			resp, err := svc.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultLimit, fmt.Sprintf("Maximum results (1-%d)", search.MaxLimit))

	return cmd
}
