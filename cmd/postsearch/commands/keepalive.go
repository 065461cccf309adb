package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/postsearch-go/internal/keepalive"
)

// NewKeepAliveCmd constructs the `postsearch keepalive` command, which pings
// a deployed instance on an interval.
func NewKeepAliveCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Ping a deployed instance so it is not idled",
		Long: `Send GET requests to KEEP_ALIVE_URL every KEEP_ALIVE_INTERVAL_MS
(default 5 minutes), starting immediately. Each request is bounded by
KEEP_ALIVE_TIMEOUT_MS (default 5 seconds). Status, latency and a short body
preview are logged; failures never stop the loop.

Examples:
  KEEP_ALIVE_URL=https://api.example.com postsearch keepalive
  postsearch keepalive --url https://api.example.com/`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			target := settings.KeepAliveURL
			if cmd.Flags().Changed("url") {
				target = url
			}
			if target == "" {
				return fmt.Errorf("keepalive: KEEP_ALIVE_URL or --url is required")
			}

			p, err := keepalive.New(keepalive.Config{
				URL:      target,
				Interval: settings.KeepAliveInterval,
				Timeout:  settings.KeepAliveTimeout,
			}, rootLog)
			if err != nil {
				return err
			}
			return p.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "URL to ping (overrides KEEP_ALIVE_URL)")

	return cmd
}
