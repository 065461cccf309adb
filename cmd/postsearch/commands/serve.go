package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/postsearch-go/internal/logging"
	"github.com/54b3r/postsearch-go/internal/reconcile"
	"github.com/54b3r/postsearch-go/internal/server"
	"github.com/54b3r/postsearch-go/internal/watch"
)

// NewServeCmd constructs the `postsearch serve` command, which starts the
// HTTP server over the document store.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var watchDir bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the postsearch HTTP server",
		Long: `Start the postsearch HTTP server.

Routes:
  GET  /search?q=&limit=        semantic search with lexical fallback
  POST /sync                    reconcile POSTS_DIR into the store
  POST /api/v1/posts/sync       receive pushed posts from another instance
  GET  /api/posts/feed          cursor-paginated post feed
  GET  /api/health, /api/ready  liveness and readiness probes
  GET  /metrics                 Prometheus metrics
  /api/proxy/*                  API proxy (when PROXY_TARGET is set)

With POST_SYNC_ON_BOOT=true a reconcile starts in the background at boot,
bounded by POST_SYNC_TIMEOUT_MS. With --watch, edits to POSTS_DIR trigger a
reconcile after a one-second quiet period.

Examples:
  postsearch serve
  postsearch serve --port 9090 --watch
  EMBEDDING_PROVIDER=ollama postsearch serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := rootLog
			ctx = logging.WithLogger(ctx, log)

			if cmd.Flags().Changed("host") {
				settings.Host = host
			}
			if cmd.Flags().Changed("port") {
				settings.Port = port
			}

			d, err := buildDeps(ctx, settings, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer d.close()

			rec, err := d.reconciler(false)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			svc, err := d.searchService()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			srv, err := server.New(svc, rec, d.store, &server.Config{
				Host:        settings.Host,
				Port:        settings.Port,
				Logger:      log,
				Pingers:     d.pingers,
				RateLimit:   settings.RateLimit,
				RateBurst:   settings.RateBurst,
				SyncToken:   settings.SyncToken,
				JWTSecret:   settings.JWTSecret,
				ProxyTarget: settings.ProxyTarget,
				Embedder:    d.embedder,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			if settings.SyncOnBoot {
				log.Info("boot sync: scheduled", slog.Duration("timeout", settings.BootSyncTimeout))
				reconcile.RunDetached(ctx, rec, settings.BootSyncTimeout, log)
			}

			if watchDir {
				w, err := watch.New(settings.PostsDir, func(ctx context.Context) error {
					_, err := rec.Run(ctx)
					return err
				}, watch.Options{Logger: log})
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				go func() { _ = w.Run(ctx) }()
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides POSTSEARCH_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides POSTSEARCH_PORT)")
	cmd.Flags().BoolVar(&watchDir, "watch", false, "Re-run sync when POSTS_DIR changes")

	return cmd
}
