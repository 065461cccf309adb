// Package commands defines all Cobra CLI commands for the postsearch binary.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/postsearch-go/internal/audit"
	"github.com/54b3r/postsearch-go/internal/config"
	"github.com/54b3r/postsearch-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// settings is the resolved configuration, populated before any subcommand runs.
var settings config.Settings

// rootLog is the process logger, built after dotenv and YAML are applied so
// LOG_LEVEL and LOG_FORMAT from either take effect.
var rootLog = logging.Nop()

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "postsearch",
		Short: "postsearch: semantic search over a directory of blog posts",
		Long: `postsearch indexes a directory of Markdown/MDX posts into a document store
with vector embeddings and serves search-as-you-type over HTTP, falling back
to lexical matching whenever the embedding model is unavailable.

Configuration comes from the environment, .env.local / .env in the working
directory, and an optional YAML file (~/.postsearch/config.yaml).
Environment variables always win.
See 'postsearch --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			dotenv, err := config.LoadDotEnv(".")
			if err != nil {
				return err
			}

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			// YAML may have set LOG_LEVEL / LOG_FORMAT.
			log = logging.New()
			slog.SetDefault(log)
			rootLog = log

			settings = config.FromEnv()
			if err := settings.Validate(); err != nil {
				return fmt.Errorf("%s: %w", cmd.Name(), err)
			}

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), path, dotenv)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.postsearch/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewSyncCmd(),
		NewPushCmd(),
		NewWatchCmd(),
		NewSearchCmd(),
		NewKeepAliveCmd(),
		NewVersionCmd(),
	)

	return root
}
