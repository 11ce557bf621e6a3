package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"or3sync/cmd/client/cmd/types"
	"or3sync/internal/app/client"
	"or3sync/internal/app/client/config"
	"or3sync/internal/utils/logger"
)

var (
	configDir string
	cfg       *config.Config
	log       *slog.Logger
	app       *client.App
	debug     bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "or3sync",
	Short: "or3sync keeps a local replica of a workspace in sync with the server",
	Long: `or3sync is a local-first client. Writes land in a local SQLite replica
and an outbox first; sync pushes the outbox and pulls remote changes.

Conflicting writes to the same row are settled by last-writer-wins on
hybrid logical clocks, so every device converges to the same state.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	if configDir != "" {
		if err := os.Setenv("OR3SYNC_CONFIG_DIR", configDir); err != nil {
			return err
		}
	}
	cfg = config.MustLoad()
	if serverURL != "" {
		cfg.ServerAddress = serverURL
	}

	env := cfg.Env
	if debug {
		env = "dev"
	}
	log = logger.New(env)

	var err error
	app, err = client.New(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("open local replica: %w", err)
	}
	cmd.SetContext(types.WithApp(cmd.Context(), app))
	return nil
}

func closeApp(_ *cobra.Command, _ []string) error {
	if app == nil {
		return nil
	}
	return app.Close()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "config directory (default ~/.or3sync)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "sync server address, overrides the config file")
}
