package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tokenrelay/internal/app"
	"tokenrelay/pkg/logging"
)

// serveCmd starts the forward proxy and the admin API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the token-injecting forward proxy",
	Long: `Starts the forward proxy and, unless disabled in the configuration, the admin API.

Requests sent through the proxy whose URL starts with a registered resource server
get the stored access token attached. Expired tokens are refreshed first, and a 401
from the resource server triggers one refresh and one retry. Token endpoint responses
that pass through the proxy are intercepted so the tokens are stored and never reach
the client.

The configuration file is watched and resources added to it are registered without
a restart. Stop the proxy with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Init(level, cmd.ErrOrStderr(), logging.Format(cfg.LogFormat))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, configFilePath())
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logging.Error("CLI", err, "Failed to close application")
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Proxy listening on %s\n", cfg.Proxy.Listen)
	if cfg.API.Enabled {
		fmt.Fprintf(cmd.OutOrStdout(), "Admin API listening on %s\n", cfg.API.Listen)
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
