package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pubino/bsp/pkg/browser"
	"github.com/pubino/bsp/pkg/config"
	"github.com/pubino/bsp/pkg/logging"
	"github.com/pubino/bsp/pkg/schema"
	"github.com/pubino/bsp/pkg/server"
	"github.com/pubino/bsp/pkg/sessionstore"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API that drives a headful browser session.

The browser is launched lazily on the first session request and only when
DISPLAY is set and BSP_SANCTIONED_ENV is true.

Examples:
  bsp serve
  bsp serve --addr :8080`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default from BSP_LISTEN_ADDR)")
	cmd.Flags().Bool("quiet", false, "disable request logging")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, warnings := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	logging.SetDirectory(cfg.LogDir)
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.MustLogger("bsp")
	defer logger.Close()

	for _, w := range warnings {
		logger.Warnf("config: %s", w)
	}
	if cfg.BaseURL == "" {
		logger.Warnf("config: %s is not set; content operations will fail", config.EnvBaseURL)
	}
	if !cfg.LaunchAllowed() {
		logger.Warnf("browser launch disabled: requires DISPLAY and %s=true", config.EnvSanctioned)
	}

	store := sessionstore.NewFileStore(cfg.SessionFile)
	manager := browser.NewManager(browser.Options{
		Config:  cfg,
		Store:   store,
		Schemas: schema.NewDirLoader(cfg.SchemaDir, logger.With("schema")),
		Logger:  logger.With("browser"),
	})
	defer manager.Shutdown()

	quiet, _ := cmd.Flags().GetBool("quiet")
	srv := server.New(server.Options{
		Browser: manager,
		Store:   store,
		Logger:  logger.With("http"),
		Quiet:   quiet,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Infof("bsp v%s starting (base %q, session %s, log %s)", version, cfg.BaseURL, cfg.SessionFile, logger.LogPath())
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Infof("shutting down")
	return nil
}
