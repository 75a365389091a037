package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/signalboard/internal/app"
	"github.com/alanyoungcy/signalboard/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and dashboard in the configured mode",
	Long: `Run signalboard in the mode set by the config file:

  full    engine, notifier, websocket hub and HTTP API in one process
  engine  evaluate strategies and notify; signals are broadcast over redis
  server  HTTP API and websocket relay of signals fired by engine instances`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("signalboard starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("signalboard stopped")
	return nil
}
