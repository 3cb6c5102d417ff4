package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"fieldtrack/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fieldtrack",
		Short: "Field surveyor tracking service",
		Long: `fieldtrack runs one tracking session per dashboard connection. A session
follows a surveyor live over the push feed, falls back to a simulated walk
when the feed is unavailable, and reconstructs past routes from stored
samples and OSRM.

Configuration comes from the environment, an optional .env file and the
YAML file named by FIELDTRACK_CONFIG.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newReplayCmd())
	return root
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
