package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"unfurlbot/pkg/config"
	"unfurlbot/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "unfurlbot",
	Short: "Chat bot that answers links with titles and images",
	Long: `unfurlbot watches chat rooms for links it knows and replies with the
page title, a direct image URL or both. Replies are produced by a single
worker in the order messages arrive.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadRuntime loads config.json and installs the configured logger as the
// slog default, writing to w.
func loadRuntime(component string, w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewWithWriter(cfg.Logging, w)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, logger.Component(slog.Default(), component), nil
}
