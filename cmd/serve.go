package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"unfurlbot/pkg/config"
	"unfurlbot/pkg/gateway"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"gateway"},
	Short:   "Run the bot gateway",
	Long:    "Runs unfurlbot as a service: enabled channels feed the job queue, one worker sends replies, and /healthz, /readyz and /metrics are served.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := loadRuntime("cmd.serve", os.Stderr)
		if err != nil {
			fmt.Println(err)
			return
		}
		applyServeFlags(cmd, cfg)

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(runCtx, cfg, slog.Default())
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway starting", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port, "poll_interval", cfg.Worker.PollInterval())
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	bindServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func bindServeFlags(c *cobra.Command) {
	c.Flags().StringVar(&serveHost, "host", "", "listen host, overrides gateway.host")
	c.Flags().IntVar(&servePort, "port", 0, "listen port, overrides gateway.port")
}

// applyServeFlags lets explicitly set flags win over config.json.
func applyServeFlags(c *cobra.Command, cfg *config.Config) {
	if c.Flags().Changed("host") {
		cfg.Gateway.Host = serveHost
	}
	if c.Flags().Changed("port") {
		cfg.Gateway.Port = servePort
	}
}
