package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/config"
	"unfurlbot/pkg/gateway"
	"unfurlbot/pkg/logger"
	"unfurlbot/pkg/ui/console"
	"unfurlbot/pkg/worker"
)

var (
	consoleRoom    string
	consoleNick    string
	consoleLogFile string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Talk to the bot in a terminal room",
	Long:  "Runs the queue, the worker and the extractor pipeline behind an interactive terminal room. Logs are written to a file while the console is open.",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = cmd, args

		logPath := consoleLogPath()
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Printf("failed to open log file: %v\n", err)
			return
		}
		defer logFile.Close()

		cfg, log, err := loadRuntime("cmd.console", logFile)
		if err != nil {
			fmt.Println(err)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Console starting", "room_id", consoleRoom, "log_file", logPath)
		if err := runConsole(ctx, cfg, log); err != nil {
			fmt.Printf("console failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleRoom, "room", "console", "room id for typed messages")
	consoleCmd.Flags().StringVar(&consoleNick, "nick", "", "nickname shown in the room")
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "", "log destination (default: unfurlbot-console.log in the temp dir)")
}

func runConsole(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	pipeline, err := gateway.BuildPipeline(ctx, cfg, nil, slog.Default())
	if err != nil {
		return err
	}
	defer pipeline.Close()

	queue := bus.NewQueue(cfg.Worker.MaxPending)
	defer queue.Close()
	events := bus.NewEventHub()
	defer events.Close()

	room := console.NewRoom()
	w, err := worker.New(queue, pipeline.Handler, room, worker.Options{
		PollInterval: cfg.Worker.PollInterval(),
		Events:       events,
		Logger:       slog.Default(),
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobEvents, unsubscribe := events.Subscribe(runCtx, 0)
	defer unsubscribe()
	wg.Go(func() {
		for event := range jobEvents {
			logEvent(log, event)
		}
	})
	wg.Go(func() {
		if err := w.Run(runCtx); err != nil {
			log.Error("Worker stopped", "error", err)
		}
	})

	return console.Run(runCtx, queue, events, room, console.Options{
		RoomID:   consoleRoom,
		Nickname: consoleNick,
		Entries:  pipeline.Entries,
	})
}

func consoleLogPath() string {
	if path := strings.TrimSpace(consoleLogFile); path != "" {
		return path
	}

	return filepath.Join(os.TempDir(), "unfurlbot-console.log")
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{logger.KeyJobID, event.JobID, logger.KeyRoomID, event.RoomID}
	switch event.Type {
	case bus.EventJobFailed:
		log.Error("Console job failed", append(attrs, logger.KeyError, event.Error)...)
	case bus.EventJobEnqueued:
		log.Debug("Console message queued", attrs...)
	default:
		log.Info("Console job finished", append(attrs, "result", string(event.Type))...)
	}
}
