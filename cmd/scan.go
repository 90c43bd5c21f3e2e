package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/gateway"
	"unfurlbot/pkg/worker"
)

const scanChannelName = "cli"

var scanText string

var scanCmd = &cobra.Command{
	Use:   "scan [text]",
	Short: "Run the extractor table over a message",
	Long:  "Builds the extractor pipeline and prints the reply for the given text, or for every line of stdin when no text is given.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd

		cfg, log, err := loadRuntime("cmd.scan", os.Stderr)
		if err != nil {
			fmt.Println(err)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipeline, err := gateway.BuildPipeline(ctx, cfg, nil, slog.Default())
		if err != nil {
			log.Error("Failed to build pipeline", "error", err)
			return
		}
		defer pipeline.Close()

		if text := resolveText(args); text != "" {
			if reply, ok := pipeline.Handler.Handle(ctx, scanMessage(text)); ok {
				printReply(os.Stdout, reply)
			}
			return
		}

		if err := scanLines(ctx, pipeline.Handler, os.Stdin, os.Stdout); err != nil {
			fmt.Printf("input error: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVarP(&scanText, "text", "t", "", "message text to scan")
}

func resolveText(args []string) string {
	if value := strings.TrimSpace(scanText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func scanMessage(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    scanChannelName,
		RoomID:     "stdin",
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	}
}

// scanLines answers each non-blank line of in, in order.
func scanLines(ctx context.Context, handler worker.MessageHandler, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if reply, ok := handler.Handle(ctx, scanMessage(text)); ok {
			printReply(out, reply)
		}
	}

	return scanner.Err()
}

func printReply(out io.Writer, reply string) {
	lines := replyLines(reply)
	for _, line := range lines {
		fmt.Fprintf(out, "🔗 %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Fprintln(out)
	}
}

func replyLines(reply string) []string {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}
