package console

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/channel"
)

// Options describes the session shown in the console header.
type Options struct {
	RoomID   string
	Nickname string
	Entries  []string
}

// Run attaches an interactive console to room until the user quits or ctx
// is cancelled. Typed lines go to queue; job outcomes are read from events.
func Run(ctx context.Context, queue channel.Enqueuer, events *bus.EventHub, room *Room, opts Options) error {
	if queue == nil || room == nil {
		return errors.New("console needs a queue and a room")
	}

	model := newModel(queue, opts)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen(), tea.WithMouseCellMotion())
	room.attach(program)
	defer room.attach(nil)

	if events != nil {
		jobEvents, unsubscribe := events.Subscribe(ctx, 0)
		defer unsubscribe()
		go forwardEvents(program, jobEvents, model.roomID)
	}

	_, err := program.Run()
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

// forwardEvents passes outcomes of console jobs to the program.
func forwardEvents(program *tea.Program, events <-chan bus.Event, roomID string) {
	for event := range events {
		if event.Channel != ChannelName || event.RoomID != roomID || event.Type == bus.EventJobEnqueued {
			continue
		}
		program.Send(jobDoneMsg{event: event})
	}
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("🔗 unfurlbot console closed")
}
