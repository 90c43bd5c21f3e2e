package console

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"unfurlbot/pkg/bus"
)

// ChannelName tags messages typed into the console.
const ChannelName = "console"

// Room is the console channel's sender. Replies are shown in the attached
// terminal program.
type Room struct {
	mu      sync.Mutex
	program *tea.Program
}

func NewRoom() *Room {
	return &Room{}
}

func (r *Room) Name() string {
	return ChannelName
}

// Notify hands out to the running console. It fails when no console is attached.
func (r *Room) Notify(_ context.Context, out bus.OutboundMessage) error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	if program == nil {
		return errors.New("console is not attached")
	}

	program.Send(replyMsg{out: out})
	return nil
}

func (r *Room) attach(program *tea.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.program = program
}
