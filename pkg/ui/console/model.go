package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/channel"
)

const (
	defaultRoomID   = "console"
	defaultNickname = "you"
)

type line struct {
	role    role
	content string
}

type replyMsg struct {
	out bus.OutboundMessage
}

type jobDoneMsg struct {
	event bus.Event
}

type bootTickMsg struct{}

type model struct {
	queue    channel.Enqueuer
	roomID   string
	nickname string
	entries  []string

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	lines     []line
	width     int
	height    int
	isReady   bool
	pending   int
	replies   int
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
}

func newModel(queue channel.Enqueuer, opts Options) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Paste a link or say ping..."
	in.Focus()
	in.CharLimit = 0

	roomID := strings.TrimSpace(opts.RoomID)
	if roomID == "" {
		roomID = defaultRoomID
	}
	nickname := strings.TrimSpace(opts.Nickname)
	if nickname == "" {
		nickname = defaultNickname
	}

	return &model{
		queue:     queue,
		roomID:    roomID,
		nickname:  nickname,
		entries:   opts.Entries,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		booting:   true,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(m.bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.handleViewportMouse(typed) {
			return m, nil
		}
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			return m, m.submit()
		}
	case replyMsg:
		m.replies++
		m.lines = append(m.lines, line{role: roleBot, content: typed.out.Text})
		m.refreshViewport(false)
		return m, nil
	case jobDoneMsg:
		m.finishJob(typed.event)
		m.refreshViewport(false)
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)

	if typed, ok := msg.(spinner.TickMsg); ok {
		if m.pending == 0 {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	return m, cmd
}

// submit enqueues the typed line as a console message.
func (m *model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if isExitCommand(text) {
		return tea.Quit
	}

	m.input.SetValue("")
	m.followLog = true
	m.lines = append(m.lines, line{role: roleUser, content: text})

	err := m.queue.Enqueue(bus.InboundMessage{
		Channel:    ChannelName,
		RoomID:     m.roomID,
		SenderID:   m.nickname,
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		m.lastErr = err.Error()
		m.lines = append(m.lines, line{role: roleError, content: fmt.Sprintf("not queued: %v", err)})
		m.refreshViewport(true)
		return nil
	}

	m.lastErr = ""
	m.pending++
	m.refreshViewport(true)
	if m.pending == 1 {
		return m.spinner.Tick
	}
	return nil
}

func (m *model) finishJob(event bus.Event) {
	if m.pending > 0 {
		m.pending--
	}

	switch event.Type {
	case bus.EventJobUnmatched:
		m.lines = append(m.lines, line{role: roleNote, content: "nothing to unfurl"})
	case bus.EventJobFailed:
		m.lastErr = event.Error
		m.lines = append(m.lines, line{role: roleError, content: event.Error})
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("🔗 unfurlbot console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"room:%s · nick:%s · extractors:%d · pending:%d · replies:%d",
		m.roomID,
		m.nickname,
		len(m.entries),
		m.pending,
		m.replies,
	))
	divider := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.pending > 0 {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ %d job(s) in the queue...", m.spinner.View(), m.pending))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 last job failed")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		divider,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("💬 "+m.nickname)+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 10
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	var sections []string
	for _, item := range m.lines {
		c, ok := m.theme.cards[item.role]
		if !ok {
			continue
		}
		tag := ""
		if item.role == roleUser {
			tag = m.nickname
		}
		sections = append(sections, c.render(m.viewport.Width, tag, strings.TrimSpace(item.content)))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if previousOffset > maxOffset {
		previousOffset = maxOffset
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("🔗 unfurlbot console")
	meta := m.theme.headerMeta.Render("boot sequence")
	divider := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := m.bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ room "+m.roomID+" open"))
	}

	body := m.theme.viewport.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, divider, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

// handleViewportMouse scrolls on wheel events and ignores everything else.
func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	delta := m.viewport.MouseWheelDelta
	if delta <= 0 {
		delta = 3
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(m.viewport.YOffset - delta)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + delta)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func (m *model) bootScriptLines() []string {
	lines := []string{"[BOOT] job queue online"}
	if len(m.entries) > 0 {
		lines = append(lines, fmt.Sprintf("[BOOT] %d extractors loaded (%s ... %s)", len(m.entries), m.entries[0], m.entries[len(m.entries)-1]))
	}
	return append(lines, "[BOOT] worker attached", "[BOOT] joining room "+m.roomID)
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
