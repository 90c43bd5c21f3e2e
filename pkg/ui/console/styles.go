package console

import "github.com/charmbracelet/lipgloss"

// role is who a transcript line belongs to.
type role string

const (
	roleUser  role = "user"
	roleBot   role = "bot"
	roleNote  role = "note"
	roleError role = "error"
)

// card renders one transcript line: a tag strip above a bordered body.
type card struct {
	tag   string
	title lipgloss.Style
	box   lipgloss.Style
}

// render draws body at width. An empty tag falls back to the card's own.
func (c card) render(width int, tag, body string) string {
	if tag == "" {
		tag = c.tag
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		c.title.Render("▛▚ [ "+tag+" ] ▞▜"),
		c.box.Width(width).Render(body),
	)
}

// newCard derives a card's strip and box from one accent color.
func newCard(tag string, accent, background lipgloss.Color, border lipgloss.Border) card {
	return card{
		tag: tag,
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(accent).
			Padding(0, 1),
		box: lipgloss.NewStyle().
			Border(border).
			BorderForeground(accent).
			Background(background).
			Padding(0, 1),
	}
}

// theme holds the screen chrome plus one card per role.
type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	bootLine   lipgloss.Style
	bootDone   lipgloss.Style
	status     lipgloss.Style
	statusBusy lipgloss.Style
	statusErr  lipgloss.Style
	hint       lipgloss.Style
	inputLabel lipgloss.Style
	input      lipgloss.Style
	viewport   lipgloss.Style
	cards      map[role]card
}

func defaultTheme() theme {
	frame := lipgloss.Color("67")
	alarm := lipgloss.Color("203")

	errCard := newCard("ERROR", lipgloss.Color("160"), lipgloss.Color("52"), lipgloss.DoubleBorder())
	errCard.title = errCard.title.Foreground(lipgloss.Color("231"))
	errCard.box = errCard.box.BorderForeground(alarm).Foreground(alarm)

	noteCard := newCard("--", lipgloss.Color("109"), lipgloss.Color("236"), lipgloss.RoundedBorder())
	noteCard.box = noteCard.box.Foreground(lipgloss.Color("252"))

	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("24")),
		headerMeta: lipgloss.NewStyle().Foreground(lipgloss.Color("153")),
		divider:    lipgloss.NewStyle().Foreground(frame),
		bootLine:   lipgloss.NewStyle().Foreground(lipgloss.Color("180")),
		bootDone:   lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true),
		status:     lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Bold(true),
		statusBusy: lipgloss.NewStyle().Foreground(lipgloss.Color("222")).Bold(true),
		statusErr:  lipgloss.NewStyle().Foreground(alarm).Bold(true),
		hint:       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		inputLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(frame).
			Background(lipgloss.Color("236")).
			Padding(0, 1),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(frame).
			Background(lipgloss.Color("233")).
			Padding(0, 1),
		cards: map[role]card{
			roleUser:  newCard("", lipgloss.Color("214"), lipgloss.Color("235"), lipgloss.DoubleBorder()),
			roleBot:   newCard("🔗", lipgloss.Color("44"), lipgloss.Color("234"), lipgloss.DoubleBorder()),
			roleNote:  noteCard,
			roleError: errCard,
		},
	}
}
