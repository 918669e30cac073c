package formatter

import "github.com/charmbracelet/lipgloss"

// Palette is a simple stylesheet built with named [lipgloss.Style] fields.
type Palette struct {
	title   lipgloss.Style
	ok      lipgloss.Style
	err     lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
	program lipgloss.Style
	preview lipgloss.Style
}

// DefaultPalette colors connection and tally state for a terminal.
func DefaultPalette() *Palette {
	return &Palette{
		title:   NewBold("#7D56F4"),
		ok:      NewBold("#04B575"),
		err:     NewBold("#FF0000"),
		warn:    NewStyle("#FFA500"),
		muted:   NewEm("#626262"),
		program: NewBold("#FFFFFF").Background(lipgloss.Color("#D7263D")).Padding(0, 1),
		preview: NewBold("#000000").Background(lipgloss.Color("#04B575")).Padding(0, 1),
	}
}

// PlainPalette renders text unchanged.
func PlainPalette() *Palette {
	plain := lipgloss.NewStyle()
	return &Palette{title: plain, ok: plain, err: plain, warn: plain, muted: plain, program: plain, preview: plain}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
