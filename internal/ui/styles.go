package ui

import "github.com/charmbracelet/lipgloss"

// Palette holds the styles used for export output.
type Palette struct {
	heading  lipgloss.Style
	produced lipgloss.Style
	failed   lipgloss.Style
	notice   lipgloss.Style
	muted    lipgloss.Style
}

var styles = NewPalette(lipgloss.Color("#7D56F4"), lipgloss.Color("#04B575"), lipgloss.Color("#FF0000"),
	lipgloss.Color("#FFA500"), lipgloss.Color("#626262"))

// NewPalette builds a palette from heading, produced, failed, notice and muted colors.
func NewPalette(heading, produced, failed, notice, muted lipgloss.Color) *Palette {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return &Palette{
		heading:  fg(heading).Bold(true),
		produced: fg(produced).Bold(true),
		failed:   fg(failed).Bold(true),
		notice:   fg(notice),
		muted:    fg(muted).Italic(true),
	}
}

func (p *Palette) Heading(s string) string  { return p.heading.Render(s) }
func (p *Palette) Produced(s string) string { return p.produced.Render(s) }
func (p *Palette) Failed(s string) string   { return p.failed.Render(s) }
func (p *Palette) Notice(s string) string   { return p.notice.Render(s) }
func (p *Palette) Muted(s string) string    { return p.muted.Render(s) }
