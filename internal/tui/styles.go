package tui

import "github.com/charmbracelet/lipgloss"

type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Label    lipgloss.Style
	Info     lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Faint    lipgloss.Style
	Box      lipgloss.Style
	Spinner  lipgloss.Style
	Upload   lipgloss.Style
	Process  lipgloss.Style
}

func defaultStyles() Styles {
	base := lipgloss.NewStyle()
	return Styles{
		Title:    base.Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		Subtitle: base.Faint(true),
		Label:    base.Foreground(lipgloss.Color("#A3A3A3")),
		Info:     base.Foreground(lipgloss.Color("#D1D5DB")),
		Success:  base.Foreground(lipgloss.Color("#22C55E")),
		Error:    base.Foreground(lipgloss.Color("#EF4444")),
		Warning:  base.Foreground(lipgloss.Color("#F59E0B")),
		Faint:    base.Faint(true),
		Box:      base.Padding(0, 1),
		Spinner:  base.Foreground(lipgloss.Color("#22D3EE")),
		Upload:   base.Foreground(lipgloss.Color("#60A5FA")),
		Process:  base.Foreground(lipgloss.Color("#06B6D4")),
	}
}
