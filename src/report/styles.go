package report

import "github.com/charmbracelet/lipgloss"

// Styles holds the colors of rendered tables.
type Styles struct {
	Header  lipgloss.Color
	Border  lipgloss.Color
	Muted   lipgloss.Color
	Good    lipgloss.Color
	Bad     lipgloss.Color
	Warning lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *Styles {
	return &Styles{
		Header:  lipgloss.Color("#8AB4F8"),
		Border:  lipgloss.Color("#5F6368"),
		Muted:   lipgloss.Color("#9AA0A6"),
		Good:    lipgloss.Color("#34A853"),
		Bad:     lipgloss.Color("#EA4335"),
		Warning: lipgloss.Color("#FBBC04"),
	}
}

// TitleStyle returns a title lipgloss style using this config
func (s *Styles) TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.Header).
		Bold(true)
}

// TableStyle returns the bordered box around a table.
func (s *Styles) TableStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.Border).
		Padding(0, 1)
}

// StatusStyle colors a build or run status.
func (s *Styles) StatusStyle(status string) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch status {
	case "SUCCESS", "completed", "posted":
		return style.Foreground(s.Good)
	case "FAILURE", "failed", "errored":
		return style.Foreground(s.Bad)
	case "UNSTABLE", "INCOMPLETE", "deferred", "in-flight":
		return style.Foreground(s.Warning)
	}
	return style.Foreground(s.Muted)
}
