package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ftahirops/gentop/model"
)

var (
	// Colors
	colorRed     = lipgloss.Color("#FF5555")
	colorYellow  = lipgloss.Color("#F1FA8C")
	colorGreen   = lipgloss.Color("#50FA7B")
	colorCyan    = lipgloss.Color("#8BE9FD")
	colorMagenta = lipgloss.Color("#FF79C6")
	colorOrange  = lipgloss.Color("#FFB86C")
	colorWhite   = lipgloss.Color("#F8F8F2")
	colorGray    = lipgloss.Color("#6272A4")
	colorPanel   = lipgloss.Color("#44475A")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	valueStyle    = lipgloss.NewStyle().Foreground(colorWhite)
	warnStyle     = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle     = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(colorGreen)
	headerStyle   = lipgloss.NewStyle().Foreground(colorMagenta).Bold(true)
	selectedStyle = lipgloss.NewStyle().Background(colorPanel).Foreground(colorWhite)
	helpStyle     = lipgloss.NewStyle().Foreground(colorGray)
	dimStyle      = lipgloss.NewStyle().Foreground(colorGray)
	orangeStyle   = lipgloss.NewStyle().Foreground(colorOrange)

	bannerCritStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWhite).Background(colorRed).Padding(0, 1)
	bannerOKStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#282A36")).Background(colorGreen).Padding(0, 1)
	bannerWarnStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#282A36")).Background(colorYellow).Padding(0, 1)
)

func severityColor(sev model.Severity) lipgloss.Style {
	switch sev {
	case model.SeverityCritical:
		return critStyle
	case model.SeverityWarning:
		return warnStyle
	default:
		return okStyle
	}
}

func probColor(p float64) lipgloss.Style {
	switch {
	case p >= 0.8:
		return critStyle
	case p >= 0.5:
		return warnStyle
	case p >= 0.3:
		return orangeStyle
	default:
		return okStyle
	}
}
