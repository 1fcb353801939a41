// Package ui renders notifications in the terminal: the connection status
// indicator, a line printer for toasts and the bubbletea notification center.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/schoolhub/schoolhub/internal/effects"
	"github.com/schoolhub/schoolhub/internal/notifications"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite).
			Background(ColorBlue).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Background(ColorSubtle).
			Padding(0, 1)

	indicatorStyle = lipgloss.NewStyle().Foreground(ColorYellow).Italic(true)

	itemStyle     = lipgloss.NewStyle().PaddingLeft(2)
	selectedStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			Bold(true).
			Foreground(ColorBlue).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(ColorBlue)
	readStyle  = lipgloss.NewStyle().Foreground(ColorGray)
	helpStyle  = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)
	flashStyle = lipgloss.NewStyle().Foreground(ColorYellow)
)

func severityColor(s effects.Severity) lipgloss.AdaptiveColor {
	switch s {
	case effects.SeverityError:
		return ColorRed
	case effects.SeverityWarning:
		return ColorYellow
	case effects.SeverityInfo:
		return ColorBlue
	default:
		return ColorGreen
	}
}

func alertSeverity(t notifications.AlertType) effects.Severity {
	switch t {
	case notifications.AlertError:
		return effects.SeverityError
	case notifications.AlertWarning:
		return effects.SeverityWarning
	case notifications.AlertSuccess:
		return effects.SeveritySuccess
	default:
		return effects.SeverityInfo
	}
}

// PriorityLabel is the short badge shown next to a notification.
func PriorityLabel(p notifications.Priority) string {
	switch p {
	case notifications.PriorityUrgent:
		return "URG"
	case notifications.PriorityHigh:
		return "HI "
	case notifications.PriorityLow:
		return "LO "
	default:
		return "MED"
	}
}

func priorityStyle(p notifications.Priority) lipgloss.Style {
	return severityStyle(effects.SeverityFor(p))
}

func severityStyle(s effects.Severity) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(severityColor(s))
}
