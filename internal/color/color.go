package color

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"})
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#EF6C00", Dark: "#FFB74D"})
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"})
	HeaderStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00838F", Dark: "#4DD0E1"}).Bold(true)
)

// Initialize tells lipgloss which background the terminal has.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
}

// ForState picks the style for a unit or record state name.
func ForState(state string) lipgloss.Style {
	switch state {
	case "running", "initialized":
		return SuccessStyle
	case "waiting", "starting", "stopping", "pending":
		return WarningStyle
	case "failed", "stale":
		return ErrorStyle
	default:
		return MutedStyle
	}
}
