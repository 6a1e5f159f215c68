// Package styles contains the colors and lipgloss styles shared by the console.
package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Semantic color tokens.
var (
	TextPrimaryColor   = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#CCCCCC"}
	TextMutedColor     = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#696969"}
	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	StatusInfoColor    = lipgloss.AdaptiveColor{Light: "#54A0FF", Dark: "#54A0FF"}

	SpinnerColor = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(TextPrimaryColor)

	OnlineStyle   = lipgloss.NewStyle().Bold(true).Foreground(StatusSuccessColor)
	OfflineStyle  = lipgloss.NewStyle().Bold(true).Foreground(StatusErrorColor)
	DegradedStyle = lipgloss.NewStyle().Foreground(StatusWarningColor)

	MutedStyle = lipgloss.NewStyle().Foreground(TextMutedColor)
	ErrorStyle = lipgloss.NewStyle().Foreground(StatusErrorColor)
	InfoStyle  = lipgloss.NewStyle().Foreground(StatusInfoColor)
	WarnStyle  = lipgloss.NewStyle().Foreground(StatusWarningColor)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDefaultColor)
)

// LevelStyle picks a style for a formatted log entry.
func LevelStyle(entry string) lipgloss.Style {
	switch {
	case strings.Contains(entry, "[ERROR]"):
		return ErrorStyle
	case strings.Contains(entry, "[WARN]"):
		return WarnStyle
	case strings.Contains(entry, "[INFO]"):
		return InfoStyle
	default:
		return MutedStyle
	}
}
