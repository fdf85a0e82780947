package tui

import "github.com/charmbracelet/lipgloss"

// Base styles
var (
	// TitleStyle is for titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// BoxStyle is the style for containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	// LabelStyle is for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Width(12)

	// SubtleStyle is for subtle text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	CompletedStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	FailedStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	RunningStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// OutlierStyle marks scores excluded from aggregation.
	OutlierStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Italic(true)

	badgeBase = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1).
			Bold(true)
)

// StatusStyle returns the style for an evaluation status.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return CompletedStyle
	case "failed":
		return FailedStyle
	case "processing":
		return RunningStyle
	default:
		return SubtleStyle
	}
}

// TypeBadge returns the badge style for a log message type.
func TypeBadge(messageType string) lipgloss.Style {
	switch messageType {
	case "initial":
		return badgeBase.Background(ColorInfo)
	case "score":
		return badgeBase.Background(ColorPrimary)
	case "discussion":
		return badgeBase.Background(ColorSecondary)
	case "adjustment":
		return badgeBase.Background(ColorAccent)
	case "final":
		return badgeBase.Background(ColorSuccess)
	case "error":
		return badgeBase.Background(ColorError)
	default:
		return badgeBase.Background(ColorBorder)
	}
}
