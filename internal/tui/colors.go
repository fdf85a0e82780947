// Package tui renders evaluation results and progress for terminals.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorAccent    = lipgloss.Color("#F59E0B") // Amber

	ColorSuccess = lipgloss.Color("#10B981") // Green
	ColorWarning = lipgloss.Color("#F59E0B") // Amber
	ColorError   = lipgloss.Color("#EF4444") // Red
	ColorInfo    = lipgloss.Color("#3B82F6") // Blue

	ColorText      = lipgloss.Color("#E5E7EB") // Light gray
	ColorTextMuted = lipgloss.Color("#9CA3AF") // Muted gray
	ColorBorder    = lipgloss.Color("#374151") // Dark gray
)

// scoreColor grades a score within [min, max]: bottom third red, top
// third green.
func scoreColor(score, min, max float64) lipgloss.Color {
	if max <= min {
		return ColorText
	}
	pos := (score - min) / (max - min)
	switch {
	case pos < 1.0/3:
		return ColorError
	case pos < 2.0/3:
		return ColorWarning
	default:
		return ColorSuccess
	}
}
