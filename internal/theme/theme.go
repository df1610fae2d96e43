// Package theme holds the terminal colours and styles used for run output.
package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for table headers and titles.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// CellStyle pads regular table cells.
var CellStyle = lipgloss.NewStyle().
	Padding(0, 1)

// BorderStyle colours table borders.
var BorderStyle = lipgloss.NewStyle().
	Foreground(ColorBorder)

// HelpStyle is used for hints below the summary.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// Section outcomes shown in the summary.
const (
	StatusOK      = "ok"
	StatusAborted = "aborted"
	StatusEmpty   = "no mails"
)

// StatusStyle returns a color-coded style for a section outcome.
func StatusStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case StatusOK:
		return base.Foreground(ColorGreen)
	case StatusAborted:
		return base.Foreground(ColorRed)
	case StatusEmpty:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}

// ProviderLabelStyle returns a color-coded style for a provider label.
func ProviderLabelStyle(provider string) lipgloss.Style {
	base := lipgloss.NewStyle().Padding(0, 1)

	switch provider {
	case "gmail":
		return base.Foreground(ColorRed)
	case "standard":
		return base.Foreground(ColorBlue)
	default:
		return base.Foreground(ColorGray)
	}
}
