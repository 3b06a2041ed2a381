// Package theme holds the terminal styles used by the CLI's
// human-readable output.
package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for table headers and titles.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue).
	Padding(0, 1)

// CellStyle is the default table cell style.
var CellStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Padding(0, 1)

// MutedStyle is used for secondary values such as timestamps.
var MutedStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Padding(0, 1)

// BorderStyle colors table borders.
var BorderStyle = lipgloss.NewStyle().
	Foreground(ColorBorder)

// FlagStyle returns a green style for true and a red one for false.
func FlagStyle(ok bool) lipgloss.Style {
	if ok {
		return CellStyle.Foreground(ColorGreen)
	}
	return CellStyle.Foreground(ColorRed)
}

// FlagText renders a boolean as a short yes/no marker.
func FlagText(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
