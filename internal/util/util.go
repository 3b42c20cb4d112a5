package util

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	IsDebug bool

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true).
			Underline(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4757")).
			Bold(true)

	debugErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF4757")).
			Padding(1, 2)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA726")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)
)

// SetDebugMode sets the debug mode
func SetDebugMode(debug bool) {
	IsDebug = debug
}

// ErrorHandler returns a stylized error message
func ErrorHandler(err error) string {
	if IsDebug {
		header := errorStyle.Render("DEBUG ERROR")
		return fmt.Sprintf("%s\n%s", header, debugErrorStyle.Render(fmt.Sprintf("%+v", err)))
	}

	styledError := errorStyle.Render(fmt.Sprintf("✗ %v", err))
	styledHint := warningStyle.Render("run with --debug to see details")
	return fmt.Sprintf("%s\n%s", styledError, styledHint)
}

// Title renders a section heading
func Title(text string) string {
	return titleStyle.Render(text)
}

// Success renders a confirmation line
func Success(text string) string {
	return successStyle.Render("✓ " + text)
}

// Warning renders a warning line
func Warning(text string) string {
	return warningStyle.Render(text)
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut
func Truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if n <= 0 || len(r) <= n {
		return string(r)
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
