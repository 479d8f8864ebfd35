package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/jbweber/kiln/internal/progress"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorYellow = lipgloss.Color("#eab308")
	colorDim    = lipgloss.Color("#6b7280")

	successStyle = lipgloss.NewStyle().Foreground(colorGreen)
	warningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	titleStyle   = lipgloss.NewStyle().Bold(true)
)

// statusOut receives status lines. Stdout is reserved for command output
// so that -o json and -o yaml stay parseable.
var statusOut io.Writer = os.Stderr

// render applies style only when statusOut is a terminal.
func render(style lipgloss.Style, s string) string {
	f, ok := statusOut.(*os.File)
	if !ok || !progress.IsTerminal(f) {
		return s
	}
	return style.Render(s)
}

func printSuccess(format string, args ...any) {
	_, _ = fmt.Fprintln(statusOut, render(successStyle, "✓ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	_, _ = fmt.Fprintln(statusOut, render(warningStyle, "! "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	_, _ = fmt.Fprintln(statusOut, render(dimStyle, fmt.Sprintf(format, args...)))
}

func printTitle(format string, args ...any) {
	_, _ = fmt.Fprintln(statusOut, render(titleStyle, fmt.Sprintf(format, args...)))
}
