package cliutil

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/text"
)

func formatColor(c text.Color, s string) string {
	if !Output.ColorsEnabled() {
		return s
	}
	return c.Sprint(s)
}

// StatusColor maps an HTTP status to a display color following how the
// relay classifies outcomes: 404s are routine session churn and render
// yellow, while 403 means a secret mismatch and renders red like the
// 5xx upstream failures.
func StatusColor(status int) text.Color {
	switch {
	case status >= 200 && status < 300:
		return text.FgGreen
	case status >= 300 && status < 400:
		return text.FgCyan
	case status == 403:
		return text.FgRed
	case status >= 400 && status < 500:
		return text.FgYellow
	case status >= 500:
		return text.FgRed
	default:
		return text.Reset
	}
}

// FormatStatus renders a status code for flow and session output, colored
// per StatusColor.
func FormatStatus(status int) string {
	if !Output.ColorsEnabled() {
		return strconv.Itoa(status)
	}
	return StatusColor(status).Sprint(status)
}

// Bold renders section titles, e.g. "Flow Details".
func Bold(s string) string {
	return formatColor(text.Bold, s)
}

// Muted renders secondary detail: ages, hints, truncation notes.
func Muted(s string) string {
	return formatColor(text.Faint, s)
}

// ID renders identifiers: flow IDs, session IDs, suggested commands.
func ID(s string) string {
	return formatColor(text.FgCyan, s)
}

// Success renders a positive outcome line.
func Success(s string) string {
	return formatColor(text.FgGreen, s)
}

// Warning renders a cautionary line.
func Warning(s string) string {
	return formatColor(text.FgYellow, s)
}

// Error renders a failure line.
func Error(s string) string {
	return formatColor(text.FgRed, s)
}
