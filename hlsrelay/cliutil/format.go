package cliutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UnknownSubcommandError builds the error for an unrecognized subcommand.
func UnknownSubcommandError(command, got string, valid []string) error {
	return fmt.Errorf("unknown %s subcommand %q (expected one of: %s)",
		command, got, strings.Join(valid, ", "))
}

// FormatBytes renders a byte count in a compact human form.
func FormatBytes(n int) string {
	switch {
	case n < 1024:
		return strconv.Itoa(n) + " B"
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

// FormatAge renders how long ago t was, compactly ("45s", "5m", "2h10m", "3d").
func FormatAge(t time.Time) string {
	return formatAgeDur(time.Since(t))
}

func formatAgeDur(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
