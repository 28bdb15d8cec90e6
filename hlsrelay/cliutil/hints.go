package cliutil

import (
	"fmt"
	"io"
	"os"
)

// Hint prints a muted one-line hint. A nil writer falls back to stdout.
func Hint(w io.Writer, message string) {
	if w == nil {
		w = os.Stdout
	}
	_, _ = fmt.Fprintln(w, Muted(message))
}

// HintCommand prints a follow-up command suggestion, e.g. pointing from a
// flow table at `hlsrelay history get <id>`. The description renders muted
// and the command renders as an identifier.
func HintCommand(w io.Writer, desc, cmd string) {
	if w == nil {
		w = os.Stdout
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", Muted(desc), ID(cmd))
}

// Summary prints the count line under a session or flow table, choosing
// the singular or plural noun.
func Summary(w io.Writer, count int, singular, plural string) {
	if w == nil {
		w = os.Stdout
	}
	noun := plural
	if count == 1 {
		noun = singular
	}
	_, _ = fmt.Fprintf(w, "\n%s\n", Muted(fmt.Sprintf("%d %s", count, noun)))
}

// NoResults prints a muted empty-result message in place of a table.
func NoResults(w io.Writer, message string) {
	if w == nil {
		w = os.Stdout
	}
	_, _ = fmt.Fprintln(w, Muted(message))
}
