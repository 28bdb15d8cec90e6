package cliutil

import (
	"io"
	"os"

	"golang.org/x/term"
)

// ColorMode controls whether command output carries ANSI color.
type ColorMode int

const (
	// ColorAuto colors output only when stdout is a terminal, so piping
	// `history list` into a file or grep stays clean.
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

type OutputConfig struct {
	Writer    io.Writer
	ColorMode ColorMode
}

// Output is the process-wide output configuration, initialized from the
// NO_COLOR and FORCE_COLOR conventions.
var Output *OutputConfig

func init() {
	colorMode := ColorAuto
	if os.Getenv("NO_COLOR") != "" {
		colorMode = ColorNever
	} else if os.Getenv("FORCE_COLOR") != "" {
		colorMode = ColorAlways
	}

	Output = &OutputConfig{
		Writer:    os.Stdout,
		ColorMode: colorMode,
	}
}

// IsTTY reports whether output should be formatted for a terminal.
func (o *OutputConfig) IsTTY() bool {
	if o == nil {
		return false
	}
	switch o.ColorMode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if f, ok := o.Writer.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

func (o *OutputConfig) ColorsEnabled() bool {
	return o.IsTTY()
}
