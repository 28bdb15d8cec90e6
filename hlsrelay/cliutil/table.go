package cliutil

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// NewTable creates the table writer used by `session list` and
// `history list`. A nil writer falls back to stdout. Terminal output gets
// Unicode box drawing; piped output gets plain ASCII so the tables stay
// grep-friendly.
func NewTable(w io.Writer) table.Writer {
	if w == nil {
		w = os.Stdout
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)

	if Output.ColorsEnabled() {
		t.SetStyle(tableStyleTerminal())
	} else {
		t.SetStyle(tableStylePlain())
	}

	return t
}

// StatusRowPainter colors whole table rows by the HTTP status in column
// statusColIdx (0-based), so a screen of flows shows failed fetches at a
// glance. Rows without an int in that column are left unpainted.
func StatusRowPainter(statusColIdx int) func(row table.Row) text.Colors {
	return func(row table.Row) text.Colors {
		if !Output.ColorsEnabled() {
			return nil
		} else if statusColIdx >= len(row) {
			return nil
		}

		status, ok := row[statusColIdx].(int)
		if !ok {
			return nil
		}

		return text.Colors{StatusColor(status)}
	}
}

func tableStyleTerminal() table.Style {
	return table.Style{
		Name: "Terminal",
		Box: table.BoxStyle{
			BottomLeft:       "└",
			BottomRight:      "┘",
			BottomSeparator:  "┴",
			EmptySeparator:   text.RepeatAndTrim(" ", text.StringWidthWithoutEscSequences("┼")),
			Left:             "│",
			LeftSeparator:    "├",
			MiddleHorizontal: "─",
			MiddleSeparator:  "┼",
			MiddleVertical:   "│",
			PaddingLeft:      " ",
			PaddingRight:     " ",
			PageSeparator:    "\n",
			Right:            "│",
			RightSeparator:   "┤",
			TopLeft:          "┌",
			TopRight:         "┐",
			TopSeparator:     "┬",
			UnfinishedRow:    " …",
		},
		Color: table.ColorOptions{
			Header: text.Colors{text.Bold},
		},
		Format: table.FormatOptions{
			Header: text.FormatUpper,
		},
		Options: table.Options{
			DrawBorder:      true,
			SeparateColumns: true,
			SeparateHeader:  true,
			SeparateRows:    false,
		},
	}
}

func tableStylePlain() table.Style {
	return table.Style{
		Name: "Plain",
		Box: table.BoxStyle{
			BottomLeft:       "+",
			BottomRight:      "+",
			BottomSeparator:  "+",
			EmptySeparator:   " ",
			Left:             "|",
			LeftSeparator:    "+",
			MiddleHorizontal: "-",
			MiddleSeparator:  "+",
			MiddleVertical:   "|",
			PaddingLeft:      " ",
			PaddingRight:     " ",
			PageSeparator:    "\n",
			Right:            "|",
			RightSeparator:   "+",
			TopLeft:          "+",
			TopRight:         "+",
			TopSeparator:     "+",
			UnfinishedRow:    " ...",
		},
		Format: table.FormatOptions{
			Header: text.FormatUpper,
		},
		Options: table.Options{
			DrawBorder:      true,
			SeparateColumns: true,
			SeparateHeader:  true,
			SeparateRows:    false,
		},
	}
}
