package session

import (
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/go-stream/relaykit/hlsrelay/cliutil"
	"github.com/go-stream/relaykit/hlsrelay/protocol"
	"github.com/go-stream/relaykit/hlsrelay/util"
)

// maxTargetWidth keeps table rows readable for very long target URLs.
const maxTargetWidth = 64

func printSessionTable(sessions []protocol.SessionEntry) {
	t := cliutil.NewTable(os.Stdout)
	t.AppendHeader(table.Row{"Session ID", "Target", "Headers", "Created", "Last Access"})

	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.ID,
			util.TruncateString(s.Target, maxTargetWidth),
			strings.Join(s.HeaderNames, ", "),
			renderAge(s.CreatedAt),
			renderAge(s.LastAccess),
		})
	}
	t.Render()
	cliutil.Summary(os.Stdout, len(sessions), "active session", "active sessions")

	if len(sessions) > 0 {
		cliutil.HintCommand(os.Stdout, "To drop a session", "hlsrelay session delete <id>")
	}
}

// renderAge shows a wire timestamp as time elapsed, falling back to the raw
// string when it does not parse.
func renderAge(rfc3339 string) string {
	ts, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return cliutil.FormatAge(ts) + " ago"
}
