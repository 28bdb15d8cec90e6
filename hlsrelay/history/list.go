package history

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/go-analyze/bulk"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/go-stream/relaykit/hlsrelay/cliutil"
	"github.com/go-stream/relaykit/hlsrelay/protocol"
	"github.com/go-stream/relaykit/hlsrelay/util"
)

// maxTargetWidth keeps table rows readable for very long target URLs.
const maxTargetWidth = 48

func printFlowTable(flows []protocol.FlowEntry) {
	t := cliutil.NewTable(os.Stdout)
	t.AppendHeader(table.Row{"Flow ID", "Session", "Method", "Target", "Status", "Type", "Size", "Age"})
	t.SetRowPainter(cliutil.StatusRowPainter(4)) // status is column index 4

	for _, f := range flows {
		kind := ""
		if f.Playlist {
			kind = "playlist"
		}
		t.AppendRow(table.Row{
			f.FlowID,
			shortSession(f.SessionID),
			f.Method,
			util.TruncateString(f.Target, maxTargetWidth),
			f.Status,
			kind,
			cliutil.FormatBytes(f.BodySize),
			renderWhen(f.ReceivedAt),
		})
	}
	t.Render()
	cliutil.Summary(os.Stdout, len(flows), "flow", "flows")

	if len(flows) > 0 {
		cliutil.HintCommand(os.Stdout, "To inspect one", "hlsrelay history get "+flows[0].FlowID)
	}
}

func printFlowDetails(resp *protocol.HistoryGetResponse, includeBody, original bool) {
	f := resp.Flow

	fmt.Printf("%s\n\n", cliutil.Bold("Flow Details"))
	fmt.Printf("Flow: %s\n", cliutil.ID(f.FlowID))
	fmt.Printf("Session: %s\n", f.SessionID)
	fmt.Printf("Method: %s\n", f.Method)
	fmt.Printf("Target: %s\n", f.Target)
	fmt.Printf("Status: %s %s\n", cliutil.FormatStatus(f.Status), http.StatusText(f.Status))
	fmt.Printf("Received: %s (%s)\n", f.ReceivedAt, renderWhen(f.ReceivedAt))
	fmt.Printf("Duration: %dms\n", f.DurationMS)
	fmt.Printf("Body Size: %s\n", renderBodySize(f))
	if f.Playlist {
		fmt.Println("Playlist: yes (URIs rewritten for loopback playback)")
	}
	if f.Error != "" {
		fmt.Printf("Error: %s\n", cliutil.Error(f.Error))
	}

	if len(resp.RequestHeaders) > 0 {
		fmt.Println()
		fmt.Println(cliutil.Bold("Request Headers"))
		printHeaderMap(resp.RequestHeaders)
	}
	if len(resp.ResponseHeaders) > 0 {
		fmt.Println()
		fmt.Println(cliutil.Bold("Response Headers"))
		printHeaderMap(resp.ResponseHeaders)
	}

	if includeBody {
		title := "Response Body"
		if original {
			title = "Upstream Body"
		}
		fmt.Println()
		fmt.Println(cliutil.Bold(title))
		switch {
		case len(resp.Body) == 0:
			fmt.Println(cliutil.Muted("(empty)"))
		case utf8.Valid(resp.Body):
			fmt.Println(string(resp.Body))
		default:
			fmt.Println(cliutil.Muted(fmt.Sprintf("Binary body (%s), not shown", cliutil.FormatBytes(len(resp.Body)))))
		}
	}
}

func printFlowDiff(resp *protocol.HistoryDiffResponse) {
	if resp.Identical {
		fmt.Println(cliutil.Success("No differences."))
		return
	}

	fmt.Println(resp.Diff)
	if resp.Truncated {
		fmt.Println()
		fmt.Println(cliutil.Muted("Diff truncated; rerun with a larger --max-lines to see more."))
	}
}

func printHeaderMap(headers map[string]string) {
	names := bulk.MapKeysSlice(headers)
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %s\n", name, headers[name])
	}
}

func renderBodySize(f protocol.FlowEntry) string {
	size := cliutil.FormatBytes(f.BodySize)
	if f.Truncated {
		return size + " " + cliutil.Muted("(stored truncated)")
	}
	return size
}

func renderWhen(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return cliutil.FormatAge(t) + " ago"
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
