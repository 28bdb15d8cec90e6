// Package history implements the history command: listing, inspecting,
// and diffing the exchanges the relay forwarded on behalf of players.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/go-stream/relaykit/hlsrelay/cliutil"
	"github.com/go-stream/relaykit/hlsrelay/protocol"
	"github.com/go-stream/relaykit/hlsrelay/service"
)

var historySubcommands = []string{"list", "get", "diff", "help"}

// Parse is the entry point for `hlsrelay history <subcommand>`.
func Parse(args []string) error {
	if len(args) < 1 {
		printHistoryUsage()
		return errors.New("history subcommand required")
	}

	switch args[0] {
	case "list":
		return parseList(args[1:])
	case "get":
		return parseGet(args[1:])
	case "diff":
		return parseDiff(args[1:])
	case "help", "--help", "-h":
		printHistoryUsage()
		return nil
	default:
		return cliutil.UnknownSubcommandError("history", args[0], historySubcommands)
	}
}

func printHistoryUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: hlsrelay history <subcommand> [options]

Inspect recorded playback traffic. The service retains a bounded number
of recent exchanges; older flows are dropped as new ones arrive.

Subcommands:
  list                     show recent flows, newest first
  get <flow-id>            show one flow in full
  diff <flow-a> [flow-b]   compare two flows, or with a single playlist
                           flow, its upstream body against the rewritten
                           one served to the player

Examples:
  hlsrelay history list --session 71f3c0de-8f7a-4d0b-9be1-6f3f5a1f6f9b
  hlsrelay history get f3 --body
  hlsrelay history diff f3
  hlsrelay history diff f2 f7 --scope headers
`)
}

func parseList(args []string) error {
	fs := pflag.NewFlagSet("history list", pflag.ContinueOnError)
	var sessionID string
	var limit int
	var timeout time.Duration
	fs.StringVar(&sessionID, "session", "", "only show flows for this session ID")
	fs.IntVar(&limit, "limit", 50, "maximum flows to show")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "client-side timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	ctx := context.Background()
	client := service.NewClient(workDir, service.WithTimeout(timeout))
	if err := client.EnsureService(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w (check %s)", err, client.LogPath())
	}

	resp, err := client.HistoryList(ctx, &protocol.HistoryListRequest{
		SessionID: sessionID,
		Limit:     limit,
	})
	if err != nil {
		return fmt.Errorf("history list failed: %w", err)
	}

	if len(resp.Flows) > 0 {
		printFlowTable(resp.Flows)
	} else {
		cliutil.NoResults(os.Stdout, "No recorded flows.")
		cliutil.HintCommand(os.Stdout, "Flows appear once a player fetches", "hlsrelay url <target>")
	}
	return nil
}

func parseGet(args []string) error {
	fs := pflag.NewFlagSet("history get", pflag.ContinueOnError)
	var showBody, showOriginal bool
	var timeout time.Duration
	fs.BoolVar(&showBody, "body", false, "include the response body served to the player")
	fs.BoolVar(&showOriginal, "original", false, "include the playlist body as the upstream sent it")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "client-side timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one flow ID required")
	}
	flowID := fs.Arg(0)

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	ctx := context.Background()
	client := service.NewClient(workDir, service.WithTimeout(timeout))
	if err := client.EnsureService(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w (check %s)", err, client.LogPath())
	}

	resp, err := client.HistoryGet(ctx, &protocol.HistoryGetRequest{
		FlowID:      flowID,
		Original:    showOriginal,
		IncludeBody: showBody || showOriginal,
	})
	if err != nil {
		return fmt.Errorf("history get failed: %w", err)
	}

	printFlowDetails(resp, showBody || showOriginal, showOriginal)
	return nil
}

func parseDiff(args []string) error {
	fs := pflag.NewFlagSet("history diff", pflag.ContinueOnError)
	var scope string
	var maxLines int
	var timeout time.Duration
	fs.StringVar(&scope, "scope", "body", "what to compare: body, headers, or all")
	fs.IntVar(&maxLines, "max-lines", 0, "cap the diff output (0 uses the service default)")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "client-side timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New("one or two flow IDs required")
	}
	flowA := fs.Arg(0)
	var flowB string
	if fs.NArg() == 2 {
		flowB = fs.Arg(1)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	ctx := context.Background()
	client := service.NewClient(workDir, service.WithTimeout(timeout))
	if err := client.EnsureService(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w (check %s)", err, client.LogPath())
	}

	resp, err := client.HistoryDiff(ctx, &protocol.HistoryDiffRequest{
		FlowA:    flowA,
		FlowB:    flowB,
		Scope:    scope,
		MaxLines: maxLines,
	})
	if err != nil {
		return fmt.Errorf("history diff failed: %w", err)
	}

	printFlowDiff(resp)
	return nil
}
