// Package session implements the url and session commands: creating
// playback sessions on the daemon and managing the active ones.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/go-stream/relaykit/hlsrelay/cliutil"
	"github.com/go-stream/relaykit/hlsrelay/protocol"
	"github.com/go-stream/relaykit/hlsrelay/service"
)

var sessionSubcommands = []string{"list", "delete", "help"}

// ParseURL is the entry point for `hlsrelay url <target>`.
func ParseURL(args []string) error {
	fs := pflag.NewFlagSet("url", pflag.ContinueOnError)
	fs.SetInterspersed(true)
	var headers []string
	var jsonOut bool
	var timeout time.Duration

	fs.StringArrayVarP(&headers, "header", "H", nil, `header to inject, as "Name: Value" (repeatable)`)
	fs.BoolVar(&jsonOut, "json", false, "print the full response as JSON")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "client-side timeout")

	fs.Usage = printURLUsage

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		printURLUsage()
		return errors.New("exactly one target URL required")
	}
	target := fs.Arg(0)

	injected, err := parseHeaderArgs(headers)
	if err != nil {
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

	resp, err := client.URLCreate(ctx, &protocol.URLCreateRequest{
		Target:  target,
		Headers: injected,
	})
	if err != nil {
		return fmt.Errorf("url create failed: %w", err)
	}

	if jsonOut {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	// The URL comes first so the output can be piped straight into a player.
	fmt.Println(resp.PlayURL)
	fmt.Println()
	fmt.Println(cliutil.Muted(fmt.Sprintf("Session %s expires %s after creation", resp.SessionID, resp.ExpiresIn)))
	cliutil.HintCommand(os.Stdout, "To inspect playback traffic", "hlsrelay history list")
	return nil
}

func printURLUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: hlsrelay url [options] <target>

Create a local playback URL that injects headers into every request the
player makes. The target must be an absolute http:// or https:// URL,
typically an HLS playlist.

Examples:
  hlsrelay url "https://cdn.example.com/live/master.m3u8" \
      -H "Authorization: Bearer $TOKEN" -H "Referer: https://app.example.com/"
  mpv "$(hlsrelay url 'https://cdn.example.com/vod/index.m3u8' -H 'Cookie: sid=abc')"

Options:
  -H, --header "Name: Value"   header to inject (repeatable)
      --json                   print the full response as JSON
      --timeout DURATION       client-side timeout (default 30s)
`)
}

// Parse is the entry point for `hlsrelay session <subcommand>`.
func Parse(args []string) error {
	if len(args) < 1 {
		printSessionUsage()
		return errors.New("session subcommand required")
	}

	switch args[0] {
	case "list":
		return parseList(args[1:])
	case "delete":
		return parseDelete(args[1:])
	case "help", "--help", "-h":
		printSessionUsage()
		return nil
	default:
		return cliutil.UnknownSubcommandError("session", args[0], sessionSubcommands)
	}
}

func printSessionUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: hlsrelay session <subcommand>

Manage active playback sessions.

Subcommands:
  list             show active sessions and their proxy URLs
  delete <id>      drop a session immediately

Examples:
  hlsrelay session list
  hlsrelay session delete 71f3c0de-8f7a-4d0b-9be1-6f3f5a1f6f9b
`)
}

func parseList(args []string) error {
	fs := pflag.NewFlagSet("session list", pflag.ContinueOnError)
	var timeout time.Duration
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

	resp, err := client.SessionList(ctx)
	if err != nil {
		return fmt.Errorf("session list failed: %w", err)
	}

	if len(resp.Sessions) > 0 {
		printSessionTable(resp.Sessions)
	} else {
		cliutil.NoResults(os.Stdout, "No active sessions.")
		cliutil.HintCommand(os.Stdout, "To create one", `hlsrelay url <target> -H "Name: Value"`)
	}
	return nil
}

func parseDelete(args []string) error {
	fs := pflag.NewFlagSet("session delete", pflag.ContinueOnError)
	var timeout time.Duration
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "client-side timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("session ID required")
	}
	sessionID := fs.Arg(0)

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	ctx := context.Background()
	client := service.NewClient(workDir, service.WithTimeout(timeout))
	if err := client.EnsureService(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w (check %s)", err, client.LogPath())
	}

	resp, err := client.SessionDelete(ctx, &protocol.SessionDeleteRequest{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("session delete failed: %w", err)
	}
	if !resp.Deleted {
		return fmt.Errorf("session %s not found", sessionID)
	}

	fmt.Println(cliutil.Success("Deleted session " + sessionID))
	return nil
}

// parseHeaderArgs turns repeated "Name: Value" flags into a header map.
func parseHeaderArgs(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (expected \"Name: Value\")", arg)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}
