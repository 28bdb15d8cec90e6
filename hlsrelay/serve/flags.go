// Package serve implements the serve command: running the relay service
// in the foreground or as a background daemon.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/go-stream/relaykit/hlsrelay/cliutil"
	"github.com/go-stream/relaykit/hlsrelay/config"
	"github.com/go-stream/relaykit/hlsrelay/service"
)

// Parse is the entry point for `hlsrelay serve`.
func Parse(args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetInterspersed(true)
	var workDir string
	var daemon, foreground bool
	var ttl time.Duration
	var maxSessions, historyCapacity int
	var noHistory bool

	fs.StringVar(&workDir, "dir", "", "working directory (default: current directory)")
	fs.BoolVar(&foreground, "foreground", false, "run in this terminal, logging to stderr")
	fs.BoolVar(&daemon, "daemon", false, "run as the daemon process (used by background startup)")
	fs.DurationVar(&ttl, "ttl", 0, "override the session lifetime")
	fs.IntVar(&maxSessions, "max-sessions", 0, "override the active session cap")
	fs.IntVar(&historyCapacity, "history-capacity", 0, "override the retained flow cap")
	fs.BoolVar(&noHistory, "no-history", false, "disable exchange recording")

	fs.Usage = printServeUsage

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		printServeUsage()
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if daemon && foreground {
		return errors.New("--daemon and --foreground are mutually exclusive")
	}

	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = wd
	}

	flags := service.DaemonFlags{
		WorkDir:         workDir,
		SessionTTL:      ttl,
		MaxSessions:     maxSessions,
		HistoryCapacity: historyCapacity,
		DisableHistory:  noHistory,
	}

	if daemon || foreground {
		return runServer(flags, daemon)
	}

	// Overrides only reach the server when this process runs it; the
	// background daemon is spawned with its plain config.
	if ttl > 0 || maxSessions > 0 || historyCapacity > 0 || noHistory {
		return errors.New("config overrides require --foreground (or edit config.json and restart)")
	}
	return ensureBackground(workDir)
}

func printServeUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: hlsrelay serve [options]

Start the relay service for the working directory if it is not already
running. The service holds playback sessions and serves the loopback
relay that players connect to.

By default the service starts in the background and the command returns
once it is healthy. Use --foreground to run it in this terminal instead;
Ctrl-C stops it.

Examples:
  hlsrelay serve
  hlsrelay serve --foreground --ttl 45m
  hlsrelay serve --foreground --no-history

Options:
      --dir DIR              working directory (default: current directory)
      --foreground           run in this terminal, logging to stderr
      --ttl DURATION         override the session lifetime (with --foreground)
      --max-sessions N       override the active session cap (with --foreground)
      --history-capacity N   override the retained flow cap (with --foreground)
      --no-history           disable exchange recording (with --foreground)
`)
}

// runServer runs the service in this process until shutdown.
func runServer(flags service.DaemonFlags, daemon bool) error {
	if daemon {
		paths := service.NewServicePaths(flags.WorkDir)
		service.SetupDaemonLogging(paths.LogPath)
	}
	log.Printf("service %s starting (pid %d)", config.Version, os.Getpid())

	srv, err := service.NewServer(flags)
	if err != nil {
		return err
	}
	return srv.Run(context.Background())
}

// ensureBackground starts the daemon if needed and reports where it is.
func ensureBackground(workDir string) error {
	ctx := context.Background()
	client := service.NewClient(workDir)
	if err := client.EnsureService(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w (check %s)", err, client.LogPath())
	}

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("service started but health check failed: %w", err)
	}

	fmt.Println(cliutil.Success("Service running"))
	fmt.Printf("Version: %s\n", health.Version)
	fmt.Printf("PID: %d\n", health.PID)
	fmt.Printf("Relay: %s\n", health.RelayAddr)
	fmt.Printf("Log: %s\n", client.LogPath())
	cliutil.HintCommand(os.Stdout, "To create a playback URL", `hlsrelay url <target> -H "Name: Value"`)
	return nil
}
