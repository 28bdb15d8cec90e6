package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/go-stream/relaykit/hlsrelay/cliutil"
)

const (
	defaultLogLines    = 20
	followPollInterval = 200 * time.Millisecond
)

var serviceSubcommands = []string{"status", "stop", "logs", "help"}

// ParseCommand is the entry point for `hlsrelay service <subcommand>`.
func ParseCommand(args []string) error {
	if len(args) < 1 {
		printServiceUsage()
		return errors.New("service subcommand required")
	}

	switch args[0] {
	case "status":
		return parseStatus(args[1:])
	case "stop":
		return parseStop(args[1:])
	case "logs":
		return parseLogs(args[1:])
	case "help", "--help", "-h":
		printServiceUsage()
		return nil
	default:
		return cliutil.UnknownSubcommandError("service", args[0], serviceSubcommands)
	}
}

func printServiceUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: hlsrelay service <subcommand>

Inspect and control the background daemon.

Subcommands:
  status          show daemon health and relay address
  stop            shut the daemon down
  logs [-n N]     print the last N daemon log lines (default 20)
  logs -f         follow the daemon log

Examples:
  hlsrelay service status
  hlsrelay service logs -n 50
  hlsrelay service logs -f
`)
}

func parseStatus(args []string) error {
	fs := pflag.NewFlagSet("service status", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(workDir)
	health, err := client.Health(ctx)
	if err != nil {
		fmt.Println(cliutil.Warning("Service is not running"))
		cliutil.HintCommand(os.Stdout, "To start the service", "hlsrelay serve")
		return nil
	}

	fmt.Printf("%s\n\n", cliutil.Bold("Service Status"))
	fmt.Printf("Version: %s\n", health.Version)
	fmt.Printf("PID: %d\n", health.PID)
	fmt.Printf("Started: %s\n", health.StartedAt)
	fmt.Printf("Relay: %s\n", health.RelayAddr)
	if len(health.Metrics) > 0 {
		keys := bulk.MapKeysSlice(health.Metrics)
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("%s: %s\n", strings.ToUpper(key[:1])+key[1:], health.Metrics[key])
		}
	}
	fmt.Printf("Log: %s\n", client.LogPath())
	return nil
}

func parseStop(args []string) error {
	fs := pflag.NewFlagSet("service stop", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(workDir)
	if client.CheckHealth(ctx) != nil {
		fmt.Println("Service is not running.")
		return nil
	}
	resp, err := client.Stop(ctx)
	if err != nil {
		return fmt.Errorf("stop failed: %w", err)
	}
	fmt.Println(cliutil.Success(resp.Message))
	return nil
}

func parseLogs(args []string) error {
	fs := pflag.NewFlagSet("service logs", pflag.ContinueOnError)
	var lines int
	var follow bool
	fs.IntVarP(&lines, "lines", "n", defaultLogLines, "number of log lines to print")
	fs.BoolVarP(&follow, "follow", "f", false, "keep printing new log lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	logPath := NewServicePaths(workDir).LogPath
	if _, err := os.Stat(logPath); err != nil {
		return fmt.Errorf("no service log found at %s", logPath)
	}

	if err := tailLogs(logPath, lines); err != nil {
		return err
	}
	if !follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := followLogs(ctx, logPath); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// tailLogs prints the last n lines of the log file.
func tailLogs(path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// followLogs prints lines appended to the log file until ctx is cancelled.
func followLogs(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	// Start at the end, like tail -f.
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	// TODO: reopen the file when rotation swaps it out so -f survives
	// a lumberjack rollover.
	reader := bufio.NewReader(f)

	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				fmt.Print(line)
			}
			if err != nil {
				break // at EOF, wait for more
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SetupDaemonLogging routes the process log to the rotating daemon log file.
func SetupDaemonLogging(logPath string) {
	log.SetOutput(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	})
}
