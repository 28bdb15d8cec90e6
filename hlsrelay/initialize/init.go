// Package initialize implements the init command: preparing a working
// directory for the relay service.
package initialize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/go-stream/relaykit/hlsrelay/config"
	"github.com/go-stream/relaykit/hlsrelay/service"
)

// Parse is the entry point for `hlsrelay init`.
func Parse(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	fs.SetInterspersed(true)
	var workDir string
	var reset bool

	fs.StringVar(&workDir, "dir", "", "directory to initialize (default: current directory)")
	fs.BoolVar(&reset, "reset", false, "stop the service and clear all relay state first")

	fs.Usage = printInitUsage

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		printInitUsage()
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		workDir = wd
	}

	return run(workDir, reset)
}

func printInitUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: hlsrelay init [options]

Prepare a working directory for the relay service. Creates .hlsrelay/
with a default config.json you can edit (session TTL, history retention,
timeouts). Safe to rerun; an existing config is left untouched.

Examples:
  hlsrelay init
  hlsrelay init --reset

Options:
      --dir DIR   directory to initialize (default: current directory)
      --reset     stop the service and clear all relay state first
`)
}

func run(workDir string, reset bool) error {
	paths := service.NewServicePaths(workDir)

	// Handle --reset: stop service and clear .hlsrelay/
	if reset {
		if err := performReset(paths); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(paths.RelayDir, 0700); err != nil {
		return fmt.Errorf("failed to create .hlsrelay directory: %w", err)
	}

	cfg, created, err := loadOrCreateConfig(paths.ConfigPath)
	if err != nil {
		return err
	}

	if created {
		cfg.InitializedAt = time.Now().UTC()
		if err := cfg.Save(paths.ConfigPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}

	printSuccess(paths, created)

	return nil
}

func performReset(paths service.ServicePaths) error {
	// Try to stop the service if running
	client := service.NewClient(paths.WorkDir)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if client.CheckHealth(ctx) == nil {
		_, _ = client.Stop(ctx)
	}

	if err := os.RemoveAll(paths.RelayDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove .hlsrelay directory: %w", err)
	}
	return nil
}

// loadOrCreateConfig loads the config at path, or returns a fresh default
// when none exists yet. The bool reports whether the config is new.
func loadOrCreateConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("failed to load config: %w", err)
	}

	return config.DefaultConfig(config.Version), true, nil
}

func printSuccess(paths service.ServicePaths, created bool) {
	// Convert to relative path for cleaner output
	cfgPath := paths.ConfigPath
	if wd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(wd, paths.ConfigPath); err == nil {
			cfgPath = rel
		}
	}

	if created {
		fmt.Printf("Initialized %s\n", cfgPath)
	} else {
		fmt.Printf("Found existing %s\n", cfgPath)
	}

	cmd := relayCommand()
	fmt.Println()
	fmt.Println("Create a playback URL with injected headers:")
	fmt.Println()
	fmt.Printf("  %s url \"https://cdn.example.com/live/master.m3u8\" -H \"Authorization: Bearer $TOKEN\"\n", cmd)
	fmt.Println()
	fmt.Println("Follow service logs with: 'tail -F .hlsrelay/service/log.txt'")
}

// relayCommand returns the command to show in examples.
// Prefers "hlsrelay" if it's in PATH and matches the running executable.
func relayCommand() string {
	currentExe, err := os.Executable()
	if err != nil {
		return "hlsrelay"
	}
	currentExe, _ = filepath.EvalSymlinks(currentExe)

	// Check if hlsrelay is in PATH
	pathExe, err := exec.LookPath("hlsrelay")
	if err != nil {
		// Not in PATH, return relative or absolute path
		return relativeOrAbsPath(currentExe)
	}

	pathExe, _ = filepath.EvalSymlinks(pathExe)

	// If we're running the PATH version, use simple "hlsrelay"
	if pathExe == currentExe {
		return "hlsrelay"
	}

	// Running a different binary than PATH, use local path
	return relativeOrAbsPath(currentExe)
}

// relativeOrAbsPath returns a relative path from cwd if possible, otherwise absolute
func relativeOrAbsPath(exePath string) string {
	wd, err := os.Getwd()
	if err != nil {
		return exePath
	}

	rel, err := filepath.Rel(wd, exePath)
	if err != nil {
		return exePath
	}

	// Only use relative if it doesn't escape the working directory
	if strings.HasPrefix(rel, "..") {
		return exePath
	}

	// Ensure it starts with ./ for clarity
	if !strings.HasPrefix(rel, ".") {
		return "./" + rel
	}
	return rel
}
