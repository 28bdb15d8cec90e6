// Package token implements the token command: converting between
// upstream URLs and the base64url tokens the relay embeds in proxy URLs.
package token

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/go-stream/relaykit/hlsrelay/cliutil"
	"github.com/go-stream/relaykit/hlsrelay/service/relay"
)

var tokenSubcommands = []string{"encode", "decode", "help"}

// Parse is the entry point for `hlsrelay token <encode|decode> <value>`.
func Parse(args []string) error {
	if len(args) < 1 {
		printTokenUsage()
		return errors.New("token subcommand required")
	}

	switch args[0] {
	case "encode":
		return parseAndRun("encode", args[1:], encodeTarget)
	case "decode":
		return parseAndRun("decode", args[1:], decodeToken)
	case "help", "--help", "-h":
		printTokenUsage()
		return nil
	default:
		return cliutil.UnknownSubcommandError("token", args[0], tokenSubcommands)
	}
}

func printTokenUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: hlsrelay token <encode|decode> [options] <value>

Convert between upstream URLs and the base64url tokens the relay embeds
in proxy URLs. Runs locally, no service required.

Examples:
  hlsrelay token encode "https://cdn.example.com/live/master.m3u8"
  hlsrelay token decode aHR0cHM6Ly9jZG4uZXhhbXBsZS5jb20vbGl2ZS9tYXN0ZXIubTN1OA

Options:
  --raw   output without trailing newline
`)
}

func parseAndRun(command string, args []string, fn func(string) (string, error)) error {
	fs := pflag.NewFlagSet("token "+command, pflag.ContinueOnError)
	fs.SetInterspersed(true)
	var raw bool
	fs.BoolVar(&raw, "raw", false, "output without trailing newline")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: hlsrelay token %s [options] <value>\n\nOptions:\n", command)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one value required for token %s", command)
	}

	result, err := fn(fs.Arg(0))
	if err != nil {
		return err
	}

	if raw {
		fmt.Print(result)
	} else {
		fmt.Println(result)
	}
	return nil
}

func encodeTarget(target string) (string, error) {
	if !relay.ValidTarget(target) {
		return "", fmt.Errorf("not an absolute http or https URL: %q", target)
	}
	return relay.EncodeTarget(target), nil
}

func decodeToken(token string) (string, error) {
	target, ok := relay.DecodeTarget(token)
	if !ok {
		return "", fmt.Errorf("invalid token %q (expected base64url of an absolute http or https URL)", token)
	}
	return target, nil
}
