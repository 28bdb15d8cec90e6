// Command hlsrelay plays protected HLS streams in any player by routing
// them through a local loopback relay that injects the required headers.
package main

import (
	"fmt"
	"os"

	"github.com/go-stream/relaykit/hlsrelay/cliutil"
	"github.com/go-stream/relaykit/hlsrelay/config"
	"github.com/go-stream/relaykit/hlsrelay/history"
	"github.com/go-stream/relaykit/hlsrelay/initialize"
	"github.com/go-stream/relaykit/hlsrelay/serve"
	"github.com/go-stream/relaykit/hlsrelay/service"
	"github.com/go-stream/relaykit/hlsrelay/session"
	"github.com/go-stream/relaykit/hlsrelay/token"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = initialize.Parse(os.Args[2:])
	case "serve":
		err = serve.Parse(os.Args[2:])
	case "url":
		err = session.ParseURL(os.Args[2:])
	case "session":
		err = session.Parse(os.Args[2:])
	case "history":
		err = history.Parse(os.Args[2:])
	case "token":
		err = token.Parse(os.Args[2:])
	case "service":
		err = service.ParseCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println("hlsrelay " + config.Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, cliutil.Error("Error: "+err.Error()))
		os.Exit(1)
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stderr, `Usage: hlsrelay <command> [options]

Play protected HLS streams in any player by routing them through a local
relay that injects the required headers into every upstream request.

Commands:
  init       prepare a working directory (.hlsrelay/ with config.json)
  serve      start the relay service (background by default)
  url        create a playback URL for a target stream
  session    list or delete active playback sessions
  history    list, inspect, and diff recorded exchanges
  token      encode or decode proxy URL tokens locally
  service    service status, stop, and logs
  version    print the version

Examples:
  hlsrelay url "https://cdn.example.com/live/master.m3u8" -H "Authorization: Bearer $TOKEN"
  hlsrelay session list
  hlsrelay history diff f3

Run 'hlsrelay <command> help' for command details.
`)
}
