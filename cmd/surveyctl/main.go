// surveyctl is the field-side companion to meshmapd: it manages survey
// sessions over the daemon's REST API, drives the mapping channel from a
// recorded or fixed GPS source, and exports coverage heatmaps.
package main

import (
	"fmt"
	"os"

	"github.com/meshfield/meshmap/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "nodes":
		err = handleNodes(args)
	case "sessions":
		err = handleSessions(args)
	case "start":
		err = handleStart(args)
	case "end":
		err = handleEnd(args)
	case "collect":
		err = handleCollect(args)
	case "survey":
		err = handleSurvey(args)
	case "export":
		err = handleExport(args)
	case "version":
		fmt.Printf("surveyctl version %s (%s)\n", version.Version, version.GitSHA)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`surveyctl - Field client for the mesh coverage mapper

Usage: surveyctl <command> [options]

Commands:
  nodes      List known mesh nodes
  sessions   List survey sessions
  start      Start a survey session against a target node
  end        End a survey session
  collect    Take a single measurement for a session
  survey     Collect continuously until interrupted
  export     Export a coverage heatmap as HTML
  version    Show surveyctl version
  help       Show this help message

Common Flags:
  --server <url>      Base URL of the meshmapd daemon
                      (default: http://localhost:8080)
  --nmea <file>       Replay GPS fixes from a recorded NMEA log
  --lat/--lon <deg>   Use a fixed GPS position instead

Run 'surveyctl <command> --help' for command-specific flags.`)
}
