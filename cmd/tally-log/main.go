// Command tally-log is a tool for viewing and analyzing tally protocol
// captures.
//
// Capture files are written by tally-server when started with the
// -protocol-log flag.
//
// Usage:
//
//	tally-log <command> [flags] <file.tlog>
//
// Commands:
//
//	view     View capture in human-readable format
//	export   Export capture to JSONL, CSV or YAML
//	filter   Filter capture and write to new file
//	stats    Show statistics about the capture
//
// Examples:
//
//	# View all events
//	tally-log view server.tlog
//
//	# View only the pushes for input 3
//	tally-log view -category update -input 3 server.tlog
//
//	# Export to CSV
//	tally-log export -format csv -o server.csv server.tlog
//
//	# Keep one lamp's traffic
//	tally-log filter -conn-id abc12345 -o lamp.tlog server.tlog
//
//	# Show statistics
//	tally-log stats server.tlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/milux/ATEM-Tally/cmd/tally-log/commands"
)

const usage = `tally-log - Tally Protocol Capture Analyzer

Usage:
  tally-log <command> [flags] <file.tlog>

Commands:
  view     View capture in human-readable format
  export   Export capture to JSONL, CSV or YAML
  filter   Filter capture and write to new file
  stats    Show statistics about the capture

Use "tally-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet creates a subcommand flag set with the usual usage text.
func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `tally-log %s - %s

Usage:
  tally-log %s [flags] <file.tlog>

Flags:
`, name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

// filterFlags registers the event filter flags on fs.
func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.Input, "input", "", "Filter by tally input")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, tally)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (handshake, update, keepalive, state, error)")
	return opts
}

// parse parses args and returns the capture file path.
func parse(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View capture in human-readable format")
	opts := filterFlags(fs)
	path := parse(fs, args)

	if err := commands.RunView(path, *opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export capture to JSONL, CSV or YAML")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv, yaml)")
	output := fs.String("o", "", "Output file (default: stdout)")
	opts := filterFlags(fs)
	path := parse(fs, args)

	if err := commands.RunExport(path, *format, *output, *opts); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter capture and write to new file")
	output := fs.String("o", "", "Output file (required)")
	opts := filterFlags(fs)
	path := parse(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunFilter(path, *output, *opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the capture")
	path := parse(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
