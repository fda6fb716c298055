// Command tally-watch is a software tally lamp.
//
// It subscribes to one or more inputs on a tally server and prints every
// state change. Without -server it uses the first server discovered over
// mDNS whose protocol major version matches its own. The connection is re-established with backoff when the
// server goes away.
//
// Usage:
//
//	tally-watch [flags] <input> [input...]
//
// Flags:
//
//	-server string      Server address host:port (default: discover over mDNS)
//	-legacy             Use the legacy single-input handshake
//	-interface string   Network interface for discovery
//	-keepalive duration Keep-alive interval for extended connections (default 5s)
//	-log-level string   Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Watch inputs 1 to 3 on the first server found
//	tally-watch 1 2 3
//
//	# Behave like an old lamp wired for wire code 4
//	tally-watch -server 10.0.0.5:7411 -legacy 4
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/milux/ATEM-Tally/pkg/discovery"
	"github.com/milux/ATEM-Tally/pkg/transport"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

var (
	server    = flag.String("server", "", "Server address host:port (default: discover over mDNS)")
	legacy    = flag.Bool("legacy", false, "Use the legacy single-input handshake")
	iface     = flag.String("interface", "", "Network interface for discovery")
	keepAlive = flag.Duration("keepalive", transport.DefaultKeepAliveInterval, "Keep-alive interval for extended connections")
	logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tally-watch [flags] <input> [input...]\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	format := wire.FormatExtended
	if *legacy {
		format = wire.FormatLegacy
	}
	inputs, err := parseInputs(flag.Args(), format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	address := *server
	if address == "" {
		logger.Info("browsing for tally servers", "service", discovery.ServiceType)
		browser := discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: *iface})
		svc, err := findServer(ctx, browser, logger)
		if err != nil {
			logger.Error("no tally server found", "error", err)
			os.Exit(1)
		}
		address = svc.Dial()
		logger.Info("found tally server",
			"instance", svc.Instance,
			"address", address,
			"version", svc.Info.Version,
			"max_input", svc.Info.MaxInput,
			"switcher", switcherState(svc.Info.SwitcherUp))
	}

	client, err := transport.NewClient(transport.ClientConfig{Format: format, Inputs: inputs})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	kaConfig := transport.DefaultKeepAliveConfig()
	kaConfig.Interval = *keepAlive

	w := &Watcher{
		Client:    client,
		Address:   address,
		KeepAlive: kaConfig,
		Output:    os.Stdout,
		Logger:    logger,
	}
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("watch failed", "error", err)
		os.Exit(1)
	}
}

func switcherState(up bool) string {
	if up {
		return discovery.SwitcherUp
	}
	return discovery.SwitcherDown
}
