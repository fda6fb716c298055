// Command tally-server relays ATEM tally to network tally lamps.
//
// The server keeps a link to the switcher, derives the tally state of every
// input a lamp subscribes to and pushes changes over TCP in the legacy
// single-input or the extended multi-input format.
//
// Usage:
//
//	tally-server [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-env-file string      dotenv file with TALLY_* overrides (default ".env")
//	-listen string        Listen address (default ":7411")
//	-switcher string      Switcher host, optionally with a port
//	-simulate             Drive tally from a scripted show instead of a switcher
//	-listen-early         Accept lamps before the switcher is connected
//	-log-level string     Log level: debug, info, warn, error
//	-log-format string    Log format: text, json
//	-protocol-log string  File path for protocol event capture (CBOR format)
//	-no-discovery         Do not advertise the server over mDNS
//	-interactive          Enable the interactive console
//
// Examples:
//
//	# Relay a switcher on the studio network
//	tally-server -switcher atem.studio.local
//
//	# Try out lamps without a switcher
//	tally-server -simulate -interactive -log-level debug
//
//	# Capture the lamp traffic for tally-log
//	tally-server -config /etc/tally/server.yaml -protocol-log /var/log/tally.tlog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/milux/ATEM-Tally/cmd/tally-server/interactive"
	"github.com/milux/ATEM-Tally/pkg/config"
	"github.com/milux/ATEM-Tally/pkg/discovery"
	tallylog "github.com/milux/ATEM-Tally/pkg/log"
	"github.com/milux/ATEM-Tally/pkg/service"
	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/milux/ATEM-Tally/pkg/version"
)

// Address used by the simulator when none is configured. The link resolves
// it without a lookup.
const simulatedAddress = "127.0.0.1"

// Flags holds the command line. Only flags that were set override the
// configuration file.
type Flags struct {
	ConfigFile  string
	EnvFile     string
	Listen      string
	Switcher    string
	Simulate    bool
	ListenEarly bool
	LogLevel    string
	LogFormat   string
	ProtocolLog string
	NoDiscovery bool
	Interactive bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "YAML configuration file")
	flag.StringVar(&flags.EnvFile, "env-file", ".env", "dotenv file with TALLY_* overrides")
	flag.StringVar(&flags.Listen, "listen", "", "Listen address (default \":7411\")")
	flag.StringVar(&flags.Switcher, "switcher", "", "Switcher host, optionally with a port")
	flag.BoolVar(&flags.Simulate, "simulate", false, "Drive tally from a scripted show instead of a switcher")
	flag.BoolVar(&flags.ListenEarly, "listen-early", false, "Accept lamps before the switcher is connected")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.LogFormat, "log-format", "", "Log format: text, json")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "File path for protocol event capture (CBOR format)")
	flag.BoolVar(&flags.NoDiscovery, "no-discovery", false, "Do not advertise the server over mDNS")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable the interactive console")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	output := &logOutput{w: os.Stderr}
	logger := newLogger(cfg.Log, output)
	slog.SetDefault(logger)

	logger.Info("ATEM tally server",
		"version", version.Release(),
		"protocol", version.Protocol,
		"listen", cfg.Listen)

	protocolLogger, closeProtocolLog, err := newProtocolLogger(cfg.Log.ProtocolFile, logger)
	if err != nil {
		logger.Error("failed to create protocol logger", "error", err)
		os.Exit(1)
	}
	defer closeProtocolLog()

	mem := switcher.NewMemory()
	driver, sim, err := newDriver(cfg, mem, logger)
	if err != nil {
		logger.Error("failed to create switcher driver", "error", err)
		os.Exit(1)
	}

	svcConfig := serviceConfig(cfg, logger, protocolLogger)
	if cfg.Discovery.Enabled {
		svcConfig.Advertiser = discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Discovery.Interface,
		})
	}

	svc, err := service.NewTallyService(mem, driver, svcConfig)
	if err != nil {
		logger.Error("failed to create tally service", "error", err)
		os.Exit(1)
	}
	svc.OnEvent(func(e service.Event) { handleEvent(logger, e) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", "error", err)
		os.Exit(1)
	}
	logger.Info("service started", "state", svc.State().String(), "switcher", svcConfig.SwitcherAddress)

	if flags.Interactive {
		console, err := interactive.New(svc, interactive.Options{
			MixEffect: cfg.Switcher.MixEffect,
			Simulator: sim,
		})
		if err != nil {
			logger.Error("failed to create interactive console", "error", err)
			os.Exit(1)
		}
		// Route log output through readline so it does not garble the prompt.
		output.Set(console.Stdout())
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()

	if err := svc.Stop(); err != nil {
		logger.Error("error stopping service", "error", err)
	}
	logger.Info("goodbye")
}

// loadConfig layers the configuration file, the environment and the
// command line, then validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.Load(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var envFiles []string
	if flags.EnvFile != "" {
		envFiles = append(envFiles, flags.EnvFile)
	}
	lookup, err := config.Environment(envFiles...)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	applyFlags(cfg)

	if cfg.Switcher.Simulate && cfg.Switcher.Address == "" {
		cfg.Switcher.Address = simulatedAddress
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}
	if flags.Switcher != "" {
		cfg.Switcher.Address = flags.Switcher
	}
	if flags.Simulate {
		cfg.Switcher.Simulate = true
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.LogFormat != "" {
		cfg.Log.Format = flags.LogFormat
	}
	if flags.ProtocolLog != "" {
		cfg.Log.ProtocolFile = flags.ProtocolLog
	}
	if flags.NoDiscovery {
		cfg.Discovery.Enabled = false
	}
}

// logOutput is a writer whose destination can be swapped while loggers
// hold on to it.
type logOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *logOutput) Set(w io.Writer) {
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	// Validate has already rejected unknown levels.
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newProtocolLogger opens the capture file if one is configured. At debug
// level protocol events are also written to the log.
func newProtocolLogger(path string, logger *slog.Logger) (tallylog.Logger, func(), error) {
	var loggers []tallylog.Logger
	closeFn := func() {}

	if path != "" {
		file, err := tallylog.NewFileLogger(path)
		if err != nil {
			return nil, closeFn, err
		}
		logger.Info("protocol logging enabled", "file", path)
		loggers = append(loggers, file)
		closeFn = func() {
			if n := file.EncodeErrors(); n > 0 {
				logger.Warn("protocol events dropped", "count", n)
			}
			file.Close()
		}
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, tallylog.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return tallylog.NewMultiLogger(loggers...), closeFn, nil
	}
}

// newDriver returns the simulator in simulation mode and the registered
// protocol driver otherwise. The simulator is also returned on its own so
// the console can step it.
func newDriver(cfg *config.Config, mem *switcher.Memory, logger *slog.Logger) (switcher.Driver, *switcher.Simulator, error) {
	if cfg.Switcher.Simulate {
		sim, err := switcher.NewSimulator(mem, switcher.SimulatorConfig{
			Inputs:    cfg.Switcher.SimulateInputs,
			Interval:  cfg.Switcher.SimulateInterval,
			MixEffect: cfg.Switcher.MixEffect,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("simulation mode", "inputs", cfg.Switcher.SimulateInputs, "interval", cfg.Switcher.SimulateInterval)
		return sim, sim, nil
	}

	driver, err := switcher.OpenDriver(cfg.Switcher.Driver, mem, logger)
	if err != nil {
		return nil, nil, err
	}
	return driver, nil, nil
}

func serviceConfig(cfg *config.Config, logger *slog.Logger, protocolLogger tallylog.Logger) service.Config {
	c := service.DefaultConfig()
	c.ListenAddress = cfg.Listen
	c.ListenEarly = flags.ListenEarly
	c.Handshake = cfg.HandshakeConfig()
	c.HandshakeTimeout = cfg.HandshakeTimeout
	c.SendQueueSize = cfg.SendQueueSize
	c.MixEffect = cfg.Switcher.MixEffect
	c.SwitcherAddress = cfg.Switcher.Address
	c.ResolveRetry = cfg.Switcher.ResolveRetry
	c.Instance = cfg.Discovery.Instance
	c.Version = version.Protocol
	c.Logger = logger
	c.ProtocolLogger = protocolLogger
	return c
}

func handleEvent(logger *slog.Logger, e service.Event) {
	switch e.Type {
	case service.EventServing:
		logger.Info("accepting tally lamps")
	case service.EventClientSubscribed:
		logger.Info("lamp subscribed",
			"conn", e.ConnID, "remote", e.RemoteAddr,
			"format", e.Format.String(), "inputs", e.Inputs)
	case service.EventClientDisconnected:
		logger.Info("lamp disconnected", "conn", e.ConnID, "remote", e.RemoteAddr)
	case service.EventError:
		if e.Error != nil && !errors.Is(e.Error, context.Canceled) {
			logger.Warn("service error", "conn", e.ConnID, "error", e.Error)
		}
	}
}
