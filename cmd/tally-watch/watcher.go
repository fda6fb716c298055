package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/milux/ATEM-Tally/pkg/connection"
	"github.com/milux/ATEM-Tally/pkg/tally"
	"github.com/milux/ATEM-Tally/pkg/transport"
	"github.com/milux/ATEM-Tally/pkg/wire"
)

// defaultStatusInterval is how often keep-alive statistics are logged.
const defaultStatusInterval = time.Minute

// Watcher keeps a lamp connection open and prints state changes.
type Watcher struct {
	Client    *transport.Client
	Address   string
	KeepAlive transport.KeepAliveConfig
	Output    io.Writer
	Logger    *slog.Logger

	// Backoff paces reconnects (default exponential).
	Backoff *connection.Backoff

	// StatusInterval is how often keep-alive statistics are logged.
	StatusInterval time.Duration
}

// Run connects and reconnects until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	backoff := w.Backoff
	if backoff == nil {
		backoff = connection.NewBackoff()
	}

	for {
		conn, err := w.Client.Connect(ctx, w.Address)
		if err == nil {
			backoff.Reset()
			w.Logger.Info("connected", "server", w.Address, "format", conn.Format().String())
			err = w.session(ctx, conn)
			conn.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.Next()
		w.Logger.Warn("connection lost", "error", err, "retry_in", delay, "attempt", backoff.Attempts())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session prints updates until the connection fails.
func (w *Watcher) session(ctx context.Context, conn *transport.ClientConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	ka := conn.StartKeepAlive(ctx, w.KeepAlive)
	if ka != nil {
		interval := w.StatusInterval
		if interval <= 0 {
			interval = defaultStatusInterval
		}
		go w.logKeepAlive(ctx, ka, interval)
	}

	last := make(map[int]tally.State)
	for {
		update, err := conn.Receive(0)
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) && ka != nil && ka.Stats().Missed > 0 {
				return errors.New("keep-alive echoes stopped")
			}
			return err
		}
		if prev, ok := last[update.Input]; ok && prev == update.State {
			continue
		}
		last[update.Input] = update.State
		fmt.Fprintf(w.Output, "%s  input %3d  %s\n",
			time.Now().Format("15:04:05.000"), update.Input, update.State)
	}
}

func (w *Watcher) logKeepAlive(ctx context.Context, ka *transport.KeepAlive, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := ka.Stats()
			w.Logger.Debug("keep-alive", "latency", stats.LastLatency, "missed", stats.Missed)
		}
	}
}

// parseInputs converts the input arguments to wire codes. Legacy lamps
// watch exactly one code.
func parseInputs(args []string, format wire.Format) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one input is required")
	}
	if format == wire.FormatLegacy && len(args) != 1 {
		return nil, errors.New("legacy lamps watch exactly one input")
	}

	inputs := make([]byte, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > 254 {
			return nil, fmt.Errorf("invalid input %q (1-254)", arg)
		}
		inputs = append(inputs, byte(n))
	}
	return inputs, nil
}
