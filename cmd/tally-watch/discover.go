package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/milux/ATEM-Tally/pkg/discovery"
	"github.com/milux/ATEM-Tally/pkg/version"
)

// checkVersion reports whether svc speaks a protocol this lamp understands.
// Servers that do not advertise a version predate versioning and speak 1.x.
func checkVersion(svc *discovery.Service) error {
	if svc.Info.Version == "" {
		return nil
	}
	v, err := version.Parse(svc.Info.Version)
	if err != nil {
		return err
	}
	if current := version.Current(); !current.Compatible(v) {
		return fmt.Errorf("protocol %s is not compatible with %s", v, current)
	}
	return nil
}

// pickServer returns the first compatible server from services. Incompatible
// servers are logged and skipped.
func pickServer(ctx context.Context, services <-chan *discovery.Service, logger *slog.Logger) (*discovery.Service, error) {
	for {
		select {
		case svc, ok := <-services:
			if !ok {
				return nil, discovery.ErrNotFound
			}
			if err := checkVersion(svc); err != nil {
				logger.Warn("skipping tally server",
					"instance", svc.Instance,
					"version", svc.Info.Version,
					"error", err)
				continue
			}
			return svc, nil
		case <-ctx.Done():
			return nil, discovery.ErrNotFound
		}
	}
}

// findServer browses for the first compatible tally server.
func findServer(ctx context.Context, browser *discovery.MDNSBrowser, logger *slog.Logger) (*discovery.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, discovery.BrowseTimeout)
	defer cancel()

	services, err := browser.Browse(ctx)
	if err != nil {
		return nil, err
	}
	return pickServer(ctx, services, logger)
}
