package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/dupwatch/internal/catalog"
	"github.com/openmined/dupwatch/internal/checksum"
	"github.com/openmined/dupwatch/internal/config"
	"github.com/openmined/dupwatch/internal/resolver"
	"github.com/openmined/dupwatch/internal/watch"
	"github.com/openmined/dupwatch/internal/workspace"
)

// deps are the long lived pieces shared by the watcher and import commands.
type deps struct {
	ws      *workspace.Workspace
	catalog *catalog.SqliteCatalog
	hasher  checksum.Hasher
}

func openDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}

	cat := catalog.NewSqliteCatalog(cfg.CatalogPath)
	if err := cat.Open(ctx); err != nil {
		ws.Unlock()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	hasher, err := checksum.NewCachingHasher(checksum.NewFileHasher(checksum.RetryPolicy{
		Attempts:   cfg.HashRetries,
		Backoff:    cfg.HashBackoff,
		MaxBackoff: 8 * cfg.HashBackoff,
	}), checksum.DefaultCacheSize)
	if err != nil {
		cat.Close()
		ws.Unlock()
		return nil, err
	}

	return &deps{ws: ws, catalog: cat, hasher: hasher}, nil
}

func (d *deps) Close() error {
	return errors.Join(d.catalog.Close(), d.ws.Unlock())
}

func newSource(cfg *config.Config, kind string) watch.EventSource {
	if kind == config.SourcePoll {
		return watch.NewPollSource(cfg.WatchDir, cfg.Recursive, cfg.PollInterval)
	}
	return watch.NewNotifySource(cfg.WatchDir, cfg.Recursive)
}

func runWatcher(ctx context.Context, cfg *config.Config) error {
	d, err := openDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	mode, err := resolver.ParseMode(cfg.ConflictMode)
	if err != nil {
		return err
	}
	res, err := resolver.New(mode)
	if err != nil {
		return err
	}

	filter, err := watch.NewFilter(cfg.WatchDir, cfg.Ignore, cfg.Include)
	if err != nil {
		return err
	}

	newCoordinator := func(kind string) *watch.Coordinator {
		return watch.NewCoordinator(newSource(cfg, kind), watch.NewTracker(), d.hasher, d.catalog, res, watch.Options{
			TickInterval:         cfg.TickInterval,
			HousekeepingInterval: cfg.HousekeepingInterval,
			StaleAfter:           cfg.StaleAfter,
			Filter:               filter,
		})
	}

	coord := newCoordinator(cfg.EventSource)
	if err := coord.Start(ctx); err != nil {
		if cfg.EventSource != config.SourceNotify {
			return err
		}
		slog.Warn("notify source unavailable, falling back to polling", "error", err, "interval", cfg.PollInterval)
		coord = newCoordinator(config.SourcePoll)
		if err := coord.Start(ctx); err != nil {
			return err
		}
	}

	slog.Info("dupwatch start", "dir", cfg.WatchDir, "recursive", cfg.Recursive, "catalog", cfg.CatalogPath)

	<-ctx.Done()
	slog.Info("received interrupt signal, stopping watcher")
	coord.Stop()

	stats := coord.Stats()
	slog.Info("dupwatch stopped",
		"inserted", stats[watch.OutcomeInserted],
		"deleted", stats[watch.OutcomeDeleted],
		"kept", stats[watch.OutcomeKept],
		"failed", stats[watch.OutcomeFailed],
	)
	return ctx.Err()
}
