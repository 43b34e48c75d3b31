// Package importer catalogs the files already sitting in a directory.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/dupwatch/internal/catalog"
	"github.com/openmined/dupwatch/internal/checksum"
	"github.com/openmined/dupwatch/internal/utils"
	"github.com/openmined/dupwatch/internal/watch"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Hasher  checksum.Hasher
	Catalog catalog.Catalog
	// Filter may be nil to import everything.
	Filter *watch.Filter
	// Concurrency bounds parallel hashing; defaults to GOMAXPROCS.
	Concurrency int
	Recursive   bool
}

type Summary struct {
	Scanned    int
	Inserted   int
	Duplicates int
	Skipped    int
	Failed     int
	Bytes      uint64
	Elapsed    time.Duration
}

type counters struct {
	scanned, inserted, duplicates, skipped, failed atomic.Int64
	bytes                                          atomic.Uint64
}

// Run walks root and inserts every file whose digest is not yet catalogued.
// Per-file failures are counted, not returned.
func Run(ctx context.Context, root string, opts Options) (Summary, error) {
	if opts.Hasher == nil || opts.Catalog == nil {
		return Summary{}, errors.New("importer needs a hasher and a catalog")
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	root, err := utils.ResolvePath(root)
	if err != nil {
		return Summary{}, err
	}
	if !utils.DirExists(root) {
		return Summary{}, fmt.Errorf("import dir %s: %w", root, fs.ErrNotExist)
	}

	slog.Info("import start", "dir", root, "concurrency", limit)
	start := time.Now()

	var c counters
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("import walk", "path", path, "error", err)
			return nil
		}
		if egCtx.Err() != nil {
			return egCtx.Err()
		}
		if d.IsDir() {
			if path != root && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !opts.Filter.Match(path) {
			return nil
		}

		c.scanned.Add(1)
		if watch.IsTempExtension(utils.Ext(path)) {
			c.skipped.Add(1)
			return nil
		}

		eg.Go(func() error {
			importFile(egCtx, path, opts, &c)
			return nil
		})
		return nil
	})

	waitErr := eg.Wait()

	summary := Summary{
		Scanned:    int(c.scanned.Load()),
		Inserted:   int(c.inserted.Load()),
		Duplicates: int(c.duplicates.Load()),
		Skipped:    int(c.skipped.Load()),
		Failed:     int(c.failed.Load()),
		Bytes:      c.bytes.Load(),
		Elapsed:    time.Since(start),
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if err := errors.Join(walkErr, waitErr); err != nil {
		return summary, err
	}

	slog.Info("import done",
		"inserted", summary.Inserted,
		"duplicates", summary.Duplicates,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"hashed", humanize.IBytes(summary.Bytes),
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
	return summary, nil
}

func importFile(ctx context.Context, path string, opts Options, c *counters) {
	info, err := os.Stat(path)
	if err != nil {
		slog.Warn("import stat", "path", path, "error", err)
		c.failed.Add(1)
		return
	}
	if info.Size() == 0 {
		c.skipped.Add(1)
		return
	}

	digest, err := opts.Hasher.Digest(ctx, path)
	if err != nil {
		slog.Warn("import checksum", "path", path, "error", err)
		c.failed.Add(1)
		return
	}
	c.bytes.Add(uint64(info.Size()))

	existing, err := opts.Catalog.FindByDigest(ctx, digest)
	if err != nil {
		slog.Error("import lookup", "path", path, "error", err)
		c.failed.Add(1)
		return
	}
	if existing != nil {
		slog.Debug("import duplicate", "path", path, "existing", existing.FilePath)
		c.duplicates.Add(1)
		return
	}

	err = opts.Catalog.Insert(ctx, catalog.NewRecord(digest, path, info.Size()))
	switch {
	case err == nil:
		slog.Info("imported", "path", path, "digest", digest)
		c.inserted.Add(1)
	case errors.Is(err, catalog.ErrDuplicateDigest):
		c.duplicates.Add(1)
	default:
		slog.Error("import insert", "path", path, "error", err)
		c.failed.Add(1)
	}
}
