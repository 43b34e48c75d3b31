package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const DefaultPollInterval = 2 * time.Second

type polledFile struct {
	size    int64
	modTime time.Time
}

// PollSource lists the watch directory on an interval. It is the fallback
// where native notifications are unavailable. Files present at start are
// taken as the baseline and not reported.
type PollSource struct {
	root      string
	recursive bool
	interval  time.Duration

	seen   map[string]polledFile
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ EventSource = (*PollSource)(nil)

func NewPollSource(root string, recursive bool, interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollSource{
		root:      root,
		recursive: recursive,
		interval:  interval,
		seen:      make(map[string]polledFile),
	}
}

func (s *PollSource) Start(ctx context.Context) error {
	slog.Info("poll source start", "dir", s.root, "interval", s.interval)

	if _, err := os.Stat(s.root); err != nil {
		return err
	}

	s.events = make(chan Event, eventBufferSize)
	s.done = make(chan struct{})
	s.seen = s.list()

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

func (s *PollSource) Stop() {
	if s.done == nil {
		return
	}
	close(s.done)
	s.wg.Wait()
	slog.Info("poll source stopped")
}

func (s *PollSource) Events() <-chan Event {
	return s.events
}

func (s *PollSource) run(ctx context.Context) {
	defer func() {
		s.wg.Done()
		close(s.events)
	}()

	// timer, not ticker: a slow scan must not queue up ticks
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-timer.C:
			for _, ev := range s.scan() {
				select {
				case s.events <- ev:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
			timer.Reset(s.interval)
		}
	}
}

// scan lists the tree and returns what changed since the previous listing.
func (s *PollSource) scan() []Event {
	current := s.list()

	var events []Event
	for path, f := range current {
		prev, ok := s.seen[path]
		switch {
		case !ok:
			events = append(events, Event{Op: OpCreate, Path: path})
		case prev.size != f.size || !prev.modTime.Equal(f.modTime):
			events = append(events, Event{Op: OpModify, Path: path})
		}
	}
	s.seen = current
	return events
}

func (s *PollSource) list() map[string]polledFile {
	files := make(map[string]polledFile, len(s.seen))

	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// vanished mid-walk
			return nil
		}
		if d.IsDir() {
			if path != s.root && !s.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[path] = polledFile{size: info.Size(), modTime: info.ModTime()}
		return nil
	}
	if err := filepath.WalkDir(s.root, walk); err != nil {
		slog.Warn("poll source scan", "dir", s.root, "error", err)
	}
	return files
}
