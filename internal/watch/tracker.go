package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/dupwatch/internal/utils"
)

const (
	// DefaultDownloadingHold is how long an unchanged size keeps a file
	// flagged as downloading.
	DefaultDownloadingHold = 5 * time.Second
	statusEvery            = 5
)

// Tracker owns the FileState of every path under observation.
type Tracker struct {
	mu    sync.Mutex
	files map[string]*FileState

	policy Policy
	hold   time.Duration
	now    func() time.Time
	stat   func(name string) (os.FileInfo, error)
	probe  func(path string) error
}

type TrackerOption func(*Tracker)

func WithPolicy(p Policy) TrackerOption {
	return func(t *Tracker) { t.policy = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func WithDownloadingHold(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.hold = d }
}

// WithProbe replaces the read check used to decide if a file is openable.
func WithProbe(probe func(path string) error) TrackerOption {
	return func(t *Tracker) { t.probe = probe }
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		files:  make(map[string]*FileState),
		policy: DefaultPolicy(),
		hold:   DefaultDownloadingHold,
		now:    time.Now,
		stat:   os.Stat,
		probe:  utils.CanRead,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe stats path and folds the result into its FileState.
func (t *Tracker) Observe(path string) (FileState, error) {
	info, err := t.stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return FileState{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	} else if err != nil {
		return FileState{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	size := uint64(info.Size())

	st, ok := t.files[path]
	if !ok {
		st = &FileState{}
		t.files[path] = st
	}

	if !st.initialized {
		st.initialized = true
		st.InitialSize = size
		st.FirstSeen = now
		st.LastSizeChange = now
		st.sizeChanged = false
	} else {
		elapsed := now.Sub(st.LastSizeChange)
		st.sizeChanged = size != st.Size
		switch {
		case st.sizeChanged:
			if elapsed > 0 {
				delta := math.Abs(float64(size) - float64(st.Size))
				st.SpeedBytesPerSec = delta / elapsed.Seconds()
				st.LastSizeChange = now
			}
			st.IsDownloading = true
			st.StableCount = 0
		case elapsed > t.hold:
			st.IsDownloading = false
		}
	}

	st.Size = size
	st.LastModified = info.ModTime()
	st.CheckCount++
	st.LastAccessed = now

	if st.CheckCount%statusEvery == 0 {
		logStatus(path, st, now)
	}

	return *st, nil
}

// IsReady advances the stable count from the latest observation and asks
// the policy for a verdict. Call it once per Observe.
func (t *Tracker) IsReady(path string) (Verdict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.files[path]
	if !ok {
		return NotReady, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if !st.sizeChanged && !st.IsDownloading && st.CheckCount > 1 {
		st.StableCount++
	} else {
		st.StableCount = 0
	}

	openable := func() bool { return t.probe(path) == nil }
	return t.policy.Evaluate(*st, utils.Ext(path), t.now(), openable), nil
}

// ResetStable restarts the stable count of path, if tracked.
func (t *Tracker) ResetStable(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.files[path]; ok {
		st.StableCount = 0
	}
}

// Remove forgets path. Removing an untracked path is a no-op.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, path)
}

// EvictStale removes every path not observed within maxAge and returns how
// many were removed.
func (t *Tracker) EvictStale(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	evicted := 0
	for path, st := range t.files {
		if st.LastAccessed.Before(cutoff) {
			delete(t.files, path)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Info("tracker evicted stale entries", "count", evicted, "remaining", len(t.files))
	}
	return evicted
}

func (t *Tracker) Snapshot(path string) (FileState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.files[path]
	if !ok {
		return FileState{}, false
	}
	return *st, true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

func (t *Tracker) Policy() Policy {
	return t.policy
}

func logStatus(path string, st *FileState, now time.Time) {
	status := "stabilizing"
	if st.IsDownloading {
		status = "downloading"
	}
	slog.Info("tracking",
		"path", path,
		"size", humanize.IBytes(st.Size),
		"speed", humanize.IBytes(uint64(st.SpeedBytesPerSec))+"/s",
		"elapsed", now.Sub(st.FirstSeen).Round(time.Second),
		"stable", st.StableCount,
		"checks", st.CheckCount,
		"status", status,
	)
}
