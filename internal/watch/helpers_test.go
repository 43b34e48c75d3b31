package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const mb = 1024 * 1024

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeInfo struct {
	name string
	size int64
	mod  time.Time
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeInfo) ModTime() time.Time { return f.mod }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }

// fakeFiles stands in for os.Stat so sizes in the gigabytes cost nothing.
type fakeFiles struct {
	mu    sync.Mutex
	sizes map[string]int64
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{sizes: make(map[string]int64)}
}

func (f *fakeFiles) Set(path string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[path] = size
}

func (f *fakeFiles) Delete(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sizes, path)
}

func (f *fakeFiles) stat(name string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.sizes[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fakeInfo{name: filepath.Base(name), size: size}, nil
}

func alwaysOpenable(string) error { return nil }

func newTestTracker(clock *fakeClock, files *fakeFiles, opts ...TrackerOption) *Tracker {
	opts = append([]TrackerOption{WithClock(clock.Now), WithProbe(alwaysOpenable)}, opts...)
	tr := NewTracker(opts...)
	tr.stat = files.stat
	return tr
}
