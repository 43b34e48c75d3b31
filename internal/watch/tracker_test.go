package watch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// poll advances the clock by step, then observes and evaluates path once.
func poll(t *testing.T, tr *Tracker, clock *fakeClock, path string, step time.Duration) Verdict {
	t.Helper()
	clock.Advance(step)
	_, err := tr.Observe(path)
	require.NoError(t, err)
	v, err := tr.IsReady(path)
	require.NoError(t, err)
	return v
}

func TestTracker_ObserveMissing(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)

	_, err := tr.Observe("/dl/missing.zip")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = tr.IsReady("/dl/missing.zip")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_FirstObservationIsBaseline(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	files.Set("/dl/a.bin", 0)

	st, err := tr.Observe("/dl/a.bin")
	require.NoError(t, err)
	assert.True(t, st.Initialized())
	assert.False(t, st.IsDownloading)
	assert.False(t, st.SizeChanged())
	assert.Equal(t, uint64(0), st.InitialSize)
	assert.Equal(t, clock.Now(), st.FirstSeen)
	assert.Equal(t, clock.Now(), st.LastSizeChange)
	assert.Equal(t, uint32(1), st.CheckCount)

	v, err := tr.IsReady("/dl/a.bin")
	require.NoError(t, err)
	assert.Equal(t, NotReady, v)
	snap, ok := tr.Snapshot("/dl/a.bin")
	require.True(t, ok)
	assert.Equal(t, uint32(0), snap.StableCount, "first observation never counts as stable")
}

func TestTracker_InitialSizeWrittenOnce(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/b.bin"

	files.Set(path, 10)
	_, err := tr.Observe(path)
	require.NoError(t, err)

	var lastChecks uint32 = 1
	for _, size := range []int64{20, 30, 30, 5} {
		files.Set(path, size)
		clock.Advance(time.Second)
		st, err := tr.Observe(path)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), st.InitialSize)
		assert.Equal(t, uint64(size), st.Size)
		assert.Greater(t, st.CheckCount, lastChecks)
		lastChecks = st.CheckCount
	}
}

func TestTracker_SizeChangeSetsDownloadingAndSpeed(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/c.bin"

	files.Set(path, 0)
	poll(t, tr, clock, path, 0)

	files.Set(path, 4*mb)
	clock.Advance(2 * time.Second)
	st, err := tr.Observe(path)
	require.NoError(t, err)
	assert.True(t, st.IsDownloading)
	assert.True(t, st.SizeChanged())
	assert.Equal(t, clock.Now(), st.LastSizeChange)
	assert.InDelta(t, float64(2*mb), st.SpeedBytesPerSec, 1)
}

func TestTracker_DownloadingHoldsForFiveSeconds(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/d.pdf"

	files.Set(path, 0)
	poll(t, tr, clock, path, 0)
	files.Set(path, mb)
	poll(t, tr, clock, path, time.Second)

	for i := 1; i <= 5; i++ {
		assert.Equal(t, NotReady, poll(t, tr, clock, path, time.Second))
		st, _ := tr.Snapshot(path)
		assert.True(t, st.IsDownloading, "still downloading %ds after last change", i)
		assert.Equal(t, uint32(0), st.StableCount)
	}

	poll(t, tr, clock, path, time.Second)
	st, _ := tr.Snapshot(path)
	assert.False(t, st.IsDownloading)
	assert.Equal(t, uint32(1), st.StableCount)
}

func TestTracker_ChangingSizeNeverReady(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/stream.mp4"

	for i := int64(0); i < 50; i++ {
		files.Set(path, i*mb)
		assert.Equal(t, NotReady, poll(t, tr, clock, path, 10*time.Second))
		st, _ := tr.Snapshot(path)
		assert.Equal(t, uint32(0), st.StableCount)
	}
}

func TestTracker_VideoReadyAfterSixStablePolls(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/video.mp4"
	step := 10 * time.Second

	for _, size := range []int64{0, 20 * mb, 40 * mb, 50 * mb} {
		files.Set(path, size)
		assert.Equal(t, NotReady, poll(t, tr, clock, path, step))
	}

	for i := 1; i < 6; i++ {
		assert.Equal(t, NotReady, poll(t, tr, clock, path, step), "stable poll %d", i)
	}
	assert.Equal(t, Ready, poll(t, tr, clock, path, step), "ready on the sixth stable poll")
}

// At a one second tick the downloading hold and the stable count add up:
// five polls wait out the hold, then six stable polls are counted.
func TestTracker_VideoAtOneSecondTickWaitsOutHoldFirst(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/video.mp4"

	files.Set(path, 0)
	assert.Equal(t, NotReady, poll(t, tr, clock, path, 0))
	files.Set(path, 40*mb)
	assert.Equal(t, NotReady, poll(t, tr, clock, path, time.Second))

	for i := 1; i <= 5; i++ {
		assert.Equal(t, NotReady, poll(t, tr, clock, path, time.Second), "hold poll %d", i)
		st, _ := tr.Snapshot(path)
		assert.True(t, st.IsDownloading)
		assert.Equal(t, uint32(0), st.StableCount)
	}
	for i := 1; i < 6; i++ {
		assert.Equal(t, NotReady, poll(t, tr, clock, path, time.Second), "stable poll %d", i)
		st, _ := tr.Snapshot(path)
		assert.Equal(t, uint32(i), st.StableCount)
	}
	assert.Equal(t, Ready, poll(t, tr, clock, path, time.Second), "ready on the eleventh unchanged poll")
}

func TestTracker_LargeArchiveNeedsNineStablePolls(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/archive.zip"
	files.Set(path, 1200*mb)

	// baseline plus eight stable polls, all inside the 30s stall window
	for i := 0; i < 9; i++ {
		assert.Equal(t, NotReady, poll(t, tr, clock, path, time.Second), "poll %d", i)
	}
	assert.Equal(t, Ready, poll(t, tr, clock, path, time.Second))

	st, _ := tr.Snapshot(path)
	assert.Equal(t, uint32(9), st.StableCount)
	assert.False(t, st.IsDownloading)
}

func TestTracker_LargeArchiveStallOverride(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/archive.zip"
	files.Set(path, 1200*mb)

	step := 10 * time.Second
	for i := 0; i < 4; i++ {
		assert.Equal(t, NotReady, poll(t, tr, clock, path, step))
	}
	// 40s since the last size change
	assert.Equal(t, ReadyStalled, poll(t, tr, clock, path, step))

	st, _ := tr.Snapshot(path)
	assert.Less(t, st.StableCount, DefaultPolicy().RequiredStableChecks(".zip", 1200))
}

func TestTracker_LargeDownloadTimesOut(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files, WithProbe(func(string) error { return errors.New("locked") }))
	path := "/dl/huge.iso"

	size := int64(200 * mb)
	var v Verdict
	polls := 0
	for v == NotReady && polls < 100 {
		size += mb
		files.Set(path, size)
		v = poll(t, tr, clock, path, 5*time.Minute)
		polls++
	}
	assert.Equal(t, ReadyTimeout, v)
	// first poll at +5m, timeout once more than an hour has passed
	assert.Equal(t, 14, polls)
}

func TestTracker_TempExtensionNeverReady(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/movie.mp4.crdownload"
	files.Set(path, 10*mb)

	for i := 0; i < 30; i++ {
		assert.Equal(t, NotReady, poll(t, tr, clock, path, 10*time.Second))
	}
	st, _ := tr.Snapshot(path)
	assert.Greater(t, st.StableCount, uint32(20))
}

func TestTracker_LockedFileWaits(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	locked := true
	tr := newTestTracker(clock, files, WithProbe(func(string) error {
		if locked {
			return errors.New("locked")
		}
		return nil
	}))
	path := "/dl/photo.jpg"
	files.Set(path, mb)

	for i := 0; i < 6; i++ {
		assert.Equal(t, NotReady, poll(t, tr, clock, path, 10*time.Second))
	}
	locked = false
	assert.Equal(t, Ready, poll(t, tr, clock, path, 10*time.Second))
}

func TestTracker_ResetStable(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	path := "/dl/photo.jpg"
	files.Set(path, mb)

	for i := 0; i < 4; i++ {
		poll(t, tr, clock, path, 10*time.Second)
	}
	st, _ := tr.Snapshot(path)
	require.Equal(t, uint32(3), st.StableCount)

	tr.ResetStable(path)
	st, _ = tr.Snapshot(path)
	assert.Equal(t, uint32(0), st.StableCount)

	tr.ResetStable("/dl/untracked")
}

func TestTracker_RemoveIsIdempotent(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	files.Set("/dl/a", 1)

	_, err := tr.Observe("/dl/a")
	require.NoError(t, err)
	require.Equal(t, 1, tr.Len())

	tr.Remove("/dl/a")
	tr.Remove("/dl/a")
	tr.Remove("/dl/never")
	assert.Equal(t, 0, tr.Len())
	_, ok := tr.Snapshot("/dl/a")
	assert.False(t, ok)
}

func TestTracker_EvictStale(t *testing.T) {
	clock, files := newFakeClock(), newFakeFiles()
	tr := newTestTracker(clock, files)
	files.Set("/dl/old", 1)
	files.Set("/dl/fresh", 1)

	_, err := tr.Observe("/dl/old")
	require.NoError(t, err)
	clock.Advance(90 * time.Minute)
	_, err = tr.Observe("/dl/fresh")
	require.NoError(t, err)

	assert.Equal(t, 1, tr.EvictStale(time.Hour))
	_, ok := tr.Snapshot("/dl/old")
	assert.False(t, ok)
	_, ok = tr.Snapshot("/dl/fresh")
	assert.True(t, ok)
	assert.Equal(t, 0, tr.EvictStale(time.Hour))
}
