package watch

import (
	"slices"
	"strings"
	"time"
)

const (
	defaultLargeFileMB = 100
	defaultStallAfter  = 30 * time.Second
	defaultTimeout     = time.Hour
)

var (
	imageExts   = []string{".jpg", ".jpeg", ".png", ".gif"}
	archiveExts = []string{".exe", ".msi", ".zip", ".rar", ".7z"}
	videoExts   = []string{".mp4", ".mkv", ".avi", ".mov"}
	tempExts    = []string{".crdownload", ".tmp", ".part", ".download", ".partial"}
)

// size brackets, largest first; only the first match applies
var sizeSurcharges = []struct {
	overMB float64
	extra  uint32
}{
	{1000, 4},
	{500, 3},
	{100, 2},
	{50, 1},
}

// Verdict is the outcome of a readiness evaluation.
type Verdict int

const (
	NotReady Verdict = iota
	Ready
	// ReadyStalled is a large file whose size has not moved for StallAfter.
	ReadyStalled
	// ReadyTimeout is a large file forced through after Timeout.
	ReadyTimeout
)

func (v Verdict) Ready() bool {
	return v != NotReady
}

func (v Verdict) String() string {
	switch v {
	case Ready:
		return "ready"
	case ReadyStalled:
		return "ready-stalled"
	case ReadyTimeout:
		return "ready-timeout"
	default:
		return "not-ready"
	}
}

// Policy decides when an observed file has finished downloading.
type Policy struct {
	LargeFileMB float64
	StallAfter  time.Duration
	Timeout     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		LargeFileMB: defaultLargeFileMB,
		StallAfter:  defaultStallAfter,
		Timeout:     defaultTimeout,
	}
}

// RequiredStableChecks is the number of consecutive unchanged polls a file
// needs before it counts as complete.
func (p Policy) RequiredStableChecks(ext string, sizeMB float64) uint32 {
	ext = strings.ToLower(ext)

	var base uint32
	switch {
	case slices.Contains(imageExts, ext):
		base = 3
	case slices.Contains(archiveExts, ext):
		base = 5
	case slices.Contains(videoExts, ext):
		base = 6
	default:
		base = 4
	}

	for _, s := range sizeSurcharges {
		if sizeMB > s.overMB {
			return base + s.extra
		}
	}
	return base
}

func IsTempExtension(ext string) bool {
	return slices.Contains(tempExts, strings.ToLower(ext))
}

// Evaluate classifies state. openable is only consulted when the answer
// depends on it.
func (p Policy) Evaluate(state FileState, ext string, now time.Time, openable func() bool) Verdict {
	if IsTempExtension(ext) {
		return NotReady
	}

	sizeMB := state.SizeMB()
	if sizeMB > p.LargeFileMB {
		if now.Sub(state.FirstSeen) > p.Timeout {
			return ReadyTimeout
		}
		if !state.IsDownloading && now.Sub(state.LastSizeChange) > p.StallAfter && openable() {
			return ReadyStalled
		}
	}

	if state.StableCount >= p.RequiredStableChecks(ext, sizeMB) && !state.IsDownloading && openable() {
		return Ready
	}
	return NotReady
}

func (p Policy) IsReady(state FileState, ext string, now time.Time, openable func() bool) bool {
	return p.Evaluate(state, ext, now, openable).Ready()
}
