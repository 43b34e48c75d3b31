package watch

import "time"

// FileState is the observation history of one tracked path.
type FileState struct {
	Size             uint64
	LastModified     time.Time
	StableCount      uint32
	CheckCount       uint32
	InitialSize      uint64
	FirstSeen        time.Time
	LastSizeChange   time.Time
	LastAccessed     time.Time
	SpeedBytesPerSec float64
	IsDownloading    bool

	// sizeChanged is set when the latest observation saw a different size
	// than the previous one.
	sizeChanged bool
	initialized bool
}

func (s FileState) SizeMB() float64 {
	return float64(s.Size) / (1024 * 1024)
}

// Initialized reports whether the state has seen its first observation.
func (s FileState) Initialized() bool {
	return s.initialized
}

// SizeChanged reports whether the latest observation changed the size.
func (s FileState) SizeChanged() bool {
	return s.sizeChanged
}
