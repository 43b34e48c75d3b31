package watch

import "errors"

var (
	// ErrNotFound is returned by Tracker.Observe when the path no longer exists.
	ErrNotFound = errors.New("path not found")

	ErrGone            = errors.New("path vanished before processing")
	ErrTransientAccess = errors.New("file is locked or not readable yet")
	ErrHashFailure     = errors.New("checksum failed")
	ErrCatalogFailure  = errors.New("catalog unavailable")
)
