// Package catalog persists one record per distinct file content, keyed by digest.
package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// maxFileTypeLen matches the width of the file_type column.
const maxFileTypeLen = 20

var (
	ErrDuplicateDigest = errors.New("digest already catalogued")
	ErrNotOpen         = errors.New("catalog not open")
)

// Record is a catalogued file.
type Record struct {
	ID        int64     `db:"id"`
	Digest    string    `db:"checksum"`
	FileName  string    `db:"file_name"`
	FilePath  string    `db:"file_path"`
	FileSize  int64     `db:"file_size"`
	FileType  string    `db:"file_type"`
	CreatedAt time.Time `db:"date_created"`
}

// NewRecord fills name and type from the absolute path.
func NewRecord(digest, absPath string, size int64) *Record {
	return &Record{
		Digest:    digest,
		FileName:  filepath.Base(absPath),
		FilePath:  absPath,
		FileSize:  size,
		FileType:  fileType(absPath),
		CreatedAt: time.Now().UTC(),
	}
}

func fileType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if len(ext) > maxFileTypeLen {
		ext = ext[:maxFileTypeLen]
	}
	return ext
}

// Catalog is what the watcher needs from storage.
type Catalog interface {
	// FindByDigest returns nil, nil when no record has the digest.
	FindByDigest(ctx context.Context, digest string) (*Record, error)
	// Insert fails with ErrDuplicateDigest if the digest is already present.
	Insert(ctx context.Context, rec *Record) error
}
