// Package checksum computes content digests for catalogued files.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

const (
	smallFileLimit  = 1 << 20  // 1 MiB
	mediumFileLimit = 10 << 20 // 10 MiB
	readBufferSize  = 64 << 10
)

type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// SelectAlgorithm picks the digest by file size. Equal content always has
// equal size, so duplicates always land on the same algorithm.
func SelectAlgorithm(size int64) Algorithm {
	switch {
	case size < smallFileLimit:
		return MD5
	case size < mediumFileLimit:
		return SHA1
	default:
		return SHA256
	}
}

func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	default:
		return sha256.New()
	}
}

// Hasher turns a file into a hex digest.
type Hasher interface {
	Digest(ctx context.Context, path string) (string, error)
}

// IsTransient reports whether err is worth retrying: the file exists but
// another process still holds it.
func IsTransient(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

// RetryPolicy bounds how often a transient failure is retried.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		Backoff:    time.Second,
		MaxBackoff: 8 * time.Second,
	}
}

// delay is the wait before retry n (1-based), doubling up to MaxBackoff.
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.Backoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// FileHasher reads files from disk.
type FileHasher struct {
	retry RetryPolicy
	// open is swapped in tests
	open func(name string) (*os.File, error)
}

var _ Hasher = (*FileHasher)(nil)

func NewFileHasher(retry RetryPolicy) *FileHasher {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &FileHasher{retry: retry, open: os.Open}
}

// Digest hashes path, retrying permission failures per the retry policy.
func (h *FileHasher) Digest(ctx context.Context, path string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= h.retry.Attempts; attempt++ {
		digest, err := h.digestOnce(path)
		if err == nil {
			return digest, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return "", err
		}
		if attempt == h.retry.Attempts {
			break
		}

		wait := h.retry.delay(attempt)
		slog.Warn("checksum retry", "path", path, "attempt", attempt, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", fmt.Errorf("checksum %s after %d attempts: %w", path, h.retry.Attempts, lastErr)
}

func (h *FileHasher) digestOnce(path string) (string, error) {
	f, err := h.open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	sum := SelectAlgorithm(info.Size()).New()
	buf := make([]byte, readBufferSize)
	if _, err := io.CopyBuffer(sum, f, buf); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
