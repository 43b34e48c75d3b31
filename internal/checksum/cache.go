package checksum

import (
	"context"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 512

type cacheKey struct {
	path    string
	size    int64
	modTime time.Time
}

// CachingHasher skips re-reading a file whose path, size and mtime match a
// previous digest.
type CachingHasher struct {
	next  Hasher
	cache *lru.Cache[cacheKey, string]
}

var _ Hasher = (*CachingHasher)(nil)

func NewCachingHasher(next Hasher, size int) (*CachingHasher, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, err
	}
	return &CachingHasher{next: next, cache: cache}, nil
}

func (c *CachingHasher) Digest(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	key := cacheKey{path: path, size: info.Size(), modTime: info.ModTime()}
	if digest, ok := c.cache.Get(key); ok {
		return digest, nil
	}

	digest, err := c.next.Digest(ctx, path)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, digest)
	return digest, nil
}

func (c *CachingHasher) Len() int {
	return c.cache.Len()
}
