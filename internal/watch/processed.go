package watch

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultProcessedMax  = 1000
	DefaultProcessedKeep = 500

	// hard cap between housekeeping runs
	processedHardCap = 100_000
)

// ProcessedSet remembers recently handled paths, oldest first out.
// Contains does not refresh an entry.
type ProcessedSet struct {
	cache *lru.Cache[string, struct{}]
}

func NewProcessedSet() *ProcessedSet {
	// lru.New only fails on a non-positive size
	cache, _ := lru.New[string, struct{}](processedHardCap)
	return &ProcessedSet{cache: cache}
}

func (p *ProcessedSet) Add(path string) {
	p.cache.Add(path, struct{}{})
}

func (p *ProcessedSet) Contains(path string) bool {
	return p.cache.Contains(path)
}

func (p *ProcessedSet) Remove(path string) {
	p.cache.Remove(path)
}

func (p *ProcessedSet) Len() int {
	return p.cache.Len()
}

// Trim drops the oldest entries down to keep once the set holds more than
// max. It returns the number of dropped entries.
func (p *ProcessedSet) Trim(max, keep int) int {
	if p.cache.Len() <= max {
		return 0
	}
	dropped := 0
	for p.cache.Len() > keep {
		if _, _, ok := p.cache.RemoveOldest(); !ok {
			break
		}
		dropped++
	}
	return dropped
}
