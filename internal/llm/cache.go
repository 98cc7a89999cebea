package llm

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto/v2"
)

// SourceCache remembers generated scene source by prompt so that an identical
// request does not pay for a second generation.
type SourceCache struct {
	c *ristretto.Cache[string, string]
}

// NewSourceCache creates a cache holding at most maxCostBytes of source.
func NewSourceCache(maxCostBytes int64) (*SourceCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SourceCache{c: c}, nil
}

// Get returns the source cached for prompt.
func (s *SourceCache) Get(prompt string) (string, bool) {
	if s == nil {
		return "", false
	}
	return s.c.Get(cacheKey(prompt))
}

// Set caches source for prompt. Admission is asynchronous.
func (s *SourceCache) Set(prompt, source string) {
	if s == nil {
		return
	}
	s.c.Set(cacheKey(prompt), source, int64(len(source)))
}

// Wait blocks until pending writes are applied.
func (s *SourceCache) Wait() {
	if s != nil {
		s.c.Wait()
	}
}

// Close releases the cache.
func (s *SourceCache) Close() {
	if s != nil {
		s.c.Close()
	}
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
