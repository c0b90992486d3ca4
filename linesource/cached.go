package linesource

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Cached keeps recently found lines of another Source in an LRU cache.
// Failed lookups are not cached.
type Cached struct {
	src   Source
	cache *lru.Cache[int, string]
}

// NewCached wraps src with a cache of up to size lines.
func NewCached(src Source, size int) (*Cached, error) {
	cache, err := lru.New[int, string](size)
	if err != nil {
		return nil, errors.Wrap(err, "create line cache")
	}
	return &Cached{src: src, cache: cache}, nil
}

// Lookup returns the cached line or asks the wrapped source.
func (c *Cached) Lookup(ctx context.Context, index int) (string, error) {
	if line, ok := c.cache.Get(index); ok {
		return line, nil
	}

	line, err := c.src.Lookup(ctx, index)
	if err != nil {
		return "", err
	}
	c.cache.Add(index, line)
	return line, nil
}

// Len returns the number of cached lines.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Open returns a source over the file at path. By default the whole file is
// indexed in memory; with scan set the file is read again for each lookup
// and found lines are kept in an LRU cache of cacheSize entries.
func Open(path string, scan bool, cacheSize int) (Source, error) {
	if !scan {
		return Load(path)
	}

	s, err := NewScan(path)
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		return s, nil
	}
	return NewCached(s, cacheSize)
}
