package geocode

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// Cache wraps a Client with an address-keyed result cache persisted as a
// single JSON file. Negative results (Matched=false) are cached too, so a
// re-run never re-queries addresses the service could not resolve.
type Cache struct {
	client Client
	path   string

	mu      sync.Mutex
	entries map[string]*Result
	dirty   bool
	hits    int
	misses  int
}

// NewCache loads the cache file at path if it exists and returns a caching
// wrapper around client. A missing file starts an empty cache.
func NewCache(client Client, path string) (*Cache, error) {
	c := &Cache{client: client, path: path, entries: map[string]*Result{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: read cache %s", path)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, eris.Wrapf(err, "geocode: parse cache %s", path)
	}
	return c, nil
}

// Geocode returns the cached result for address, or queries the underlying
// client and records the outcome.
func (c *Cache) Geocode(ctx context.Context, address string) (*Result, error) {
	c.mu.Lock()
	if res, ok := c.entries[address]; ok {
		c.hits++
		c.mu.Unlock()
		return res, nil
	}
	c.misses++
	c.mu.Unlock()

	res, err := c.client.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[address] = res
	c.dirty = true
	c.mu.Unlock()
	return res, nil
}

// Stats returns hit and miss counts since the cache was loaded.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Save writes the cache back to disk if any entry changed. The write goes
// through a temp file so a crash never leaves a truncated cache.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "geocode: marshal cache")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return eris.Wrapf(err, "geocode: mkdir for cache %s", c.path)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "geocode: write cache %s", tmp)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return eris.Wrapf(err, "geocode: replace cache %s", c.path)
	}
	c.dirty = false
	return nil
}
