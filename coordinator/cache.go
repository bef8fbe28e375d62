package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/depotdb/depot"
)

const defaultCacheTTL = 10 * time.Second

// DatasetCache is a small TTL read-through cache in front of FindDataset,
// used on the hot active-version resolution path. Concurrent fills for the
// same dataset collapse into one metadata read.
type DatasetCache struct {
	svc depot.DatasetService
	ttl time.Duration
	clk clock.Clock

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	dataset  *depot.Dataset
	deadline time.Time
}

// newDatasetCache returns a cache over svc. A nil clk uses the wall clock.
func newDatasetCache(svc depot.DatasetService, ttl time.Duration, clk clock.Clock) *DatasetCache {
	if clk == nil {
		clk = clock.New()
	}
	return &DatasetCache{
		svc:     svc,
		ttl:     ttl,
		clk:     clk,
		entries: map[string]cacheEntry{},
	}
}

// NewDatasetCache is the exported constructor used by tests and callers that
// need a non-default TTL or clock.
func NewDatasetCache(svc depot.DatasetService, ttl time.Duration, clk clock.Clock) *DatasetCache {
	return newDatasetCache(svc, ttl, clk)
}

// Get returns the dataset, reading through on a miss or an expired entry.
func (c *DatasetCache) Get(ctx context.Context, name string) (*depot.Dataset, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && c.clk.Now().Before(e.deadline) {
		return e.dataset, nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		d, err := c.svc.FindDataset(ctx, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[name] = cacheEntry{
			dataset:  d,
			deadline: c.clk.Now().Add(c.ttl),
		}
		c.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*depot.Dataset), nil
}

// Invalidate drops the cached entry for name.
func (c *DatasetCache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}
