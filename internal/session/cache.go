package session

import (
	"slices"
	"sync"
	"time"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

// DefaultCacheTTL is how long a folder listing is served without a fetch.
const DefaultCacheTTL = 300 * time.Second

type cacheEntry struct {
	items     []gdrive.Item
	fetchedAt time.Time
}

// stamp identifies the cache state a fetch started from. A fetch may only
// store its result if no invalidation happened while it was in flight.
type stamp struct {
	epoch uint64 // bumped by reset
	gen   uint64 // bumped by invalidate for one folder
}

// listingCache maps folder IDs to their last fetched listing.
type listingCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
	gens    map[string]uint64
	epoch   uint64
}

func newListingCache(ttl time.Duration, now func() time.Time) *listingCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &listingCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
	}
}

// fresh returns the entry for folderID when it is younger than the TTL.
func (c *listingCache) fresh(folderID string) ([]gdrive.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[folderID]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}

	return slices.Clone(e.items), true
}

// stale returns the entry for folderID regardless of age.
func (c *listingCache) stale(folderID string) ([]gdrive.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[folderID]
	if !ok {
		return nil, false
	}

	return slices.Clone(e.items), true
}

func (c *listingCache) stampOf(folderID string) stamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	return stamp{epoch: c.epoch, gen: c.gens[folderID]}
}

// store records a fetched listing unless the folder was invalidated after
// st was taken.
func (c *listingCache) store(folderID string, items []gdrive.Item, st stamp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st.epoch != c.epoch || st.gen != c.gens[folderID] {
		return false
	}

	c.entries[folderID] = cacheEntry{items: slices.Clone(items), fetchedAt: c.now()}

	return true
}

func (c *listingCache) invalidate(folderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, folderID)
	c.gens[folderID]++
}

func (c *listingCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	c.epoch++
}

func (c *listingCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
