// Package presubmit caches prebuilt, signed liquidation transactions
// keyed by obligation address, so the broadcast path never pays the
// assembly/signing cost on the hot path. Entries are fresh only while
// their blockhash matches the current one and their build time is
// inside the TTL window.
package presubmit

import (
	"sync"
	"time"

	"github.com/klend-bot/liquidator/internal/models"
)

// DefaultTTL is how long a cached entry is considered fresh, provided
// its blockhash still matches the current one.
const DefaultTTL = 60 * time.Second

// DefaultRefreshThrottle is the minimum spacing between rebuild
// attempts for the same obligation, even if it is repeatedly requested
// stale.
const DefaultRefreshThrottle = 2 * time.Second

// BuildFunc constructs a fresh PresubmitEntry for an obligation address
// against the given blockhash.
type BuildFunc func(obligationAddress, blockhash string) (*models.PresubmitEntry, error)

// Cache holds one PresubmitEntry per obligation address.
type Cache struct {
	mu              sync.Mutex
	entries         map[string]*models.PresubmitEntry
	lastAttempt     map[string]time.Time
	ttl             time.Duration
	refreshThrottle time.Duration
}

// New returns an empty cache with the given TTL and refresh throttle.
// A zero value for either falls back to the package default.
func New(ttl, refreshThrottle time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if refreshThrottle <= 0 {
		refreshThrottle = DefaultRefreshThrottle
	}
	return &Cache{
		entries:         make(map[string]*models.PresubmitEntry),
		lastAttempt:     make(map[string]time.Time),
		ttl:             ttl,
		refreshThrottle: refreshThrottle,
	}
}

// fresh reports whether entry is usable as-is: its blockhash matches
// currentBlockhash and it was built within the TTL window of now.
func fresh(entry *models.PresubmitEntry, currentBlockhash string, now time.Time, ttl time.Duration) bool {
	if entry == nil {
		return false
	}
	if entry.Blockhash != currentBlockhash {
		return false
	}
	return now.Sub(entry.BuiltAt) <= ttl
}

// GetOrBuild returns a fresh cached entry for obligationAddress if one
// exists, otherwise invokes build to construct one, subject to the
// per-obligation refresh throttle: if build was already attempted for
// this key within the throttle window, the stale entry (or nil) is
// returned rather than retried immediately.
func (c *Cache) GetOrBuild(obligationAddress, currentBlockhash string, now time.Time, build BuildFunc) (*models.PresubmitEntry, error) {
	c.mu.Lock()
	existing := c.entries[obligationAddress]
	if fresh(existing, currentBlockhash, now, c.ttl) {
		c.mu.Unlock()
		return existing, nil
	}

	last, attempted := c.lastAttempt[obligationAddress]
	if attempted && now.Sub(last) < c.refreshThrottle {
		c.mu.Unlock()
		return existing, nil
	}
	c.lastAttempt[obligationAddress] = now
	c.mu.Unlock()

	entry, err := build(obligationAddress, currentBlockhash)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[obligationAddress] = entry
	c.mu.Unlock()
	return entry, nil
}

// PrebuildTopK eagerly builds (or refreshes) entries for the first topK
// obligation addresses in order, skipping any already fresh for
// currentBlockhash. Build errors for one key do not stop the others;
// they are collected and returned keyed by obligation address.
func (c *Cache) PrebuildTopK(addresses []string, topK int, currentBlockhash string, now time.Time, build BuildFunc) map[string]error {
	errs := make(map[string]error)
	if topK > len(addresses) {
		topK = len(addresses)
	}
	for _, addr := range addresses[:topK] {
		if _, err := c.GetOrBuild(addr, currentBlockhash, now, build); err != nil {
			errs[addr] = err
		}
	}
	return errs
}

// EvictStale drops every cached entry whose blockhash no longer matches
// currentBlockhash, so a new leader's block doesn't keep stale
// transactions lingering in memory indefinitely.
func (c *Cache) EvictStale(currentBlockhash string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for k, entry := range c.entries {
		if entry.Blockhash != currentBlockhash {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

// Get returns the cached entry for an obligation without triggering a
// build, and whether it was present at all (fresh or not).
func (c *Cache) Get(obligationAddress string) (*models.PresubmitEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[obligationAddress]
	return entry, ok
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
