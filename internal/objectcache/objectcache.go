// Package objectcache provides a small keyed TTL cache for broker API
// responses such as holdings, account state and dividend history. Each entry
// is addressed by a well-known key plus a free-form qualifier, so one cache
// instance can hold several variants of the same resource.
package objectcache

import "time"

// Key names a class of cached broker resource.
type Key string

const (
	KeyPositions       Key = "POSITIONS"
	KeyAccount         Key = "ACCOUNT"
	KeyUnsettled       Key = "UNSETTLED"
	KeyOpenOrders      Key = "OPEN_ORDERS"
	KeyDividends       Key = "DIVIDENDS"
	KeyDividendsDetail Key = "DIVIDENDS_DETAIL"
	KeyMisc            Key = "MISC"
)

// DefaultMaxAge bounds the age of a cached object before it is refetched.
const DefaultMaxAge = time.Hour

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache is a keyed TTL store. It is not safe for concurrent use; each
// adapter owns its own instance.
type Cache struct {
	now     func() time.Time
	entries map[Key]map[string]entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		now:     time.Now,
		entries: make(map[Key]map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lookup returns the cached value under (key, qualifier) when younger than
// maxAge.
func (c *Cache) lookup(key Key, qualifier string, maxAge time.Duration) (any, bool) {
	byQualifier, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e, ok := byQualifier[qualifier]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) > maxAge {
		delete(byQualifier, qualifier)
		return nil, false
	}
	return e.value, true
}

// Put stores a value under (key, qualifier), stamping it with the current
// time.
func (c *Cache) Put(key Key, qualifier string, value any) {
	byQualifier, ok := c.entries[key]
	if !ok {
		byQualifier = make(map[string]entry)
		c.entries[key] = byQualifier
	}
	byQualifier[qualifier] = entry{value: value, fetchedAt: c.now()}
}

// Invalidate drops every entry under the given key.
func (c *Cache) Invalidate(key Key) {
	delete(c.entries, key)
}

// Clear drops all entries except those under the keys listed in keep.
func (c *Cache) Clear(keep ...Key) {
	kept := make(map[Key]struct{}, len(keep))
	for _, k := range keep {
		kept[k] = struct{}{}
	}
	for key := range c.entries {
		if _, ok := kept[key]; !ok {
			delete(c.entries, key)
		}
	}
}

// Get returns the value cached under (key, qualifier), calling fetch and
// storing its result on a miss or when the entry is older than maxAge. A
// fetch failure is returned without caching anything.
func Get[T any](c *Cache, key Key, qualifier string, maxAge time.Duration, fetch func() (T, error)) (T, error) {
	if raw, ok := c.lookup(key, qualifier, maxAge); ok {
		if value, ok := raw.(T); ok {
			return value, nil
		}
	}
	value, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Put(key, qualifier, value)
	return value, nil
}
