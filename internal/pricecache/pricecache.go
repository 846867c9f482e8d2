// Package pricecache memoises instrument prices fetched from broker quote
// endpoints. Prices are stored per date label; spot quotes live under the
// INSTANT label and expire after a TTL, historical quotes are immutable and
// never expire.
package pricecache

import (
	"errors"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/money"
)

// InstantLabel keys the spot-quote store. Dated quotes use the ISO date.
const InstantLabel = "INSTANT"

// DefaultTTL bounds the age of a spot quote before it is refetched.
const DefaultTTL = time.Hour

// BatchFetcher obtains prices for many tickers at once. A nil day requests
// spot quotes. A nil price in the result is a definitive "not available".
type BatchFetcher func(tickers []string, day *time.Time) (map[string]*money.Money, error)

// SingleFetcher obtains one price. Optional; the cache falls back to a batch
// of one when absent.
type SingleFetcher func(ticker string, day *time.Time) (*money.Money, error)

type entry struct {
	price     *money.Money
	fetchedAt time.Time
}

// Cache is a memoising, TTL-bounded price fetcher. It is not safe for
// concurrent use; each adapter owns its own instance.
type Cache struct {
	fetch       BatchFetcher
	fetchSingle SingleFetcher
	ttl         time.Duration
	now         func() time.Time
	store       map[string]map[string]entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithSingleFetcher supplies a dedicated single-ticker fetcher.
func WithSingleFetcher(f SingleFetcher) Option {
	return func(c *Cache) { c.fetchSingle = f }
}

// WithTTL overrides the spot-quote TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache around the given batch fetcher.
func New(fetch BatchFetcher, opts ...Option) *Cache {
	c := &Cache{
		fetch: fetch,
		ttl:   DefaultTTL,
		now:   time.Now,
		store: make(map[string]map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func label(day *time.Time) string {
	if day == nil {
		return InstantLabel
	}
	return day.Format("2006-01-02")
}

// lookup returns the cached entry when present and fresh. Stale INSTANT
// entries are evicted lazily here.
func (c *Cache) lookup(lbl, ticker string) (entry, bool) {
	byTicker, ok := c.store[lbl]
	if !ok {
		return entry{}, false
	}
	e, ok := byTicker[ticker]
	if !ok {
		return entry{}, false
	}
	if lbl == InstantLabel && c.now().Sub(e.fetchedAt) > c.ttl {
		delete(byTicker, ticker)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) put(lbl, ticker string, price *money.Money) {
	byTicker, ok := c.store[lbl]
	if !ok {
		byTicker = make(map[string]entry)
		c.store[lbl] = byTicker
	}
	byTicker[ticker] = entry{price: price, fetchedAt: c.now()}
}

// GetPrice returns the price of one ticker, from cache when fresh. A cached
// nil ("price not available") is returned without refetching until it
// expires. Fetch failures are reported as *domain.PriceFetchError.
func (c *Cache) GetPrice(ticker string, day *time.Time) (*money.Money, error) {
	lbl := label(day)
	if e, ok := c.lookup(lbl, ticker); ok {
		return e.price, nil
	}

	if c.fetchSingle != nil {
		price, err := c.fetchSingle(ticker, day)
		if err != nil {
			return nil, wrapFetchError([]string{ticker}, err)
		}
		c.put(lbl, ticker, price)
		return price, nil
	}

	prices, err := c.GetPrices([]string{ticker}, day)
	if err != nil {
		return nil, err
	}
	return prices[ticker], nil
}

// GetPrices returns prices for the given tickers, calling the batch fetcher
// exactly once for the cache misses and merging the results.
func (c *Cache) GetPrices(tickers []string, day *time.Time) (map[string]*money.Money, error) {
	lbl := label(day)
	found := make(map[string]*money.Money, len(tickers))
	var missing []string
	for _, ticker := range tickers {
		if e, ok := c.lookup(lbl, ticker); ok {
			found[ticker] = e.price
		} else {
			missing = append(missing, ticker)
		}
	}

	if len(missing) > 0 {
		fetched, err := c.fetch(missing, day)
		if err != nil {
			return nil, wrapFetchError(missing, err)
		}
		for ticker, price := range fetched {
			c.put(lbl, ticker, price)
			found[ticker] = price
		}
	}
	return found, nil
}

// wrapFetchError rewraps a fetcher failure as *domain.PriceFetchError,
// preserving an existing one so the affected ticker set survives for
// upstream recovery.
func wrapFetchError(tickers []string, err error) error {
	var fetchErr *domain.PriceFetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &domain.PriceFetchError{Tickers: tickers, Err: err}
}
