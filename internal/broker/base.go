// Package broker carries the plumbing shared by every brokerage adapter:
// price and object caching, stock metadata memoisation, throttle-aware order
// submission and on-disk symbol mapping caches. Adapters embed Base and
// implement only the backend-specific calls.
package broker

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/money"
	"github.com/aristath/rebalancer/internal/objectcache"
	"github.com/aristath/rebalancer/internal/pricecache"
)

// FractionalSleep is the wait applied when a broker throttles an order
// without telling us for how long.
const FractionalSleep = 60 * time.Second

// maxThrottleRetries bounds the sleep+retry loop so a permanently throttled
// endpoint cannot wedge an execution run.
const maxThrottleRetries = 10

// SleepFunc pauses for the given duration. Injectable for tests.
type SleepFunc func(time.Duration)

// Base holds the adapter-shared state. Construct with NewBase and embed by
// pointer.
type Base struct {
	id            domain.ProviderID
	log           zerolog.Logger
	prices        *pricecache.Cache
	objects       *objectcache.Cache
	stocks        map[string]*domain.StockInfo
	sleep         SleepFunc
	singleFetcher pricecache.SingleFetcher
	priceTTL      time.Duration
}

// Option configures a Base.
type Option func(*Base)

// WithSingleFetcher supplies a dedicated single-quote fetcher for the price
// cache.
func WithSingleFetcher(f pricecache.SingleFetcher) Option {
	return func(b *Base) { b.singleFetcher = f }
}

// WithSleep overrides the throttle sleep, for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(b *Base) { b.sleep = sleep }
}

// WithPriceTTL overrides how long spot quotes stay fresh in the price cache.
func WithPriceTTL(ttl time.Duration) Option {
	return func(b *Base) { b.priceTTL = ttl }
}

// NewBase creates the shared adapter state around the given batch quote
// fetcher.
func NewBase(id domain.ProviderID, log zerolog.Logger, fetch pricecache.BatchFetcher, opts ...Option) *Base {
	b := &Base{
		id:      id,
		log:     log.With().Str("provider", string(id)).Logger(),
		objects: objectcache.New(),
		stocks:  make(map[string]*domain.StockInfo),
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(b)
	}
	priceOpts := []pricecache.Option{}
	if b.singleFetcher != nil {
		priceOpts = append(priceOpts, pricecache.WithSingleFetcher(b.singleFetcher))
	}
	if b.priceTTL > 0 {
		priceOpts = append(priceOpts, pricecache.WithTTL(b.priceTTL))
	}
	b.prices = pricecache.New(fetch, priceOpts...)
	return b
}

// ID returns the adapter identity.
func (b *Base) ID() domain.ProviderID { return b.id }

// Log returns the adapter-scoped logger.
func (b *Base) Log() zerolog.Logger { return b.log }

// Objects returns the keyed response cache.
func (b *Base) Objects() *objectcache.Cache { return b.objects }

// GetInstrumentPrice returns the cached or freshly fetched price of one
// instrument.
func (b *Base) GetInstrumentPrice(ticker string, day *time.Time) (*money.Money, error) {
	return b.prices.GetPrice(ticker, day)
}

// GetInstrumentPrices returns cached or freshly fetched prices for a batch.
func (b *Base) GetInstrumentPrices(tickers []string, day *time.Time) (map[string]*money.Money, error) {
	return b.prices.GetPrices(tickers, day)
}

// ClearCache drops cached broker responses, keeping the listed keys.
func (b *Base) ClearCache(keep ...objectcache.Key) {
	b.objects.Clear(keep...)
}

// StockInfo memoises descriptive instrument metadata forever; the data does
// not change within a process lifetime.
func (b *Base) StockInfo(ticker string, fetch func() (*domain.StockInfo, error)) (*domain.StockInfo, error) {
	if info, ok := b.stocks[ticker]; ok {
		return info, nil
	}
	info, err := fetch()
	if err != nil {
		return nil, err
	}
	b.stocks[ticker] = info
	return info, nil
}

// AggregateProfitOrLoss folds per-ticker profit figures into an account
// total.
func AggregateProfitOrLoss(perTicker map[string]domain.ProfitModel) domain.ProfitModel {
	var total domain.ProfitModel
	for _, p := range perTicker {
		total = total.Add(p)
	}
	return total
}

var retryAfterPattern = regexp.MustCompile(`available in ([0-9]+) seconds`)

// throttleDelay classifies an order submission error. It returns the wait to
// apply before retrying and whether the error was a throttle at all.
func throttleDelay(err error) (time.Duration, bool) {
	var throttled *domain.ThrottledError
	if errors.As(err, &throttled) {
		if throttled.RetryAfter > 0 {
			return throttled.RetryAfter, true
		}
		return FractionalSleep, true
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "throttled"):
		if m := retryAfterPattern.FindStringSubmatch(msg); m != nil {
			secs, convErr := strconv.Atoi(m[1])
			if convErr == nil {
				return time.Duration(secs) * time.Second, true
			}
		}
		return 30 * time.Second, true
	case strings.Contains(msg, "Too many requests"), strings.Contains(msg, "429"):
		return FractionalSleep, true
	}
	return 0, false
}

// SubmitOrder runs a broker order submission with throttle handling. The
// client order id is generated once and passed to every attempt, so a retry
// after a throttle resubmits the same logical order.
func (b *Base) SubmitOrder(submit func(clientOrderID string) error) error {
	clientOrderID := uuid.NewString()
	for attempt := 0; ; attempt++ {
		err := submit(clientOrderID)
		if err == nil {
			return nil
		}
		delay, isThrottle := throttleDelay(err)
		if !isThrottle || attempt >= maxThrottleRetries {
			return err
		}
		b.log.Info().
			Str("client_order_id", clientOrderID).
			Dur("delay", delay).
			Msg("order throttled, sleeping before retry")
		b.sleep(delay)
	}
}
