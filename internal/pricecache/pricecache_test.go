package pricecache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/money"
)

func usd(amount float64) *money.Money {
	m := money.FromFloat(amount)
	return &m
}

type countingFetcher struct {
	prices map[string]*money.Money
	calls  int
	batches [][]string
	err    error
}

func (f *countingFetcher) fetch(tickers []string, _ *time.Time) (map[string]*money.Money, error) {
	f.calls++
	f.batches = append(f.batches, tickers)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*money.Money, len(tickers))
	for _, t := range tickers {
		out[t] = f.prices[t]
	}
	return out, nil
}

func TestGetPriceCachesWithinTTL(t *testing.T) {
	f := &countingFetcher{prices: map[string]*money.Money{"AAPL": usd(190)}}
	c := New(f.fetch)

	first, err := c.GetPrice("AAPL", nil)
	require.NoError(t, err)
	second, err := c.GetPrice("AAPL", nil)
	require.NoError(t, err)

	assert.True(t, first.Equal(*second))
	assert.Equal(t, 1, f.calls)
}

func TestGetPriceRefetchesAfterTTL(t *testing.T) {
	now := time.Now()
	f := &countingFetcher{prices: map[string]*money.Money{"AAPL": usd(190)}}
	c := New(f.fetch, WithClock(func() time.Time { return now }))

	_, err := c.GetPrice("AAPL", nil)
	require.NoError(t, err)

	now = now.Add(DefaultTTL + time.Second)
	_, err = c.GetPrice("AAPL", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, f.calls)
}

func TestCachedNilIsNotRefetched(t *testing.T) {
	f := &countingFetcher{prices: map[string]*money.Money{"DELISTED": nil}}
	c := New(f.fetch)

	price, err := c.GetPrice("DELISTED", nil)
	require.NoError(t, err)
	assert.Nil(t, price)

	price, err = c.GetPrice("DELISTED", nil)
	require.NoError(t, err)
	assert.Nil(t, price)
	assert.Equal(t, 1, f.calls)
}

func TestHistoricalPricesDoNotExpire(t *testing.T) {
	now := time.Now()
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	f := &countingFetcher{prices: map[string]*money.Money{"MSFT": usd(330)}}
	c := New(f.fetch, WithClock(func() time.Time { return now }))

	_, err := c.GetPrice("MSFT", &day)
	require.NoError(t, err)

	now = now.Add(48 * time.Hour)
	_, err = c.GetPrice("MSFT", &day)
	require.NoError(t, err)

	assert.Equal(t, 1, f.calls)
}

func TestGetPricesFetchesOnlyMisses(t *testing.T) {
	f := &countingFetcher{prices: map[string]*money.Money{
		"AAPL": usd(190), "MSFT": usd(330), "UNIL": usd(50),
	}}
	c := New(f.fetch)

	_, err := c.GetPrice("AAPL", nil)
	require.NoError(t, err)

	prices, err := c.GetPrices([]string{"AAPL", "MSFT", "UNIL"}, nil)
	require.NoError(t, err)
	assert.Len(t, prices, 3)

	// One batch for the single lookup, one batch for the two misses.
	require.Equal(t, 2, f.calls)
	assert.ElementsMatch(t, []string{"MSFT", "UNIL"}, f.batches[1])
}

func TestGetPricesAllCachedSkipsFetcher(t *testing.T) {
	f := &countingFetcher{prices: map[string]*money.Money{"AAPL": usd(190), "MSFT": usd(330)}}
	c := New(f.fetch)

	_, err := c.GetPrices([]string{"AAPL", "MSFT"}, nil)
	require.NoError(t, err)
	_, err = c.GetPrices([]string{"AAPL", "MSFT"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.calls)
}

func TestFetchErrorWrapsAffectedTickers(t *testing.T) {
	f := &countingFetcher{err: errors.New("quote endpoint down")}
	c := New(f.fetch)

	_, err := c.GetPrices([]string{"AAPL", "MSFT"}, nil)
	require.Error(t, err)

	var fetchErr *domain.PriceFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, fetchErr.Tickers)
}

func TestFetchErrorAlreadyWrappedIsPreserved(t *testing.T) {
	inner := &domain.PriceFetchError{Tickers: []string{"BAD"}, Err: errors.New("unknown symbol")}
	f := &countingFetcher{err: inner}
	c := New(f.fetch)

	_, err := c.GetPrices([]string{"BAD", "AAPL"}, nil)
	require.Error(t, err)

	var fetchErr *domain.PriceFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, []string{"BAD"}, fetchErr.Tickers)
}

func TestSingleFetcherPreferredForSingleLookup(t *testing.T) {
	batch := &countingFetcher{prices: map[string]*money.Money{"AAPL": usd(190)}}
	singleCalls := 0
	single := func(ticker string, _ *time.Time) (*money.Money, error) {
		singleCalls++
		return usd(191), nil
	}
	c := New(batch.fetch, WithSingleFetcher(single))

	price, err := c.GetPrice("AAPL", nil)
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, "$191", price.String())
	assert.Equal(t, 1, singleCalls)
	assert.Equal(t, 0, batch.calls)

	// Second lookup hits the cache populated by the single fetcher.
	_, err = c.GetPrice("AAPL", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, singleCalls)
}
