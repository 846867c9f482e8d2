package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/money"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func usd(amount int64) money.Money { return money.FromInt(amount) }

func idealOf(weights map[string]string) *domain.IdealPortfolio {
	ideal := &domain.IdealPortfolio{}
	for ticker, weight := range weights {
		if err := ideal.AddStock(ticker, dec(weight), false); err != nil {
			panic(err)
		}
	}
	ideal.Normalize()
	return ideal
}

func realOf(cash money.Money, values map[string]int64) *domain.RealPortfolio {
	var holdings []*domain.RealPortfolioElement
	for ticker, value := range values {
		holdings = append(holdings, &domain.RealPortfolioElement{
			Ticker: ticker,
			Units:  decimal.NewFromInt(1),
			Value:  money.FromInt(value),
		})
	}
	return domain.NewRealPortfolio(holdings, cash, nil)
}

func flatFetcher(prices map[string]int64) PriceFetcher {
	return func(tickers []string, _ *time.Time) (map[string]*money.Money, error) {
		out := make(map[string]*money.Money, len(tickers))
		for _, t := range tickers {
			m := money.FromInt(prices[t])
			out[t] = &m
		}
		return out, nil
	}
}

func buyValues(plan *domain.OrderPlan) map[string]money.Money {
	out := make(map[string]money.Money, len(plan.ToBuy))
	for _, e := range plan.ToBuy {
		value, err := e.InferredValue()
		if err != nil {
			panic(err)
		}
		out[e.Ticker] = value
	}
	return out
}

func TestLargestDiffFirstFractionalBuy(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)
	power := usd(1000)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), map[string]int64{"AAPL": 100}),
		Ideal:            idealOf(map[string]string{"AAPL": "0.5", "MSFT": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"AAPL": 100, "MSFT": 100}),
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
	})
	require.NoError(t, err)

	require.Len(t, plan.ToBuy, 2)
	assert.Empty(t, plan.ToSell)
	// MSFT is the most underweight and goes first.
	assert.Equal(t, "MSFT", plan.ToBuy[0].Ticker)
	assert.True(t, plan.ToBuy[0].Value.Equal(usd(500)))
	assert.Equal(t, "AAPL", plan.ToBuy[1].Ticker)
	assert.True(t, plan.ToBuy[1].Value.Equal(usd(400)))
	for _, e := range plan.ToBuy {
		assert.Equal(t, domain.OrderBuy, e.Type)
		require.NotNil(t, e.Price)
		assert.Nil(t, e.Qty)
	}
}

func TestCheapestFirstReversesOrdering(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)
	power := usd(1000)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), map[string]int64{"AAPL": 100}),
		Ideal:            idealOf(map[string]string{"AAPL": "0.5", "MSFT": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"AAPL": 100, "MSFT": 100}),
		Strategy:         CheapestFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
	})
	require.NoError(t, err)

	require.Len(t, plan.ToBuy, 2)
	assert.Equal(t, "AAPL", plan.ToBuy[0].Ticker)
	assert.Equal(t, "MSFT", plan.ToBuy[1].Ticker)
}

func TestPeanutButterSpreadsPurchasePower(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)
	power := usd(100)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), nil),
		Ideal:            idealOf(map[string]string{"A": "0.5", "B": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"A": 10, "B": 10}),
		Strategy:         PeanutButter,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
	})
	require.NoError(t, err)

	require.Len(t, plan.ToBuy, 2)
	total := money.Money{}
	for _, e := range plan.ToBuy {
		require.NotNil(t, e.Value)
		assert.True(t, e.Value.GreaterThanOrEqual(DefaultMinOrderValue))
		total = total.Add(*e.Value)
	}
	assert.True(t, total.Equal(usd(100)))
}

func TestPriceFetchFailureSkipsAndReplans(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)
	power := usd(100)

	var calls [][]string
	fetcher := func(tickers []string, _ *time.Time) (map[string]*money.Money, error) {
		calls = append(calls, tickers)
		for _, ticker := range tickers {
			if ticker == "B" {
				return nil, &domain.PriceFetchError{Tickers: []string{"B"}, Err: errors.New("unknown symbol")}
			}
		}
		out := make(map[string]*money.Money, len(tickers))
		for _, ticker := range tickers {
			m := usd(10)
			out[ticker] = &m
		}
		return out, nil
	}

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), nil),
		Ideal:            idealOf(map[string]string{"A": "0.5", "B": "0.5"}),
		Fetcher:          fetcher,
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
	})
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, []string{"A"}, calls[1])

	// A absorbs the full remaining purchase power.
	require.Len(t, plan.ToBuy, 1)
	assert.Equal(t, "A", plan.ToBuy[0].Ticker)
	assert.True(t, plan.ToBuy[0].Value.Equal(usd(100)))
}

func TestPriceFetchFailurePropagatesWhenStrict(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)

	fetcher := func([]string, *time.Time) (map[string]*money.Money, error) {
		return nil, &domain.PriceFetchError{Tickers: []string{"B"}, Err: errors.New("unknown symbol")}
	}

	_, err := p.GenerateOrderPlan(Request{
		Real:                realOf(usd(0), nil),
		Ideal:               idealOf(map[string]string{"A": "0.5", "B": "0.5"}),
		Fetcher:             fetcher,
		Strategy:            LargestDiffFirst,
		TargetSize:          &target,
		FractionalShares:    true,
		FailOnMissingPrices: true,
	})

	var fetchErr *domain.PriceFetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestNonFractionalBuysCarryIntegerQty(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(2000)
	power := usd(190)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), map[string]int64{"AAPL": 150}),
		Ideal:            idealOf(map[string]string{"AAPL": "0.5", "MSFT": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"AAPL": 100, "MSFT": 33}),
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: false,
	})
	require.NoError(t, err)

	// MSFT: floor(190/33) = 5 shares. AAPL's residual power buys 0 shares
	// and is dropped.
	require.Len(t, plan.ToBuy, 1)
	e := plan.ToBuy[0]
	assert.Equal(t, "MSFT", e.Ticker)
	require.NotNil(t, e.Qty)
	assert.Nil(t, e.Value)
	assert.True(t, e.Qty.Equal(dec("5")))
	assert.True(t, e.Price.Equal(usd(33)))
}

func TestBuysNeverExceedPurchasePower(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(10000)
	power := usd(250)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), nil),
		Ideal:            idealOf(map[string]string{"A": "0.4", "B": "0.3", "C": "0.3"}),
		Fetcher:          flatFetcher(map[string]int64{"A": 10, "B": 10, "C": 10}),
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
	})
	require.NoError(t, err)

	total := money.Money{}
	for _, e := range plan.ToBuy {
		total = total.Add(*e.Value)
		assert.True(t, e.Value.GreaterThanOrEqual(DefaultMinOrderValue))
	}
	assert.True(t, total.LessThanOrEqual(usd(250)), "spent %s of %s", total, power)
}

func TestExistingOrdersCountAsHeld(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)
	power := usd(1000)
	inflight := usd(400)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), map[string]int64{"AAPL": 100}),
		Ideal:            idealOf(map[string]string{"AAPL": "0.5", "MSFT": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"AAPL": 100, "MSFT": 100}),
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
		ExistingOrders: []domain.OrderElement{
			{Ticker: "AAPL", Type: domain.OrderBuy, Value: &inflight},
		},
	})
	require.NoError(t, err)

	values := buyValues(plan)
	// AAPL already has 100 held + 400 in flight, so it needs no buy.
	_, hasAAPL := values["AAPL"]
	assert.False(t, hasAAPL)
	assert.True(t, values["MSFT"].Equal(usd(500)))
}

func TestSkipTickersAreExcluded(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)
	power := usd(1000)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), nil),
		Ideal:            idealOf(map[string]string{"AAPL": "0.5", "MSFT": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"AAPL": 100, "MSFT": 100}),
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
		SkipTickers:      map[string]struct{}{"MSFT": {}},
	})
	require.NoError(t, err)

	values := buyValues(plan)
	assert.Len(t, values, 1)
	assert.True(t, values["AAPL"].Equal(usd(500)))
}

func TestSellOrdersRequireOptIn(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)
	power := usd(1000)

	base := Request{
		Real:             realOf(usd(0), map[string]int64{"AAPL": 800, "MSFT": 100}),
		Ideal:            idealOf(map[string]string{"AAPL": "0.5", "MSFT": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"AAPL": 100, "MSFT": 100}),
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
	}

	plan, err := p.GenerateOrderPlan(base)
	require.NoError(t, err)
	assert.Empty(t, plan.ToSell)

	base.IncludeSellOrders = true
	plan, err = p.GenerateOrderPlan(base)
	require.NoError(t, err)

	require.Len(t, plan.ToSell, 1)
	sell := plan.ToSell[0]
	assert.Equal(t, "AAPL", sell.Ticker)
	assert.Equal(t, domain.OrderSell, sell.Type)
	// Overweight by 0.3 of a 1000 target.
	assert.True(t, sell.Value.Equal(usd(300)))
}

func TestInvalidStrategyRejected(t *testing.T) {
	p := New(zerolog.Nop())
	_, err := p.GenerateOrderPlan(Request{
		Real:     realOf(usd(0), nil),
		Ideal:    idealOf(map[string]string{"A": "1"}),
		Fetcher:  flatFetcher(map[string]int64{"A": 10}),
		Strategy: Strategy("RANDOM"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid purchase strategy")
}

func TestTargetDefaultsToRealValue(t *testing.T) {
	p := New(zerolog.Nop())

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(500), map[string]int64{"AAPL": 500}),
		Ideal:            idealOf(map[string]string{"AAPL": "0.5", "MSFT": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"AAPL": 100, "MSFT": 100}),
		Strategy:         LargestDiffFirst,
		FractionalShares: true,
	})
	require.NoError(t, err)

	// Real value is 1000; AAPL already sits at its target weight.
	values := buyValues(plan)
	assert.Len(t, values, 1)
	assert.True(t, values["MSFT"].Equal(usd(500)))
}

func TestZeroTargetSizeFallsBackToRealValue(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(0)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(500), map[string]int64{"AAPL": 500}),
		Ideal:            idealOf(map[string]string{"AAPL": "0.5", "MSFT": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"AAPL": 100, "MSFT": 100}),
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		FractionalShares: true,
	})
	require.NoError(t, err)

	// A zero target behaves like an absent one: the real value (1000)
	// anchors the percentages instead of dividing by zero.
	values := buyValues(plan)
	assert.Len(t, values, 1)
	assert.True(t, values["MSFT"].Equal(usd(500)))
}

func TestBuysStopWhenPowerBelowMinOrder(t *testing.T) {
	p := New(zerolog.Nop())
	target := usd(1000)
	power := usd(1)

	plan, err := p.GenerateOrderPlan(Request{
		Real:             realOf(usd(0), nil),
		Ideal:            idealOf(map[string]string{"A": "0.5", "B": "0.5"}),
		Fetcher:          flatFetcher(map[string]int64{"A": 10, "B": 10}),
		Strategy:         LargestDiffFirst,
		TargetSize:       &target,
		PurchasePower:    &power,
		FractionalShares: true,
	})
	require.NoError(t, err)

	// One dollar of power cannot fund the two-dollar order floor, so the
	// plan stays empty rather than overshooting the budget.
	assert.Empty(t, plan.ToBuy)
}
