package domain

import (
	"testing"

	"github.com/aristath/rebalancer/internal/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holding(ticker string, units, value string) *RealPortfolioElement {
	return &RealPortfolioElement{
		Ticker: ticker,
		Units:  dec(units),
		Value:  money.MustParse(value),
	}
}

func TestRealPortfolioValueIncludesCash(t *testing.T) {
	p := NewRealPortfolio(
		[]*RealPortfolioElement{holding("AAPL", "1", "100"), holding("MSFT", "2", "300")},
		money.FromInt(600),
		nil,
	)
	assert.True(t, p.Value().Equal(money.FromInt(1000)))
}

func TestRealPortfolioWeights(t *testing.T) {
	p := NewRealPortfolio(
		[]*RealPortfolioElement{holding("AAPL", "1", "250"), holding("MSFT", "2", "250")},
		money.FromInt(500),
		nil,
	)

	// Holdings carry half the value; each position is a quarter.
	assertWeightNear(t, "0.25", p.GetHolding("AAPL").Weight)
	assertWeightNear(t, "0.25", p.GetHolding("MSFT").Weight)

	total := decimal.Zero
	for _, h := range p.Holdings() {
		total = total.Add(h.Weight)
	}
	assertWeightNear(t, "0.5", total)
}

func TestRealPortfolioWeightsNoCash(t *testing.T) {
	p := NewRealPortfolio(
		[]*RealPortfolioElement{holding("AAPL", "1", "100"), holding("MSFT", "1", "300")},
		money.Money{},
		nil,
	)

	total := decimal.Zero
	for _, h := range p.Holdings() {
		total = total.Add(h.Weight)
	}
	assert.True(t, total.Sub(decimal.NewFromInt(1)).Abs().LessThan(dec("0.000000000001")))
}

func TestAddHoldingMergesByTicker(t *testing.T) {
	p := NewRealPortfolio([]*RealPortfolioElement{holding("AAPL", "1", "100")}, money.Money{}, nil)

	require.NoError(t, p.AddHolding(holding("AAPL", "2", "200")))
	require.Len(t, p.Holdings(), 1)

	merged := p.GetHolding("AAPL")
	assert.Equal(t, "3", merged.Units.String())
	assert.True(t, merged.Value.Equal(money.FromInt(300)))
}

func TestElementAddRejectsDifferentTickers(t *testing.T) {
	a := holding("AAPL", "1", "100")
	err := a.Add(holding("MSFT", "1", "100"))
	require.Error(t, err)
}

func TestCompositePortfolioMergesHoldings(t *testing.T) {
	p1 := NewRealPortfolio(
		[]*RealPortfolioElement{holding("AAPL", "1", "100"), holding("UNIL", "1", "1000")},
		money.FromInt(800),
		nil,
	)
	p2 := NewRealPortfolio(
		[]*RealPortfolioElement{holding("AAPL", "1", "100")},
		money.FromInt(200),
		nil,
	)

	composite, err := NewCompositePortfolio(p1, p2)
	require.NoError(t, err)

	assert.True(t, composite.Cash().Equal(money.FromInt(1000)))
	assert.True(t, composite.Value().Equal(money.FromInt(2200)))

	aapl := composite.GetHolding("AAPL")
	require.NotNil(t, aapl)
	assert.True(t, aapl.Value.Equal(money.FromInt(200)))
	assert.Equal(t, "2", aapl.Units.String())

	// Merging must not mutate the constituents.
	assert.True(t, p1.GetHolding("AAPL").Value.Equal(money.FromInt(100)))
}

func TestCompositeRebuildCacheIsIdempotent(t *testing.T) {
	p1 := NewRealPortfolio([]*RealPortfolioElement{holding("AAPL", "1", "100")}, money.FromInt(50), nil)
	composite, err := NewCompositePortfolio(p1)
	require.NoError(t, err)

	require.NoError(t, composite.RebuildCache())
	require.NoError(t, composite.RebuildCache())
	assert.True(t, composite.Value().Equal(money.FromInt(150)))
	assert.Equal(t, "1", composite.GetHolding("AAPL").Units.String())
}

func TestProfitModelAdd(t *testing.T) {
	a := ProfitModel{Appreciation: money.FromInt(10), Dividends: money.FromInt(1)}
	b := ProfitModel{Appreciation: money.FromInt(5), Dividends: money.FromInt(2)}

	sum := a.Add(b)
	assert.True(t, sum.Appreciation.Equal(money.FromInt(15)))
	assert.True(t, sum.Dividends.Equal(money.FromInt(3)))
	assert.True(t, sum.Total().Equal(money.FromInt(18)))
}
