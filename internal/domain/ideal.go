package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/rebalancer/internal/money"
	"github.com/shopspring/decimal"
)

// IdealPortfolioElement is a target allocation entry: ticker plus weight.
// Weights are non-negative and may transiently be zero during exclusion.
type IdealPortfolioElement struct {
	Ticker string          `json:"ticker"`
	Weight decimal.Decimal `json:"weight"`
}

// IdealPortfolio is a target allocation: weighted tickers summing to 1 after
// Normalize. SourceDate is the date the weights were authored and drives
// historical reweighting.
type IdealPortfolio struct {
	Holdings   []*IdealPortfolioElement `json:"holdings"`
	SourceDate time.Time                `json:"source_date"`
}

// NewIdealPortfolio creates a portfolio sourced today.
func NewIdealPortfolio(holdings []*IdealPortfolioElement) *IdealPortfolio {
	return &IdealPortfolio{Holdings: holdings, SourceDate: today()}
}

// reweightBase is the synthetic notional used to re-anchor historical
// weights to present prices.
var reweightBase = decimal.NewFromInt(1_000_000)

// HistoricalPricer is the slice of the provider contract that historical
// reweighting needs.
type HistoricalPricer interface {
	Quoter
	BatchHistorySize() int
	ValidAssets() map[string]struct{}
}

// ReweightChange describes how one ticker's weight moved during
// ReweightToPresent. Ratio is the percentage change of the weight, rounded
// to two places.
type ReweightChange struct {
	Original      decimal.Decimal `json:"original"`
	New           decimal.Decimal `json:"new"`
	OriginalPrice *money.Money    `json:"original_price,omitempty"`
	NewPrice      *money.Money    `json:"new_price,omitempty"`
	Ratio         decimal.Decimal `json:"ratio"`
}

// Contains reports whether the ticker is in the portfolio.
func (p *IdealPortfolio) Contains(ticker string) bool {
	for _, h := range p.Holdings {
		if h.Ticker == ticker {
			return true
		}
	}
	return false
}

// AddStock appends a new element. Duplicate tickers are an error. When
// rebalance is true the portfolio is normalised afterwards.
func (p *IdealPortfolio) AddStock(ticker string, weight decimal.Decimal, rebalance bool) error {
	if p.Contains(ticker) {
		return fmt.Errorf("stock %s already in portfolio", ticker)
	}
	p.Holdings = append(p.Holdings, &IdealPortfolioElement{Ticker: ticker, Weight: weight})
	if rebalance {
		p.Normalize()
	}
	return nil
}

// Normalize rescales the weights to sum to 1 and sorts holdings by weight
// descending (ticker ascending on ties, for determinism).
func (p *IdealPortfolio) Normalize() {
	total := decimal.Zero
	for _, h := range p.Holdings {
		total = total.Add(h.Weight)
	}
	if !total.IsZero() {
		for _, h := range p.Holdings {
			h.Weight = h.Weight.Div(total)
		}
	}
	sort.SliceStable(p.Holdings, func(i, j int) bool {
		cmp := p.Holdings[i].Weight.Cmp(p.Holdings[j].Weight)
		if cmp != 0 {
			return cmp > 0
		}
		return p.Holdings[i].Ticker < p.Holdings[j].Ticker
	})
}

// Exclude removes every element whose ticker is in the given list, then
// normalises. It returns the total weight removed.
func (p *IdealPortfolio) Exclude(tickers []string) decimal.Decimal {
	excluded := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		excluded[t] = struct{}{}
	}
	removed := decimal.Zero
	kept := p.Holdings[:0]
	for _, h := range p.Holdings {
		if _, ok := excluded[h.Ticker]; ok {
			removed = removed.Add(h.Weight)
			continue
		}
		kept = append(kept, h)
	}
	p.Holdings = kept
	p.Normalize()
	return removed
}

// Reweight multiplies the weight of each listed ticker by factor; tickers
// not yet in the portfolio are inserted at minWeight. The portfolio is
// normalised afterwards.
func (p *IdealPortfolio) Reweight(tickers []string, factor, minWeight decimal.Decimal) {
	for _, ticker := range tickers {
		found := false
		for _, h := range p.Holdings {
			if h.Ticker == ticker {
				h.Weight = h.Weight.Mul(factor)
				found = true
			}
		}
		if !found {
			p.Holdings = append(p.Holdings, &IdealPortfolioElement{Ticker: ticker, Weight: minWeight})
		}
	}
	p.Normalize()
}

// ReweightToPresent re-anchors the weights from SourceDate to today. Each
// valid asset's weight is scaled by how its price moved between the source
// date and now: a synthetic base notional is split by the original weights
// into shares at historical prices, those shares are valued at current
// prices, and the new weight is the per-ticker value over the sum across all
// tickers. Tickers without both prices keep their base value and therefore
// (approximately) their weight. SourceDate is updated to today.
func (p *IdealPortfolio) ReweightToPresent(pricer HistoricalPricer) (map[string]ReweightChange, error) {
	if sameDay(p.SourceDate, today()) {
		return map[string]ReweightChange{}, nil
	}

	valid := make([]string, 0, len(p.Holdings))
	universe := pricer.ValidAssets()
	for _, h := range p.Holdings {
		if universe != nil {
			if _, ok := universe[h.Ticker]; !ok {
				continue
			}
		}
		valid = append(valid, h.Ticker)
	}

	sourceDate := p.SourceDate
	historic, current, err := fetchPresentAndPast(pricer, valid, sourceDate)
	if err != nil {
		return nil, err
	}

	values := make(map[string]decimal.Decimal, len(p.Holdings))
	for _, h := range p.Holdings {
		source := historic[h.Ticker]
		now := current[h.Ticker]
		if source == nil || source.IsZero() || now == nil || now.IsZero() {
			// No usable prices; hold the position's value steady.
			values[h.Ticker] = reweightBase.Mul(h.Weight)
			continue
		}
		shares := reweightBase.Mul(h.Weight).Div(source.Amount())
		values[h.Ticker] = shares.Mul(now.Amount())
	}

	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	if total.IsZero() {
		return nil, errors.New("cannot reweight to present: total portfolio value is zero")
	}

	report := make(map[string]ReweightChange, len(p.Holdings))
	for _, h := range p.Holdings {
		newWeight := values[h.Ticker].Div(total)
		ratio := decimal.Zero
		if h.Weight.IsPositive() {
			ratio = newWeight.Sub(h.Weight).Div(h.Weight).Mul(decimal.NewFromInt(100)).Round(2)
		}
		report[h.Ticker] = ReweightChange{
			Original:      h.Weight,
			New:           newWeight,
			OriginalPrice: historic[h.Ticker],
			NewPrice:      current[h.Ticker],
			Ratio:         ratio,
		}
		h.Weight = newWeight
	}

	p.SourceDate = today()
	p.Normalize()
	return report, nil
}

// fetchPresentAndPast obtains historical and spot prices, batching when the
// provider supports it. In the per-ticker path a price fetch failure leaves
// both prices nil for that ticker rather than failing the reweight.
func fetchPresentAndPast(pricer HistoricalPricer, tickers []string, sourceDate time.Time) (historic, current map[string]*money.Money, err error) {
	if pricer.BatchHistorySize() > 0 {
		historic, err = pricer.GetInstrumentPrices(tickers, &sourceDate)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch historical prices: %w", err)
		}
		current, err = pricer.GetInstrumentPrices(tickers, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch current prices: %w", err)
		}
		return historic, current, nil
	}

	historic = make(map[string]*money.Money, len(tickers))
	current = make(map[string]*money.Money, len(tickers))
	for _, ticker := range tickers {
		var fetchErr *PriceFetchError
		past, err := pricer.GetInstrumentPrice(ticker, &sourceDate)
		if err != nil {
			if errors.As(err, &fetchErr) {
				continue
			}
			return nil, nil, err
		}
		now, err := pricer.GetInstrumentPrice(ticker, nil)
		if err != nil {
			if errors.As(err, &fetchErr) {
				continue
			}
			return nil, nil, err
		}
		historic[ticker] = past
		current[ticker] = now
	}
	return historic, current, nil
}

func today() time.Time {
	y, m, d := time.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
