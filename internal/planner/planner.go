// Package planner turns the gap between a real portfolio and an ideal
// portfolio into an executable order plan. Planning is pure: it reads
// holdings and prices but never submits an order.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/money"
)

// Strategy selects how buys are ordered and sized.
type Strategy string

const (
	// LargestDiffFirst buys the most underweight positions first.
	LargestDiffFirst Strategy = "LARGEST_DIFF_FIRST"
	// CheapestFirst buys the least underweight positions first.
	CheapestFirst Strategy = "CHEAPEST_FIRST"
	// PeanutButter spreads the available purchase power proportionally
	// across every underweight position.
	PeanutButter Strategy = "PEANUT_BUTTER"
)

// DefaultMinOrderValue is the floor applied to planned orders when the
// request does not override it.
var DefaultMinOrderValue = money.FromInt(2)

// PriceFetcher obtains spot or historical prices for a batch of tickers. A
// nil day means spot. Failures are *domain.PriceFetchError.
type PriceFetcher func(tickers []string, day *time.Time) (map[string]*money.Money, error)

// Request describes one single-provider planning run. Zero values choose the
// documented defaults: TargetSize and PurchasePower fall back to the real
// portfolio's value, MinOrderValue to DefaultMinOrderValue, and tickers with
// unobtainable prices are skipped unless FailOnMissingPrices is set.
type Request struct {
	Real    domain.PortfolioView
	Ideal   *domain.IdealPortfolio
	Fetcher PriceFetcher

	Strategy         Strategy
	TargetSize       *money.Money
	PurchasePower    *money.Money
	MinOrderValue    *money.Money
	SkipTickers      map[string]struct{}
	FractionalShares bool
	Provider         domain.ProviderID

	// ExistingOrders are in-flight buys counted as already held when
	// computing how underweight each position is.
	ExistingOrders []domain.OrderElement

	FailOnMissingPrices bool
	IncludeSellOrders   bool
}

// Planner generates order plans. Safe to share; it carries no per-run state.
type Planner struct {
	log zerolog.Logger
}

// New creates a Planner.
func New(log zerolog.Logger) *Planner {
	return &Planner{log: log.With().Str("service", "planner").Logger()}
}

// comparisonRow is one line of the ideal-versus-actual table.
type comparisonRow struct {
	ticker string
	weight decimal.Decimal
	pct    decimal.Decimal
	actual money.Money
}

func (r comparisonRow) diff() decimal.Decimal {
	return r.weight.Sub(r.pct)
}

// roundedDiff ignores dust below a hundredth of a percent.
func (r comparisonRow) roundedDiff() decimal.Decimal {
	return r.diff().Round(4)
}

// GenerateOrderPlan compares the real portfolio against the ideal one and
// emits the buys (and optionally sells) that close the gap, honouring the
// purchase power, the per-order floor and the provider's fractional-share
// capability.
func (p *Planner) GenerateOrderPlan(req Request) (*domain.OrderPlan, error) {
	if req.Real == nil || req.Ideal == nil {
		return nil, errors.New("planner requires both a real and an ideal portfolio")
	}
	if req.Fetcher == nil {
		return nil, errors.New("planner requires a price fetcher")
	}

	skip := make(map[string]struct{}, len(req.SkipTickers))
	for t := range req.SkipTickers {
		skip[t] = struct{}{}
	}
	return p.generate(req, skip)
}

func (p *Planner) generate(req Request, skip map[string]struct{}) (*domain.OrderPlan, error) {
	// A nil or non-positive target falls back to the real portfolio's
	// value, so a zero target can never poison the percentage math below.
	targetValue := req.Real.Value()
	if req.TargetSize != nil && req.TargetSize.IsPositive() {
		targetValue = *req.TargetSize
	}
	purchasePower := targetValue
	if req.PurchasePower != nil && req.PurchasePower.IsPositive() {
		purchasePower = *req.PurchasePower
	}
	minOrder := DefaultMinOrderValue
	if req.MinOrderValue != nil {
		minOrder = *req.MinOrderValue
	}

	existingByTicker, err := existingOrderValues(req.ExistingOrders)
	if err != nil {
		return nil, err
	}

	rows := make([]comparisonRow, 0, len(req.Ideal.Holdings))
	currentlyHeld := money.Money{}
	overweight := decimal.Zero
	underweight := decimal.Zero
	for _, holding := range req.Ideal.Holdings {
		if _, skipped := skip[holding.Ticker]; skipped {
			continue
		}
		actual := money.Money{}
		if held := req.Real.GetHolding(holding.Ticker); held != nil {
			actual = held.Value
		}
		if inflight, ok := existingByTicker[holding.Ticker]; ok {
			actual = actual.Add(inflight)
		}
		pct := decimal.Zero
		if !actual.IsZero() && targetValue.IsPositive() {
			pct = actual.Ratio(targetValue)
		}
		row := comparisonRow{ticker: holding.Ticker, weight: holding.Weight, pct: pct, actual: actual}
		rows = append(rows, row)
		currentlyHeld = currentlyHeld.Add(actual)
		d := row.diff()
		if d.IsNegative() {
			overweight = overweight.Add(d.Abs())
		} else {
			underweight = underweight.Add(d)
		}
	}
	p.log.Debug().
		Str("overweight", overweight.String()).
		Str("underweight", underweight.String()).
		Str("currently_held", currentlyHeld.String()).
		Msg("built comparison table")

	scaling := decimal.NewFromInt(1)
	switch req.Strategy {
	case LargestDiffFirst:
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].diff().Abs().GreaterThan(rows[j].diff().Abs())
		})
	case CheapestFirst:
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].diff().Abs().LessThan(rows[j].diff().Abs())
		})
	case PeanutButter:
		remainder := targetValue.Sub(currentlyHeld)
		if remainder.IsPositive() {
			scaling = purchasePower.Ratio(remainder)
		}
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].diff().Abs().LessThan(rows[j].diff().Abs())
		})
	default:
		return nil, fmt.Errorf("invalid purchase strategy %q", req.Strategy)
	}

	tickers := make([]string, 0, len(rows))
	for _, row := range rows {
		tickers = append(tickers, row.ticker)
	}
	prices, err := req.Fetcher(tickers, nil)
	if err != nil {
		var fetchErr *domain.PriceFetchError
		if errors.As(err, &fetchErr) && !req.FailOnMissingPrices && len(fetchErr.Tickers) > 0 {
			grew := false
			for _, t := range fetchErr.Tickers {
				if _, already := skip[t]; !already {
					skip[t] = struct{}{}
					grew = true
				}
			}
			if grew {
				p.log.Warn().
					Strs("tickers", fetchErr.Tickers).
					Msg("prices unavailable, replanning without them")
				return p.generate(req, skip)
			}
		}
		return nil, err
	}

	plan := &domain.OrderPlan{}
	if req.IncludeSellOrders {
		plan.ToSell = p.sellOrders(req, rows, prices, targetValue, minOrder, scaling)
	}

	for _, row := range rows {
		// Every emitted buy is at least minOrder, so once the remaining
		// power drops below it the plan cannot stay within budget.
		if !purchasePower.IsPositive() || purchasePower.LessThan(minOrder) {
			break
		}
		if row.roundedDiff().IsZero() || row.diff().IsNegative() {
			continue
		}
		price := prices[row.ticker]
		if price == nil || price.IsZero() {
			p.log.Debug().Str("ticker", row.ticker).Msg("no price, skipping buy")
			continue
		}

		desired := targetValue.Mul(row.diff())
		if req.Strategy == PeanutButter && desired.IsPositive() {
			desired = money.Max(desired.Mul(scaling), money.FromInt(1))
		}
		raw := money.Max(money.Min(desired, purchasePower), minOrder)

		if req.FractionalShares {
			value := raw
			plan.ToBuy = append(plan.ToBuy, domain.OrderElement{
				Ticker:   row.ticker,
				Type:     domain.OrderBuy,
				Value:    &value,
				Price:    price,
				Provider: req.Provider,
			})
			purchasePower = purchasePower.Sub(raw)
			continue
		}

		qty := raw.Ratio(*price).Floor()
		if qty.IsZero() {
			continue
		}
		notional := price.Mul(qty)
		if notional.LessThan(minOrder) {
			continue
		}
		plan.ToBuy = append(plan.ToBuy, domain.OrderElement{
			Ticker:   row.ticker,
			Type:     domain.OrderBuy,
			Qty:      &qty,
			Price:    price,
			Provider: req.Provider,
		})
		purchasePower = purchasePower.Sub(notional)
	}

	return plan, nil
}

// sellOrders emits a sell for every overweight position.
func (p *Planner) sellOrders(req Request, rows []comparisonRow, prices map[string]*money.Money, targetValue, minOrder money.Money, scaling decimal.Decimal) []domain.OrderElement {
	var sells []domain.OrderElement
	for _, row := range rows {
		if row.roundedDiff().IsZero() || !row.diff().IsNegative() {
			continue
		}
		price := prices[row.ticker]
		if price == nil || price.IsZero() {
			continue
		}
		sellValue := targetValue.Mul(row.pct.Sub(row.weight))
		if req.Strategy == PeanutButter {
			sellValue = sellValue.Mul(scaling)
		}
		sellValue = money.Max(sellValue, minOrder)

		if req.FractionalShares {
			value := sellValue
			sells = append(sells, domain.OrderElement{
				Ticker:   row.ticker,
				Type:     domain.OrderSell,
				Value:    &value,
				Price:    price,
				Provider: req.Provider,
			})
			continue
		}
		qty := sellValue.Ratio(*price).Floor()
		if qty.IsZero() {
			continue
		}
		sells = append(sells, domain.OrderElement{
			Ticker:   row.ticker,
			Type:     domain.OrderSell,
			Qty:      &qty,
			Price:    price,
			Provider: req.Provider,
		})
	}
	return sells
}

// existingOrderValues folds a list of in-flight orders into one notional
// value per ticker.
func existingOrderValues(orders []domain.OrderElement) (map[string]money.Money, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	out := make(map[string]money.Money, len(orders))
	for _, order := range orders {
		value, err := order.InferredValue()
		if err != nil {
			return nil, err
		}
		out[order.Ticker] = out[order.Ticker].Add(value)
	}
	return out, nil
}
