package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/money"
)

// DefaultSafetyThreshold is the share of a provider's cash the composite
// planner will commit. Spot quotes can tick up between planning and
// execution; the remainder absorbs that drift.
var DefaultSafetyThreshold = decimal.NewFromFloat(0.95)

// CompositeRequest describes a planning run across every provider of a
// composite portfolio.
type CompositeRequest struct {
	Composite *domain.CompositePortfolio
	Ideal     *domain.IdealPortfolio

	// Strategy applies to every provider unless overridden per provider in
	// Strategies.
	Strategy   Strategy
	Strategies map[domain.ProviderID]Strategy

	TargetSize    *money.Money
	MinOrderValue *money.Money

	// SafetyThreshold defaults to DefaultSafetyThreshold when nil. A value
	// of zero or below disables the buffer and commits full cash.
	SafetyThreshold *decimal.Decimal

	// TargetOrderSize caps the total spend of this run; it is distributed
	// across providers in planning order, each taking at most its cash.
	TargetOrderSize *money.Money

	IncludeSellOrders   bool
	FailOnMissingPrices bool
}

// GenerateCompositeOrderPlan plans across all providers of a composite
// portfolio. Non-fractional providers plan first so their whole-share buys
// consume the largest gaps, and cheaper accounts empty before richer ones.
// Each provider's emitted tickers are excluded from later providers, and its
// buys are threaded forward as in-flight orders, so no target is bought
// twice in one run.
func (p *Planner) GenerateCompositeOrderPlan(req CompositeRequest) (map[domain.ProviderID]*domain.OrderPlan, error) {
	if req.Composite == nil || req.Ideal == nil {
		return nil, errors.New("composite planner requires a composite and an ideal portfolio")
	}

	safety := DefaultSafetyThreshold
	if req.SafetyThreshold != nil {
		safety = *req.SafetyThreshold
	}
	if !safety.IsPositive() {
		safety = decimal.NewFromInt(1)
	}

	type constituent struct {
		provider  domain.Provider
		portfolio *domain.RealPortfolio
	}
	var constituents []constituent
	for _, portfolio := range req.Composite.Portfolios() {
		if portfolio.Provider == nil {
			continue
		}
		constituents = append(constituents, constituent{provider: portfolio.Provider, portfolio: portfolio})
	}
	sort.SliceStable(constituents, func(i, j int) bool {
		fi, fj := constituents[i].provider.SupportsFractionalShares(), constituents[j].provider.SupportsFractionalShares()
		if fi != fj {
			return !fi
		}
		return constituents[i].portfolio.Cash.LessThan(constituents[j].portfolio.Cash)
	})

	// Positions with pending orders must not be touched by this run.
	skip := make(map[string]struct{})
	for _, c := range constituents {
		unsettled, err := c.provider.GetUnsettledInstruments()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch unsettled instruments from %s: %w", c.provider.ID(), err)
		}
		for ticker := range unsettled {
			skip[ticker] = struct{}{}
		}
	}

	assigned := make(map[domain.ProviderID]money.Money, len(constituents))
	if req.TargetOrderSize != nil {
		remaining := *req.TargetOrderSize
		for _, c := range constituents {
			share := money.Min(c.portfolio.Cash, remaining)
			assigned[c.provider.ID()] = share
			remaining = remaining.Sub(share)
		}
	} else {
		for _, c := range constituents {
			assigned[c.provider.ID()] = c.portfolio.Cash
		}
	}

	output := make(map[domain.ProviderID]*domain.OrderPlan, len(constituents))
	var existingOrders []domain.OrderElement
	for _, c := range constituents {
		id := c.provider.ID()
		if c.portfolio.Cash.IsZero() {
			p.log.Debug().Str("provider", string(id)).Msg("no cash, skipping provider")
			continue
		}
		localPower := money.Min(assigned[id], c.portfolio.Cash.Mul(safety))
		if !localPower.IsPositive() {
			continue
		}

		strategy := req.Strategy
		if override, ok := req.Strategies[id]; ok {
			strategy = override
		}

		plan, err := p.generate(Request{
			Real:                req.Composite,
			Ideal:               req.Ideal,
			Fetcher:             c.provider.GetInstrumentPrices,
			Strategy:            strategy,
			TargetSize:          req.TargetSize,
			PurchasePower:       &localPower,
			MinOrderValue:       req.MinOrderValue,
			FractionalShares:    c.provider.SupportsFractionalShares(),
			Provider:            id,
			ExistingOrders:      existingOrders,
			FailOnMissingPrices: req.FailOnMissingPrices,
			IncludeSellOrders:   req.IncludeSellOrders,
		}, skip)
		if err != nil {
			return nil, fmt.Errorf("failed to plan for provider %s: %w", id, err)
		}

		for ticker := range plan.Tickers() {
			skip[ticker] = struct{}{}
		}
		existingOrders = append(existingOrders, plan.ToBuy...)
		output[id] = plan
	}
	return output, nil
}

// GenerateAutoTargetSize derives a rebalancing target from what is already
// there: the value of every held position that appears in the ideal
// portfolio, plus all cash across constituents.
func GenerateAutoTargetSize(composite *domain.CompositePortfolio, ideal *domain.IdealPortfolio) money.Money {
	total := composite.Cash()
	for _, holding := range ideal.Holdings {
		if held := composite.GetHolding(holding.Ticker); held != nil {
			total = total.Add(held.Value)
		}
	}
	return total
}

// ComparePortfolios reports, per ticker, how much money would have to move
// to match the ideal weights. Purely informational; no floors or power
// limits are applied.
func (p *Planner) ComparePortfolios(real domain.PortfolioView, ideal *domain.IdealPortfolio, targetSize *money.Money) (toBuy, toSell map[string]money.Money) {
	targetValue := real.Value()
	if targetSize != nil {
		targetValue = *targetSize
	}
	toBuy = make(map[string]money.Money)
	toSell = make(map[string]money.Money)
	for _, holding := range ideal.Holdings {
		actual := money.Money{}
		if held := real.GetHolding(holding.Ticker); held != nil {
			actual = held.Value
		}
		pct := decimal.Zero
		if !actual.IsZero() {
			pct = actual.Ratio(targetValue)
		}
		diff := holding.Weight.Sub(pct)
		switch {
		case diff.Round(4).IsZero():
		case diff.IsPositive():
			toBuy[holding.Ticker] = targetValue.Mul(diff)
		default:
			toSell[holding.Ticker] = targetValue.Mul(diff.Neg())
		}
	}
	return toBuy, toSell
}
