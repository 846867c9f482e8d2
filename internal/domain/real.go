package domain

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/money"
	"github.com/shopspring/decimal"
)

// PortfolioView is the read surface the planner needs: total value plus
// per-ticker holdings. Both RealPortfolio and CompositePortfolio satisfy it.
type PortfolioView interface {
	Value() money.Money
	Holdings() []*RealPortfolioElement
	GetHolding(ticker string) *RealPortfolioElement
}

// RealPortfolioElement is an actual position held at a broker.
type RealPortfolioElement struct {
	Ticker       string          `json:"ticker"`
	Units        decimal.Decimal `json:"units"`
	Value        money.Money     `json:"value"`
	Weight       decimal.Decimal `json:"weight"`
	Unsettled    bool            `json:"unsettled"`
	Dividends    money.Money     `json:"dividends"`
	Appreciation money.Money     `json:"appreciation"`
}

// Add folds another position of the same ticker into this one, summing
// units, value, dividends and appreciation. Different tickers are an error.
func (e *RealPortfolioElement) Add(other *RealPortfolioElement) error {
	if e.Ticker != other.Ticker {
		return fmt.Errorf("cannot add holding %s to holding %s", other.Ticker, e.Ticker)
	}
	e.Units = e.Units.Add(other.Units)
	e.Value = e.Value.Add(other.Value)
	e.Dividends = e.Dividends.Add(other.Dividends)
	e.Appreciation = e.Appreciation.Add(other.Appreciation)
	return nil
}

// clone returns a copy so that merging portfolios never aliases the source
// elements.
func (e *RealPortfolioElement) clone() *RealPortfolioElement {
	c := *e
	return &c
}

// RealPortfolio is a snapshot of one broker account: holdings plus cash.
// Methods mutate in place; callers that need a stable view should work on a
// merge into a fresh portfolio (see CompositePortfolio).
type RealPortfolio struct {
	holdings      []*RealPortfolioElement
	Cash          money.Money
	Provider      Provider
	ProfitAndLoss *ProfitModel
}

// NewRealPortfolio creates a portfolio from a list of holdings and computes
// initial weights.
func NewRealPortfolio(holdings []*RealPortfolioElement, cash money.Money, provider Provider) *RealPortfolio {
	p := &RealPortfolio{holdings: holdings, Cash: cash, Provider: provider}
	p.reweight()
	return p
}

// Holdings returns the positions in insertion order.
func (p *RealPortfolio) Holdings() []*RealPortfolioElement { return p.holdings }

// GetHolding returns the position for a ticker, nil when not held.
func (p *RealPortfolio) GetHolding(ticker string) *RealPortfolioElement {
	for _, h := range p.holdings {
		if h.Ticker == ticker {
			return h
		}
	}
	return nil
}

// Value is the sum of all holding values plus cash.
func (p *RealPortfolio) Value() money.Money {
	total := p.Cash
	for _, h := range p.holdings {
		total = total.Add(h.Value)
	}
	return total
}

// reweight recomputes each holding's weight as value over total portfolio
// value (cash included). A zero-value portfolio is left untouched.
func (p *RealPortfolio) reweight() {
	total := p.Value()
	if total.IsZero() {
		return
	}
	for _, h := range p.holdings {
		h.Weight = h.Value.Ratio(total)
	}
}

// AddHolding merges a position into the portfolio by ticker, then recomputes
// weights.
func (p *RealPortfolio) AddHolding(holding *RealPortfolioElement) error {
	if err := p.addHolding(holding); err != nil {
		return err
	}
	p.reweight()
	return nil
}

func (p *RealPortfolio) addHolding(holding *RealPortfolioElement) error {
	if existing := p.GetHolding(holding.Ticker); existing != nil {
		return existing.Add(holding)
	}
	p.holdings = append(p.holdings, holding.clone())
	return nil
}

// Merge folds every holding and the cash of another portfolio into this one,
// reweighting once at the end.
func (p *RealPortfolio) Merge(other *RealPortfolio) error {
	for _, h := range other.holdings {
		if err := p.addHolding(h); err != nil {
			return err
		}
	}
	p.Cash = p.Cash.Add(other.Cash)
	p.reweight()
	return nil
}

// Refresh replaces holdings and cash with a fresh snapshot from the
// portfolio's provider.
func (p *RealPortfolio) Refresh() error {
	if p.Provider == nil {
		return &ConfigurationError{Msg: "cannot refresh portfolio without a provider"}
	}
	fresh, err := p.Provider.GetHoldings()
	if err != nil {
		return fmt.Errorf("failed to refresh holdings: %w", err)
	}
	p.holdings = fresh.holdings
	p.Cash = fresh.Cash
	p.reweight()
	return nil
}

// CompositePortfolio is a read-through aggregate over the real portfolios of
// several providers. It exposes the union of holdings (same-ticker positions
// merged) for comparison purposes, and a lookup per provider for planning.
type CompositePortfolio struct {
	portfolios []*RealPortfolio
	base       *RealPortfolio
}

// NewCompositePortfolio aggregates the given portfolios and builds the
// merged cache.
func NewCompositePortfolio(portfolios ...*RealPortfolio) (*CompositePortfolio, error) {
	c := &CompositePortfolio{portfolios: portfolios}
	if err := c.RebuildCache(); err != nil {
		return nil, err
	}
	return c, nil
}

// RebuildCache recomputes the merged union view. It must be called after any
// constituent portfolio changes; rebuilding is idempotent.
func (c *CompositePortfolio) RebuildCache() error {
	base := &RealPortfolio{}
	for _, p := range c.portfolios {
		if err := base.Merge(p); err != nil {
			return fmt.Errorf("failed to rebuild composite cache: %w", err)
		}
	}
	c.base = base
	return nil
}

// Portfolios returns the constituent portfolios.
func (c *CompositePortfolio) Portfolios() []*RealPortfolio { return c.portfolios }

// Cash is total cash across all constituents.
func (c *CompositePortfolio) Cash() money.Money {
	cash := money.Money{}
	for _, p := range c.portfolios {
		cash = cash.Add(p.Cash)
	}
	return cash
}

// Value is the merged total value, cash included.
func (c *CompositePortfolio) Value() money.Money { return c.base.Value() }

// Holdings returns the merged union of constituent holdings.
func (c *CompositePortfolio) Holdings() []*RealPortfolioElement { return c.base.Holdings() }

// GetHolding looks a ticker up in the merged view.
func (c *CompositePortfolio) GetHolding(ticker string) *RealPortfolioElement {
	return c.base.GetHolding(ticker)
}

// GetProviderPortfolio returns the constituent belonging to the given
// provider.
func (c *CompositePortfolio) GetProviderPortfolio(id ProviderID) (*RealPortfolio, error) {
	for _, p := range c.portfolios {
		if p.Provider != nil && p.Provider.ID() == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no portfolio for provider %s", id)
}
