// Package localdict implements an in-memory brokerage backed by a price
// dictionary. It fills orders instantly against local cash, which makes it
// the reference adapter for planner tests, dry runs and demos. Prices for
// unknown tickers come from a pluggable generator and can be pinned to disk
// so repeated runs see stable quotes.
package localdict

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/rebalancer/internal/broker"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/money"
)

// PriceGen produces a quote for a ticker that has no pinned price.
type PriceGen interface {
	Next() decimal.Decimal
}

// FixedGen always returns the same price.
type FixedGen struct {
	Value decimal.Decimal
}

// Next implements PriceGen.
func (g FixedGen) Next() decimal.Decimal { return g.Value }

// RandGen returns uniformly random prices between 1.50 and 100.00.
type RandGen struct {
	rng *rand.Rand
}

// NewRandGen seeds a random price generator. The same seed yields the same
// price sequence.
func NewRandGen(seed int64) *RandGen {
	return &RandGen{rng: rand.New(rand.NewSource(seed))}
}

// Next implements PriceGen.
func (g *RandGen) Next() decimal.Decimal {
	cents := int64(g.rng.Intn(9851) + 150)
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

var _ domain.Provider = (*Provider)(nil)

// Provider is a simulated brokerage over a local price dictionary.
type Provider struct {
	*broker.Base

	fractional bool
	prices     map[string]decimal.Decimal
	gen        PriceGen
	pinned     *broker.DiskMapCache
	portfolio  *domain.RealPortfolio
	baseOpts   []broker.Option
}

// Option configures a Provider.
type Option func(*Provider)

// WithPrices pins quotes for the given tickers.
func WithPrices(prices map[string]decimal.Decimal) Option {
	return func(p *Provider) {
		for ticker, price := range prices {
			p.prices[ticker] = price
		}
	}
}

// WithPriceGen overrides the generator used for unknown tickers.
func WithPriceGen(gen PriceGen) Option {
	return func(p *Provider) { p.gen = gen }
}

// WithCash sets the starting cash balance.
func WithCash(cash money.Money) Option {
	return func(p *Provider) { p.portfolio.Cash = cash }
}

// WithPinnedPrices persists generated prices in the given disk cache, so a
// ticker keeps the same quote across process restarts.
func WithPinnedPrices(cache *broker.DiskMapCache) Option {
	return func(p *Provider) { p.pinned = cache }
}

// WithBaseOptions forwards options to the embedded adapter base.
func WithBaseOptions(opts ...broker.Option) Option {
	return func(p *Provider) { p.baseOpts = append(p.baseOpts, opts...) }
}

// New creates a fractional-capable local provider holding the given
// positions and $10,000 of cash unless overridden.
func New(log zerolog.Logger, holdings []*domain.RealPortfolioElement, opts ...Option) *Provider {
	return newProvider(domain.ProviderLocalDict, true, log, holdings, opts...)
}

// NewNoPartial creates a local provider that only accepts whole-share
// orders.
func NewNoPartial(log zerolog.Logger, holdings []*domain.RealPortfolioElement, opts ...Option) *Provider {
	return newProvider(domain.ProviderLocalDictNoPartial, false, log, holdings, opts...)
}

func newProvider(id domain.ProviderID, fractional bool, log zerolog.Logger, holdings []*domain.RealPortfolioElement, opts ...Option) *Provider {
	p := &Provider{
		fractional: fractional,
		prices:     make(map[string]decimal.Decimal),
		gen:        NewRandGen(time.Now().UnixNano()),
	}
	p.portfolio = domain.NewRealPortfolio(holdings, money.FromInt(10000), p)
	for _, opt := range opts {
		opt(p)
	}
	baseOpts := append([]broker.Option{broker.WithSingleFetcher(p.fetchPrice)}, p.baseOpts...)
	p.Base = broker.NewBase(id, log, p.fetchPrices, baseOpts...)
	return p
}

// localPrice resolves a quote: pinned dictionary first, then the persisted
// cache, then the generator (whose output is pinned for next time).
func (p *Provider) localPrice(ticker string) decimal.Decimal {
	if price, ok := p.prices[ticker]; ok {
		return price
	}
	if p.pinned != nil {
		if raw, ok := p.pinned.Get(ticker); ok {
			if price, err := decimal.NewFromString(raw); err == nil {
				p.prices[ticker] = price
				return price
			}
		}
	}
	price := p.gen.Next()
	p.prices[ticker] = price
	if p.pinned != nil {
		if err := p.pinned.Put(ticker, price.String()); err != nil {
			log := p.Log()
			log.Warn().Err(err).Str("ticker", ticker).Msg("failed to pin generated price")
		}
	}
	return price
}

func (p *Provider) fetchPrice(ticker string, _ *time.Time) (*money.Money, error) {
	m := money.FromDecimal(p.localPrice(ticker))
	return &m, nil
}

func (p *Provider) fetchPrices(tickers []string, _ *time.Time) (map[string]*money.Money, error) {
	out := make(map[string]*money.Money, len(tickers))
	for _, ticker := range tickers {
		m := money.FromDecimal(p.localPrice(ticker))
		out[ticker] = &m
	}
	return out, nil
}

// SupportsFractionalShares implements domain.Provider.
func (p *Provider) SupportsFractionalShares() bool { return p.fractional }

// BatchHistorySize implements domain.Provider. Local lookups need no
// batching.
func (p *Provider) BatchHistorySize() int { return 0 }

// MinOrderValue implements domain.Provider.
func (p *Provider) MinOrderValue() money.Money { return money.FromInt(1) }

// MaxOrderDecimals implements domain.Provider.
func (p *Provider) MaxOrderDecimals() int32 { return 2 }

// ValidAssets implements domain.Provider; the local universe is unbounded.
func (p *Provider) ValidAssets() map[string]struct{} { return nil }

// GetHoldings returns a snapshot of the simulated account.
func (p *Provider) GetHoldings() (*domain.RealPortfolio, error) {
	holdings := make([]*domain.RealPortfolioElement, 0, len(p.portfolio.Holdings()))
	for _, h := range p.portfolio.Holdings() {
		c := *h
		holdings = append(holdings, &c)
	}
	return domain.NewRealPortfolio(holdings, p.portfolio.Cash, p), nil
}

// Cash returns the current cash balance.
func (p *Provider) Cash() money.Money { return p.portfolio.Cash }

// resolveOrder turns a qty-or-value order into both units and notional
// value at the current quote.
func (p *Provider) resolveOrder(ticker string, qty decimal.Decimal, value *money.Money) (decimal.Decimal, money.Money, error) {
	price, err := p.GetInstrumentPrice(ticker, nil)
	if err != nil {
		return decimal.Decimal{}, money.Money{}, err
	}
	if price == nil || price.IsZero() {
		return decimal.Decimal{}, money.Money{}, &domain.OrderError{Msg: fmt.Sprintf("no available price for %s", ticker)}
	}
	if value != nil {
		return value.Amount().Div(price.Amount()), *value, nil
	}
	return qty, price.Mul(qty), nil
}

// BuyInstrument fills a buy immediately against local cash.
func (p *Provider) BuyInstrument(ticker string, qty decimal.Decimal, value *money.Money) (bool, error) {
	units, delta, err := p.resolveOrder(ticker, qty, value)
	if err != nil {
		return false, err
	}
	if !p.fractional && !units.Equal(units.Floor()) {
		return false, &domain.OrderError{Msg: fmt.Sprintf("fractional order of %s %s rejected", units, ticker)}
	}
	err = p.SubmitOrder(func(clientOrderID string) error {
		if p.portfolio.Cash.LessThan(delta) {
			return &domain.OrderError{Msg: fmt.Sprintf("insufficient cash for %s order of %s", ticker, delta)}
		}
		p.portfolio.Cash = p.portfolio.Cash.Sub(delta)
		if err := p.portfolio.AddHolding(&domain.RealPortfolioElement{Ticker: ticker, Units: units, Value: delta}); err != nil {
			return err
		}
		log := p.Log()
		log.Info().
			Str("ticker", ticker).
			Str("units", units.String()).
			Str("value", delta.String()).
			Str("client_order_id", clientOrderID).
			Msg("filled buy order")
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// SellInstrument fills a sell immediately, crediting cash.
func (p *Provider) SellInstrument(ticker string, qty decimal.Decimal, value *money.Money) (bool, error) {
	units, delta, err := p.resolveOrder(ticker, qty, value)
	if err != nil {
		return false, err
	}
	err = p.SubmitOrder(func(clientOrderID string) error {
		held := p.portfolio.GetHolding(ticker)
		if held == nil || held.Units.LessThan(units) {
			return &domain.OrderError{Msg: fmt.Sprintf("cannot sell %s units of %s, not held", units, ticker)}
		}
		if err := p.portfolio.AddHolding(&domain.RealPortfolioElement{Ticker: ticker, Units: units.Neg(), Value: delta.Neg()}); err != nil {
			return err
		}
		p.portfolio.Cash = p.portfolio.Cash.Add(delta)
		log := p.Log()
		log.Info().
			Str("ticker", ticker).
			Str("units", units.String()).
			Str("value", delta.String()).
			Str("client_order_id", clientOrderID).
			Msg("filled sell order")
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetUnsettledInstruments implements domain.Provider. Local fills settle
// immediately.
func (p *Provider) GetUnsettledInstruments() (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

// GetPerTickerProfitOrLoss reports zero profit per held ticker; the local
// book has no cost basis history.
func (p *Provider) GetPerTickerProfitOrLoss() (map[string]domain.ProfitModel, error) {
	out := make(map[string]domain.ProfitModel, len(p.portfolio.Holdings()))
	for _, h := range p.portfolio.Holdings() {
		out[h.Ticker] = domain.ProfitModel{}
	}
	return out, nil
}

// GetDividendHistory implements domain.Provider; the local book pays none.
func (p *Provider) GetDividendHistory() (map[string]money.Money, error) {
	return map[string]money.Money{}, nil
}

// GetStockInfo returns synthetic metadata for a ticker.
func (p *Provider) GetStockInfo(ticker string) (*domain.StockInfo, error) {
	return p.StockInfo(ticker, func() (*domain.StockInfo, error) {
		return &domain.StockInfo{Ticker: ticker, Name: ticker, Exchange: "LOCAL"}, nil
	})
}
