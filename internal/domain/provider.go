package domain

import (
	"time"

	"github.com/aristath/rebalancer/internal/money"
	"github.com/shopspring/decimal"
)

// ProviderID identifies a brokerage backend. It is used as a map key for
// routing order plans to the adapter that should execute them.
type ProviderID string

const (
	ProviderAlpaca             ProviderID = "alpaca"
	ProviderAlpacaPaper        ProviderID = "alpaca_paper"
	ProviderRobinhood          ProviderID = "robinhood"
	ProviderWebull             ProviderID = "webull"
	ProviderWebullPaper        ProviderID = "webull_paper"
	ProviderMooMoo             ProviderID = "moomoo"
	ProviderSchwab             ProviderID = "schwab"
	ProviderLocalDict          ProviderID = "local_dict"
	ProviderLocalDictNoPartial ProviderID = "local_dict_no_partial"
	ProviderDummy              ProviderID = "dummy"
)

// Quoter provides instrument prices, spot or historical. A nil day requests
// the spot quote. A nil price in a result map means the broker has no price
// for that ticker; failures are reported as *PriceFetchError.
type Quoter interface {
	// GetInstrumentPrice returns the price of a single instrument.
	GetInstrumentPrice(ticker string, day *time.Time) (*money.Money, error)

	// GetInstrumentPrices returns prices for a batch of instruments.
	GetInstrumentPrices(tickers []string, day *time.Time) (map[string]*money.Money, error)
}

// Provider is the broker adapter contract. It insulates the planner from
// brokerage SDKs: the planner only ever sees capability flags and these
// operations.
type Provider interface {
	Quoter

	// ID returns the stable identity of this adapter.
	ID() ProviderID

	// SupportsFractionalShares reports whether notional (value-based) orders
	// are accepted.
	SupportsFractionalShares() bool

	// BatchHistorySize returns the maximum tickers per historical batch
	// price call, 0 when batch history is unsupported.
	BatchHistorySize() int

	// MinOrderValue is the broker's floor for any single order.
	MinOrderValue() money.Money

	// MaxOrderDecimals is the fractional-share precision accepted on order
	// quantities.
	MaxOrderDecimals() int32

	// ValidAssets returns the set of tickers this adapter can price and
	// trade. A nil set means the universe is unknown and every ticker is
	// assumed valid.
	ValidAssets() map[string]struct{}

	// GetHoldings returns a snapshot of the account: holdings plus cash.
	GetHoldings() (*RealPortfolio, error)

	// BuyInstrument submits a buy for qty units or, when value is non-nil,
	// for a notional amount. Exactly one of the two drives the order.
	BuyInstrument(ticker string, qty decimal.Decimal, value *money.Money) (bool, error)

	// SellInstrument submits a sell, mirroring BuyInstrument.
	SellInstrument(ticker string, qty decimal.Decimal, value *money.Money) (bool, error)

	// GetUnsettledInstruments returns tickers with open or pending orders.
	GetUnsettledInstruments() (map[string]struct{}, error)

	// GetPerTickerProfitOrLoss returns appreciation and dividends per ticker.
	GetPerTickerProfitOrLoss() (map[string]ProfitModel, error)

	// GetDividendHistory returns total dividends received per ticker.
	GetDividendHistory() (map[string]money.Money, error)

	// GetStockInfo returns descriptive metadata for a ticker.
	GetStockInfo(ticker string) (*StockInfo, error)
}
