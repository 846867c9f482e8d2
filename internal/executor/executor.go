// Package executor walks order plans and submits them through broker
// adapters. Unlike the planner it has side effects, so every run is governed
// by explicit flags: sells are opt-in, unsettled positions are left alone by
// default, and errors either stop the run or skip the ticker.
package executor

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/money"
)

// Options controls one execution run. The zero value is the safe default:
// buys only, unsettled tickers skipped, first error aborts, orders really
// submitted.
type Options struct {
	// IncludeSellOrders submits the plan's sell side as well.
	IncludeSellOrders bool

	// TouchUnsettled submits orders even for tickers that still have
	// pending orders at the broker.
	TouchUnsettled bool

	// SkipErroredStocks logs per-ticker failures and continues instead of
	// aborting the run.
	SkipErroredStocks bool

	// DryRun resolves every order (price, units) but submits nothing.
	DryRun bool
}

// Executor submits planned orders through providers.
type Executor struct {
	log zerolog.Logger
}

// New creates an Executor.
func New(log zerolog.Logger) *Executor {
	return &Executor{log: log.With().Str("service", "executor").Logger()}
}

// PurchaseOrderPlan submits one provider's plan, sells before buys.
func (e *Executor) PurchaseOrderPlan(provider domain.Provider, plan *domain.OrderPlan, opts Options) error {
	unsettled := map[string]struct{}{}
	if !opts.TouchUnsettled {
		var err error
		unsettled, err = provider.GetUnsettledInstruments()
		if err != nil {
			return fmt.Errorf("failed to fetch unsettled instruments: %w", err)
		}
	}

	if opts.IncludeSellOrders {
		for _, element := range plan.ToSell {
			if err := e.submit(provider, element, unsettled, opts); err != nil {
				return err
			}
		}
	}
	for _, element := range plan.ToBuy {
		if err := e.submit(provider, element, unsettled, opts); err != nil {
			return err
		}
	}
	return nil
}

// PurchaseCompositeOrderPlan submits each provider's slice of a composite
// plan.
func (e *Executor) PurchaseCompositeOrderPlan(providers map[domain.ProviderID]domain.Provider, plans map[domain.ProviderID]*domain.OrderPlan, opts Options) error {
	for id, plan := range plans {
		provider, ok := providers[id]
		if !ok {
			return &domain.ConfigurationError{Msg: fmt.Sprintf("no adapter registered for provider %s", id)}
		}
		if err := e.PurchaseOrderPlan(provider, plan, opts); err != nil {
			return fmt.Errorf("failed to execute plan for provider %s: %w", id, err)
		}
	}
	return nil
}

func (e *Executor) submit(provider domain.Provider, element domain.OrderElement, unsettled map[string]struct{}, opts Options) error {
	log := e.log.With().
		Str("provider", string(provider.ID())).
		Str("ticker", element.Ticker).
		Str("side", string(element.Type)).
		Logger()

	if _, pending := unsettled[element.Ticker]; pending {
		log.Info().Msg("skipping ticker with unsettled orders")
		return nil
	}

	err := e.handle(provider, element, opts.DryRun, log)
	if err != nil {
		if opts.SkipErroredStocks {
			log.Warn().Err(err).Msg("order failed, continuing")
			return nil
		}
		return err
	}
	return nil
}

// handle resolves an element into units and notional at the current quote
// and dispatches it.
func (e *Executor) handle(provider domain.Provider, element domain.OrderElement, dryRun bool, log zerolog.Logger) error {
	price, err := provider.GetInstrumentPrice(element.Ticker, nil)
	if err != nil {
		return err
	}
	if price == nil || price.IsZero() {
		return &domain.OrderError{Msg: fmt.Sprintf("no price found for instrument %s", element.Ticker)}
	}

	var units decimal.Decimal
	var value *money.Money
	switch {
	case element.Qty != nil:
		units = *element.Qty
	case element.Value != nil:
		units = roundUpToPlace(element.Value.Ratio(*price), provider.MaxOrderDecimals())
		value = element.Value
	default:
		return &domain.OrderError{Msg: fmt.Sprintf("order for %s has neither qty nor value", element.Ticker)}
	}

	if dryRun {
		log.Info().Str("units", units.String()).Str("price", price.String()).Msg("dry run, order not submitted")
		return nil
	}

	var ok bool
	if element.Type == domain.OrderSell {
		ok, err = provider.SellInstrument(element.Ticker, units, value)
	} else {
		ok, err = provider.BuyInstrument(element.Ticker, units, value)
	}
	if err != nil {
		return err
	}
	if !ok {
		return &domain.OrderError{Msg: fmt.Sprintf("%s order for %s was not accepted", element.Type, element.Ticker)}
	}
	log.Info().Str("units", units.String()).Str("price", price.String()).Msg("order submitted")
	return nil
}

// roundUpToPlace rounds a share quantity up at the given decimal place, so
// a notional order always covers its target value.
func roundUpToPlace(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Ceil().Shift(-places)
}
