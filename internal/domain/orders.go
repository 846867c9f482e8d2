package domain

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/money"
	"github.com/shopspring/decimal"
)

// OrderType is the side of an order.
type OrderType string

const (
	OrderBuy  OrderType = "BUY"
	OrderSell OrderType = "SELL"
)

// OrderElement is a single planned order. Exactly one of Value or Qty is set
// at plan time: fractional-capable providers get notional orders (Value),
// everyone else gets whole-unit orders (Qty). Price is informational except
// when used to derive the notional from Qty.
type OrderElement struct {
	Ticker   string           `json:"ticker"`
	Type     OrderType        `json:"order_type"`
	Value    *money.Money     `json:"value,omitempty"`
	Qty      *decimal.Decimal `json:"qty,omitempty"`
	Price    *money.Money     `json:"price,omitempty"`
	Provider ProviderID       `json:"provider,omitempty"`
}

// InferredValue returns the order's notional: Value when set, otherwise
// Qty multiplied by Price.
func (e OrderElement) InferredValue() (money.Money, error) {
	if e.Value != nil {
		return *e.Value, nil
	}
	if e.Qty != nil && e.Price != nil {
		return e.Price.Mul(*e.Qty), nil
	}
	return money.Money{}, fmt.Errorf("cannot infer value of %s order for %s: no value and no qty/price", e.Type, e.Ticker)
}

// Merge combines two orders for the same ticker and side, summing values or
// quantities. Mixing a value order with a qty order is an error.
func (e OrderElement) Merge(other OrderElement) (OrderElement, error) {
	if e.Ticker != other.Ticker {
		return OrderElement{}, fmt.Errorf("cannot merge orders for different tickers %s and %s", e.Ticker, other.Ticker)
	}
	if e.Type != other.Type {
		return OrderElement{}, fmt.Errorf("cannot merge %s and %s orders for %s", e.Type, other.Type, e.Ticker)
	}
	switch {
	case e.Value != nil && other.Value != nil:
		total := e.Value.Add(*other.Value)
		return OrderElement{Ticker: e.Ticker, Type: e.Type, Value: &total, Price: e.Price, Provider: e.Provider}, nil
	case e.Qty != nil && other.Qty != nil:
		total := e.Qty.Add(*other.Qty)
		return OrderElement{Ticker: e.Ticker, Type: e.Type, Qty: &total, Price: e.Price, Provider: e.Provider}, nil
	}
	return OrderElement{}, fmt.Errorf("cannot merge value-based and qty-based orders for %s", e.Ticker)
}

// OrderPlan is the paired buy and sell lists produced by the planner.
type OrderPlan struct {
	ToBuy  []OrderElement `json:"to_buy"`
	ToSell []OrderElement `json:"to_sell"`
}

// AllOrders returns buys followed by sells.
func (p *OrderPlan) AllOrders() []OrderElement {
	all := make([]OrderElement, 0, len(p.ToBuy)+len(p.ToSell))
	all = append(all, p.ToBuy...)
	all = append(all, p.ToSell...)
	return all
}

// Tickers returns the set of tickers referenced anywhere in the plan.
func (p *OrderPlan) Tickers() map[string]struct{} {
	out := make(map[string]struct{}, len(p.ToBuy)+len(p.ToSell))
	for _, e := range p.ToBuy {
		out[e.Ticker] = struct{}{}
	}
	for _, e := range p.ToSell {
		out[e.Ticker] = struct{}{}
	}
	return out
}

// Merge folds another plan into this one, merging per-ticker within each
// side.
func (p *OrderPlan) Merge(other *OrderPlan) error {
	var err error
	if p.ToBuy, err = mergeSide(p.ToBuy, other.ToBuy); err != nil {
		return err
	}
	p.ToSell, err = mergeSide(p.ToSell, other.ToSell)
	return err
}

func mergeSide(existing, incoming []OrderElement) ([]OrderElement, error) {
	for _, in := range incoming {
		found := false
		for i, have := range existing {
			if have.Ticker == in.Ticker {
				merged, err := have.Merge(in)
				if err != nil {
					return nil, err
				}
				existing[i] = merged
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, in)
		}
	}
	return existing, nil
}

// ProfitModel splits profit into market appreciation and dividends.
type ProfitModel struct {
	Appreciation money.Money `json:"appreciation"`
	Dividends    money.Money `json:"dividends"`
}

// Total returns appreciation plus dividends.
func (p ProfitModel) Total() money.Money {
	return p.Appreciation.Add(p.Dividends)
}

// Add combines two profit models componentwise.
func (p ProfitModel) Add(other ProfitModel) ProfitModel {
	return ProfitModel{
		Appreciation: p.Appreciation.Add(other.Appreciation),
		Dividends:    p.Dividends.Add(other.Dividends),
	}
}
