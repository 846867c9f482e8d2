package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/executor"
	"github.com/aristath/rebalancer/internal/money"
	"github.com/aristath/rebalancer/internal/planner"
)

// idealSpec names a target allocation: either a stored index by name or an
// inline ticker-to-weight map. Exactly one must be set.
type idealSpec struct {
	Index      string             `json:"index,omitempty"`
	Components map[string]float64 `json:"components,omitempty"`
}

type planRequest struct {
	idealSpec
	Provider            string   `json:"provider"`
	Strategy            string   `json:"strategy,omitempty"`
	TargetSize          *float64 `json:"target_size,omitempty"`
	PurchasePower       *float64 `json:"purchase_power,omitempty"`
	MinOrderValue       *float64 `json:"min_order_value,omitempty"`
	SkipTickers         []string `json:"skip_tickers,omitempty"`
	IncludeSellOrders   bool     `json:"include_sell_orders,omitempty"`
	FailOnMissingPrices bool     `json:"fail_on_missing_prices,omitempty"`
}

type compositePlanRequest struct {
	idealSpec
	Strategy            string            `json:"strategy,omitempty"`
	Strategies          map[string]string `json:"strategies,omitempty"`
	TargetSize          *float64          `json:"target_size,omitempty"`
	MinOrderValue       *float64          `json:"min_order_value,omitempty"`
	SafetyThreshold     *float64          `json:"safety_threshold,omitempty"`
	TargetOrderSize     *float64          `json:"target_order_size,omitempty"`
	IncludeSellOrders   bool              `json:"include_sell_orders,omitempty"`
	FailOnMissingPrices bool              `json:"fail_on_missing_prices,omitempty"`
}

type compareRequest struct {
	idealSpec
	TargetSize *float64 `json:"target_size,omitempty"`
}

type executeRequest struct {
	Provider string                                  `json:"provider,omitempty"`
	Plan     *domain.OrderPlan                       `json:"plan,omitempty"`
	Plans    map[domain.ProviderID]*domain.OrderPlan `json:"plans,omitempty"`

	DryRun            bool `json:"dry_run,omitempty"`
	IncludeSellOrders bool `json:"include_sell_orders,omitempty"`
	TouchUnsettled    bool `json:"touch_unsettled,omitempty"`
	SkipErroredStocks bool `json:"skip_errored_stocks,omitempty"`
}

// handleHealth reports process and host health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		cpuPercent = []float64{0}
	}

	ramPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		ramPercent = memStat.UsedPercent
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "rebalancer",
		"providers":      len(s.providers),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"cpu_percent":    cpuPercent[0],
		"ram_percent":    ramPercent,
	})
}

type providerSnapshot struct {
	Provider   domain.ProviderID              `json:"provider"`
	Fractional bool                           `json:"fractional"`
	Cash       money.Money                    `json:"cash"`
	Value      money.Money                    `json:"value"`
	Holdings   []*domain.RealPortfolioElement `json:"holdings"`
}

// handlePortfolio returns a snapshot of every configured account
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	snapshots := make([]providerSnapshot, 0, len(s.providers))
	totalValue := money.Money{}
	totalCash := money.Money{}

	for _, p := range s.sortedProviders() {
		real, err := p.GetHoldings()
		if err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to fetch holdings from %s: %v", p.ID(), err))
			return
		}
		value := real.Value()
		snapshots = append(snapshots, providerSnapshot{
			Provider:   p.ID(),
			Fractional: p.SupportsFractionalShares(),
			Cash:       real.Cash,
			Value:      value,
			Holdings:   real.Holdings(),
		})
		totalValue = totalValue.Add(value)
		totalCash = totalCash.Add(real.Cash)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolios":  snapshots,
		"total_value": totalValue,
		"total_cash":  totalCash,
	})
}

// handleIndexes lists the stored index names
func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	keys := []string{}
	if s.inventory != nil {
		keys = s.inventory.Keys()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"indexes": keys})
}

// handleIndex returns one stored index as an ideal portfolio
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.inventory == nil {
		s.writeError(w, http.StatusNotFound, "no index inventory configured")
		return
	}
	ideal, err := s.inventory.Get(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ideal)
}

// handlePlan generates an order plan for a single provider
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	provider, ok := s.providers[domain.ProviderID(req.Provider)]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown provider: "+req.Provider)
		return
	}

	ideal, err := s.resolveIdeal(req.idealSpec)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	strategy, err := parseStrategy(req.Strategy)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	real, err := provider.GetHoldings()
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "failed to fetch holdings: "+err.Error())
		return
	}

	skip := make(map[string]struct{}, len(req.SkipTickers))
	for _, t := range req.SkipTickers {
		skip[t] = struct{}{}
	}

	minOrder := provider.MinOrderValue()
	if req.MinOrderValue != nil {
		minOrder = money.FromFloat(*req.MinOrderValue)
	}

	plan, err := s.planner.GenerateOrderPlan(planner.Request{
		Real:                real,
		Ideal:               ideal,
		Fetcher:             provider.GetInstrumentPrices,
		Strategy:            strategy,
		TargetSize:          optMoney(req.TargetSize),
		PurchasePower:       optMoney(req.PurchasePower),
		MinOrderValue:       &minOrder,
		SkipTickers:         skip,
		FractionalShares:    provider.SupportsFractionalShares(),
		Provider:            provider.ID(),
		FailOnMissingPrices: req.FailOnMissingPrices,
		IncludeSellOrders:   req.IncludeSellOrders,
	})
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, plan)
}

// handleCompositePlan plans across every configured provider at once
func (s *Server) handleCompositePlan(w http.ResponseWriter, r *http.Request) {
	var req compositePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ideal, err := s.resolveIdeal(req.idealSpec)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	strategy, err := parseStrategy(req.Strategy)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var overrides map[domain.ProviderID]planner.Strategy
	if len(req.Strategies) > 0 {
		overrides = make(map[domain.ProviderID]planner.Strategy, len(req.Strategies))
		for id, name := range req.Strategies {
			st, err := parseStrategy(name)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			overrides[domain.ProviderID(id)] = st
		}
	}

	composite, err := s.buildComposite()
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	var safety *decimal.Decimal
	if req.SafetyThreshold != nil {
		d := decimal.NewFromFloat(*req.SafetyThreshold)
		safety = &d
	}

	plans, err := s.planner.GenerateCompositeOrderPlan(planner.CompositeRequest{
		Composite:           composite,
		Ideal:               ideal,
		Strategy:            strategy,
		Strategies:          overrides,
		TargetSize:          optMoney(req.TargetSize),
		MinOrderValue:       optMoney(req.MinOrderValue),
		SafetyThreshold:     safety,
		TargetOrderSize:     optMoney(req.TargetOrderSize),
		IncludeSellOrders:   req.IncludeSellOrders,
		FailOnMissingPrices: req.FailOnMissingPrices,
	})
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans":            plans,
		"auto_target_size": planner.GenerateAutoTargetSize(composite, ideal),
	})
}

// handleCompare reports the per-ticker value gaps without planning orders
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ideal, err := s.resolveIdeal(req.idealSpec)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	composite, err := s.buildComposite()
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	toBuy, toSell := s.planner.ComparePortfolios(composite, ideal, optMoney(req.TargetSize))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"to_buy":  toBuy,
		"to_sell": toSell,
	})
}

// handleExecute submits a previously generated plan to the brokers
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	opts := executor.Options{
		DryRun:            req.DryRun,
		IncludeSellOrders: req.IncludeSellOrders,
		TouchUnsettled:    req.TouchUnsettled,
		SkipErroredStocks: req.SkipErroredStocks,
	}

	switch {
	case req.Plan != nil:
		provider, ok := s.providers[domain.ProviderID(req.Provider)]
		if !ok {
			s.writeError(w, http.StatusNotFound, "unknown provider: "+req.Provider)
			return
		}
		if err := s.executor.PurchaseOrderPlan(provider, req.Plan, opts); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	case len(req.Plans) > 0:
		if err := s.executor.PurchaseCompositeOrderPlan(s.providers, req.Plans, opts); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	default:
		s.writeError(w, http.StatusBadRequest, "request carries neither a plan nor a plan map")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resolveIdeal turns an idealSpec into a normalized ideal portfolio
func (s *Server) resolveIdeal(spec idealSpec) (*domain.IdealPortfolio, error) {
	switch {
	case spec.Index != "" && len(spec.Components) > 0:
		return nil, fmt.Errorf("specify either an index name or inline components, not both")
	case spec.Index != "":
		if s.inventory == nil {
			return nil, fmt.Errorf("no index inventory configured")
		}
		return s.inventory.Get(spec.Index)
	case len(spec.Components) > 0:
		holdings := make([]*domain.IdealPortfolioElement, 0, len(spec.Components))
		for ticker, weight := range spec.Components {
			if weight <= 0 {
				return nil, fmt.Errorf("weight for %s must be positive", ticker)
			}
			holdings = append(holdings, &domain.IdealPortfolioElement{
				Ticker: ticker,
				Weight: decimal.NewFromFloat(weight),
			})
		}
		sort.Slice(holdings, func(i, j int) bool { return holdings[i].Ticker < holdings[j].Ticker })
		ideal := domain.NewIdealPortfolio(holdings)
		ideal.Normalize()
		return ideal, nil
	}
	return nil, fmt.Errorf("an index name or inline components are required")
}

// buildComposite snapshots every provider into one composite portfolio
func (s *Server) buildComposite() (*domain.CompositePortfolio, error) {
	portfolios := make([]*domain.RealPortfolio, 0, len(s.providers))
	for _, p := range s.sortedProviders() {
		real, err := p.GetHoldings()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch holdings from %s: %w", p.ID(), err)
		}
		portfolios = append(portfolios, real)
	}
	return domain.NewCompositePortfolio(portfolios...)
}

func (s *Server) sortedProviders() []domain.Provider {
	out := make([]domain.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func parseStrategy(name string) (planner.Strategy, error) {
	if name == "" {
		return planner.LargestDiffFirst, nil
	}
	switch planner.Strategy(strings.ToUpper(name)) {
	case planner.LargestDiffFirst:
		return planner.LargestDiffFirst, nil
	case planner.CheapestFirst:
		return planner.CheapestFirst, nil
	case planner.PeanutButter:
		return planner.PeanutButter, nil
	}
	return "", fmt.Errorf("unknown strategy: %s", name)
}

func optMoney(v *float64) *money.Money {
	if v == nil {
		return nil
	}
	m := money.FromFloat(*v)
	return &m
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
