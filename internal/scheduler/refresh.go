package scheduler

import (
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// RefreshJob re-reads holdings from every broker adapter and warms the
// spot price cache for the held tickers. Stale real-time prices expire on
// their own; this job makes sure the next plan request starts from fresh
// account state instead of paying the fetch cost inline.
type RefreshJob struct {
	log       zerolog.Logger
	providers []domain.Provider
}

// NewRefreshJob creates a new portfolio refresh job
func NewRefreshJob(log zerolog.Logger, providers []domain.Provider) *RefreshJob {
	return &RefreshJob{
		log:       log.With().Str("job", "portfolio_refresh").Logger(),
		providers: providers,
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "portfolio_refresh"
}

// Run executes the refresh
func (j *RefreshJob) Run() error {
	startTime := time.Now()
	var failed int

	for _, p := range j.providers {
		if err := j.refreshProvider(p); err != nil {
			j.log.Error().
				Err(err).
				Str("provider", string(p.ID())).
				Msg("Provider refresh failed")
			failed++
		}
	}

	j.log.Info().
		Int("providers", len(j.providers)).
		Int("failed", failed).
		Dur("duration", time.Since(startTime)).
		Msg("Portfolio refresh complete")

	if failed == len(j.providers) && failed > 0 {
		return fmt.Errorf("all %d providers failed to refresh", failed)
	}
	return nil
}

func (j *RefreshJob) refreshProvider(p domain.Provider) error {
	real, err := p.GetHoldings()
	if err != nil {
		return fmt.Errorf("failed to fetch holdings: %w", err)
	}

	holdings := real.Holdings()
	tickers := make([]string, 0, len(holdings))
	for _, h := range holdings {
		tickers = append(tickers, h.Ticker)
	}
	if len(tickers) == 0 {
		return nil
	}

	if _, err := p.GetInstrumentPrices(tickers, nil); err != nil {
		return fmt.Errorf("failed to warm prices: %w", err)
	}

	j.log.Debug().
		Str("provider", string(p.ID())).
		Int("tickers", len(tickers)).
		Msg("Holdings and prices refreshed")
	return nil
}
