package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-move-alerts/internal/alert"
	"futures-move-alerts/internal/fetcher"
)

// Options tune the enrichment fan-out.
type Options struct {
	Market     string
	Period     string
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Orchestrator completes a cycle's alert records with open interest data.
// All lookups of a batch run concurrently; each one retries exactly once
// and degrades to an unavailable marker on its own, so a failing lookup
// never takes down its siblings.
type Orchestrator struct {
	metrics fetcher.MetricFetcher
	opts    Options
	logger  zerolog.Logger
}

// New constructs an orchestrator over the given metric collaborator.
func New(metrics fetcher.MetricFetcher, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Orchestrator{
		metrics: metrics,
		opts:    opts,
		logger:  logger.With().Str("component", "enrich").Logger(),
	}
}

// EnrichBatch fills each record's open interest fields. The returned slice
// preserves the input order regardless of completion order; it has the same
// length as the input even when every lookup fails.
func (o *Orchestrator) EnrichBatch(ctx context.Context, records []alert.Record) []alert.Record {
	if len(records) == 0 {
		return records
	}

	out := make([]alert.Record, len(records))
	var wg sync.WaitGroup

	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec alert.Record) {
			defer wg.Done()
			oi := o.fetchWithRetry(ctx, rec.Symbol)
			rec.OIDisplay = oi.Display
			rec.OIChangeDisplay = oi.ChangeDisplay
			rec.OIValueUSD = oi.ValueUSD
			out[i] = rec
		}(i, rec)
	}

	wg.Wait()
	return out
}

// fetchWithRetry performs the lookup with a single bounded retry. The retry
// budget lives here as an explicit loop rather than inside the collaborator.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, symbol string) fetcher.OpenInterest {
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		oi, err := o.metrics.FetchOpenInterest(callCtx, symbol, o.opts.Market, o.opts.Period)
		cancel()
		if err == nil {
			return oi
		}

		o.logger.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Msg("open interest lookup failed")

		if attempt == 0 {
			select {
			case <-ctx.Done():
				return unavailable()
			case <-time.After(o.opts.RetryDelay):
			}
		}
	}
	return unavailable()
}

func unavailable() fetcher.OpenInterest {
	return fetcher.OpenInterest{
		Display:       alert.Unavailable,
		ChangeDisplay: alert.Unavailable,
	}
}
