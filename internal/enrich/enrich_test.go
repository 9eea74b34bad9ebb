package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futures-move-alerts/internal/alert"
	"futures-move-alerts/internal/fetcher"
)

// fakeMetrics scripts per-symbol behaviour for the fan-out.
type fakeMetrics struct {
	mu    sync.Mutex
	calls map[string]int

	failures map[string]int           // fail the first N calls for a symbol
	delays   map[string]time.Duration // delay before answering
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		calls:    make(map[string]int),
		failures: make(map[string]int),
		delays:   make(map[string]time.Duration),
	}
}

func (f *fakeMetrics) FetchOpenInterest(ctx context.Context, symbol, market, period string) (fetcher.OpenInterest, error) {
	f.mu.Lock()
	f.calls[symbol]++
	call := f.calls[symbol]
	remaining := f.failures[symbol]
	delay := f.delays[symbol]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if call <= remaining {
		return fetcher.OpenInterest{}, errors.New("upstream unavailable")
	}

	value := decimal.NewFromInt(int64(1000 * call))
	return fetcher.OpenInterest{
		Display:       "$" + symbol,
		ChangeDisplay: "+1.00%",
		ValueUSD:      &value,
	}, nil
}

func (f *fakeMetrics) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func newOrchestrator(metrics fetcher.MetricFetcher) *Orchestrator {
	return New(metrics, Options{
		Market:     "um",
		Period:     "15m",
		RetryDelay: time.Millisecond,
		Timeout:    time.Second,
	}, zerolog.Nop())
}

func records(symbols ...string) []alert.Record {
	recs := make([]alert.Record, len(symbols))
	for i, s := range symbols {
		recs[i] = alert.Record{Symbol: s, OIDisplay: alert.Unavailable, OIChangeDisplay: alert.Unavailable}
	}
	return recs
}

func TestEnrichBatchPreservesOrder(t *testing.T) {
	metrics := newFakeMetrics()
	// First record answers slowest; order must still hold.
	metrics.delays["AUSDT"] = 50 * time.Millisecond
	metrics.delays["BUSDT"] = 10 * time.Millisecond

	out := newOrchestrator(metrics).EnrichBatch(context.Background(), records("AUSDT", "BUSDT", "CUSDT"))

	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	for i, want := range []string{"AUSDT", "BUSDT", "CUSDT"} {
		if out[i].Symbol != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, out[i].Symbol)
		}
		if out[i].OIDisplay != "$"+want {
			t.Fatalf("record %s not enriched: %q", want, out[i].OIDisplay)
		}
	}
}

func TestEnrichBatchRetriesOnce(t *testing.T) {
	metrics := newFakeMetrics()
	metrics.failures["AUSDT"] = 1 // fails once, succeeds on retry

	out := newOrchestrator(metrics).EnrichBatch(context.Background(), records("AUSDT"))

	if metrics.callCount("AUSDT") != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", metrics.callCount("AUSDT"))
	}
	if out[0].OIDisplay != "$AUSDT" {
		t.Fatalf("retry success should enrich the record, got %q", out[0].OIDisplay)
	}
}

func TestEnrichBatchIsolatesFailures(t *testing.T) {
	metrics := newFakeMetrics()
	metrics.failures["BADUSDT"] = 10 // never succeeds

	out := newOrchestrator(metrics).EnrichBatch(context.Background(), records("AUSDT", "BADUSDT", "CUSDT"))

	if metrics.callCount("BADUSDT") != 2 {
		t.Fatalf("retry budget is one: expected 2 attempts, got %d", metrics.callCount("BADUSDT"))
	}
	if out[1].OIDisplay != alert.Unavailable || out[1].OIChangeDisplay != alert.Unavailable {
		t.Fatalf("failed lookup should degrade to unavailable, got %q/%q", out[1].OIDisplay, out[1].OIChangeDisplay)
	}
	if out[1].OIValueUSD != nil {
		t.Fatal("failed lookup should leave the raw value nil")
	}
	if out[0].OIDisplay != "$AUSDT" || out[2].OIDisplay != "$CUSDT" {
		t.Fatal("sibling lookups must not be affected by one failure")
	}
}

func TestEnrichBatchEmpty(t *testing.T) {
	out := newOrchestrator(newFakeMetrics()).EnrichBatch(context.Background(), nil)
	if len(out) != 0 {
		t.Fatalf("empty batch should stay empty, got %d", len(out))
	}
}
