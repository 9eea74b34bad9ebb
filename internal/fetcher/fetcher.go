package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"futures-move-alerts/internal/refdata"
)

// Ticker is one instrument's 24h snapshot from the exchange.
type Ticker struct {
	Symbol            string
	LastPrice         decimal.Decimal
	PriceChangePct24h decimal.Decimal
	QuoteVolume       string
}

// OpenInterest carries the display-ready open interest figures for one
// instrument. ValueUSD is nil when the upstream had no usable value.
type OpenInterest struct {
	Display       string
	ChangeDisplay string
	ValueUSD      *decimal.Decimal
}

// Kline is a single candlestick.
type Kline struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
}

// TickerFetcher retrieves the 24h ticker table for a futures market.
type TickerFetcher interface {
	FetchTickers(ctx context.Context, market string) ([]Ticker, error)
}

// MetricFetcher retrieves open interest statistics for one instrument.
// Implementations do not retry; the enrichment orchestrator owns the
// retry budget.
type MetricFetcher interface {
	FetchOpenInterest(ctx context.Context, symbol, market, period string) (OpenInterest, error)
}

// ReferenceFetcher retrieves the full market-cap reference table.
type ReferenceFetcher interface {
	FetchReferenceTable(ctx context.Context) ([]refdata.Entry, error)
}

// KlineFetcher retrieves 1-minute candlesticks for charting.
type KlineFetcher interface {
	FetchKlines(ctx context.Context, symbol, market string, limit int) ([]Kline, error)
}
