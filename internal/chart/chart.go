package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"

	"futures-move-alerts/internal/fetcher"
)

// Renderer draws the 1-minute price chart attached to alerts. Alerts must
// keep working when rendering fails; callers degrade to text-only.
type Renderer struct {
	klines fetcher.KlineFetcher
	limit  int
	logger zerolog.Logger
}

// NewRenderer builds a renderer fetching up to limit 1m candles per chart.
func NewRenderer(klines fetcher.KlineFetcher, limit int, logger zerolog.Logger) *Renderer {
	if limit <= 0 {
		limit = 240
	}
	return &Renderer{
		klines: klines,
		limit:  limit,
		logger: logger.With().Str("component", "chart").Logger(),
	}
}

// Render fetches recent 1m klines and draws the close-price series as PNG.
func (r *Renderer) Render(ctx context.Context, symbol, market string) ([]byte, error) {
	klines, err := r.klines.FetchKlines(ctx, symbol, market, r.limit)
	if err != nil {
		return nil, err
	}
	if len(klines) < 2 {
		return nil, errors.New("not enough klines for chart")
	}

	x := make([]time.Time, len(klines))
	closes := make([]float64, len(klines))
	for i, k := range klines {
		x[i] = k.OpenTime
		closes[i] = k.Close.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s - 1m", symbol),
		Width:  1000,
		Height: 400,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeMinuteValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    symbol,
				XValues: x,
				YValues: closes,
			},
		},
	}

	buf := &bytes.Buffer{}
	if err := graph.Render(chart.PNG, buf); err != nil {
		return nil, fmt.Errorf("render chart for %s: %w", symbol, err)
	}
	return buf.Bytes(), nil
}
