package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futures-move-alerts/internal/alert"
	"futures-move-alerts/internal/symbols"
)

const (
	// MarketUM is the U-margined futures market, MarketCM coin-margined.
	MarketUM = "um"
	MarketCM = "cm"

	defaultFAPIBase = "https://fapi.binance.com"
	defaultDAPIBase = "https://dapi.binance.com"
)

// oiPeriods maps a window in minutes to the upstream histogram period.
var oiPeriods = map[int]string{
	5:    "5m",
	15:   "15m",
	30:   "30m",
	60:   "1h",
	120:  "2h",
	240:  "4h",
	360:  "6h",
	720:  "12h",
	1440: "1d",
}

// OIPeriod maps a requested window to the closest supported period and a
// display label, returning the actual minutes covered.
func OIPeriod(windowMinutes int) (period, label string, actualMinutes int) {
	if p, ok := oiPeriods[windowMinutes]; ok {
		actualMinutes = windowMinutes
		period = p
	} else {
		keys := make([]int, 0, len(oiPeriods))
		for k := range oiPeriods {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		closest := keys[0]
		for _, k := range keys {
			if abs(k-windowMinutes) < abs(closest-windowMinutes) {
				closest = k
			}
		}
		actualMinutes = closest
		period = oiPeriods[closest]
	}

	switch {
	case actualMinutes < 60:
		label = fmt.Sprintf("%d min", actualMinutes)
	case actualMinutes == 1440:
		label = "1 d"
	case actualMinutes%60 == 0:
		label = fmt.Sprintf("%d h", actualMinutes/60)
	default:
		label = fmt.Sprintf("%d min", actualMinutes)
	}

	return period, label, actualMinutes
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// BinanceOptions parameterise the futures API client.
type BinanceOptions struct {
	FAPIBase     string
	DAPIBase     string
	Timeout      time.Duration
	UserAgent    string
	BlockedBases []string
}

// Binance fetches tickers, open interest, and klines from the futures API.
type Binance struct {
	opts    BinanceOptions
	client  *resty.Client
	blocked map[string]struct{}
	logger  zerolog.Logger
}

// NewBinance constructs the exchange client.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.FAPIBase == "" {
		opts.FAPIBase = defaultFAPIBase
	}
	if opts.DAPIBase == "" {
		opts.DAPIBase = defaultDAPIBase
	}
	opts.FAPIBase = strings.TrimRight(opts.FAPIBase, "/")
	opts.DAPIBase = strings.TrimRight(opts.DAPIBase, "/")

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		client.SetHeader("User-Agent", ua)
	}

	blocked := make(map[string]struct{}, len(opts.BlockedBases))
	for _, b := range opts.BlockedBases {
		blocked[strings.ToUpper(strings.TrimSpace(b))] = struct{}{}
	}

	return &Binance{
		opts:    opts,
		client:  client,
		blocked: blocked,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
	}
}

func (b *Binance) baseFor(market string) string {
	if market == MarketCM {
		return b.opts.DAPIBase
	}
	return b.opts.FAPIBase
}

type rawTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
	Volume             string `json:"volume"`
}

// FetchTickers retrieves the 24h ticker table, dropping blacklisted base
// assets and rows whose price does not parse.
func (b *Binance) FetchTickers(ctx context.Context, market string) ([]Ticker, error) {
	path := "/fapi/v1/ticker/24hr"
	if market == MarketCM {
		path = "/dapi/v1/ticker/24hr"
	}

	var raw []rawTicker
	res, err := b.client.R().
		SetContext(ctx).
		SetResult(&raw).
		Get(b.baseFor(market) + path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s tickers: %w", market, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("fetch %s tickers: status %d", market, res.StatusCode())
	}

	tickers := make([]Ticker, 0, len(raw))
	for _, item := range raw {
		if _, ok := b.blocked[symbols.BaseAsset(item.Symbol)]; ok {
			continue
		}

		price, err := decimal.NewFromString(item.LastPrice)
		if err != nil {
			continue
		}

		chg, err := decimal.NewFromString(item.PriceChangePercent)
		if err != nil {
			chg = decimal.Zero
		}

		volume := item.QuoteVolume
		if volume == "" {
			volume = item.Volume
		}
		if volume == "" {
			volume = "0"
		}

		tickers = append(tickers, Ticker{
			Symbol:            item.Symbol,
			LastPrice:         price,
			PriceChangePct24h: chg,
			QuoteVolume:       volume,
		})
	}

	return tickers, nil
}

type rawOIRow struct {
	SumOpenInterestValue string `json:"sumOpenInterestValue"`
}

// FetchOpenInterest retrieves the last two open interest histogram rows and
// derives the change over the period. No retry here; the orchestrator owns
// the retry budget.
func (b *Binance) FetchOpenInterest(ctx context.Context, symbol, market, period string) (OpenInterest, error) {
	var rows []rawOIRow
	res, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"period": period,
			"limit":  "2",
		}).
		SetResult(&rows).
		Get(b.baseFor(market) + "/futures/data/openInterestHist")
	if err != nil {
		return OpenInterest{}, fmt.Errorf("fetch open interest for %s: %w", symbol, err)
	}
	if res.IsError() {
		return OpenInterest{}, fmt.Errorf("fetch open interest for %s: status %d", symbol, res.StatusCode())
	}

	if len(rows) == 0 {
		return OpenInterest{Display: alert.Unavailable, ChangeDisplay: alert.Unavailable}, nil
	}

	current := parseOIValue(rows[len(rows)-1].SumOpenInterestValue)

	changeDisplay := alert.Unavailable
	if len(rows) >= 2 {
		oldest := parseOIValue(rows[0].SumOpenInterestValue)
		if oldest.IsPositive() {
			change := current.Sub(oldest).Div(oldest).Mul(decimal.NewFromInt(100))
			changeDisplay = fmt.Sprintf("%+.2f%%", change.InexactFloat64())
		}
	}

	return OpenInterest{
		Display:       "$" + alert.HumanNumber(current.InexactFloat64()),
		ChangeDisplay: changeDisplay,
		ValueUSD:      &current,
	}, nil
}

func parseOIValue(s string) decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return v
}

// FetchKlines retrieves 1-minute candlesticks for one instrument.
func (b *Binance) FetchKlines(ctx context.Context, symbol, market string, limit int) ([]Kline, error) {
	path := "/fapi/v1/klines"
	if market == MarketCM {
		path = "/dapi/v1/klines"
	}
	if limit <= 0 {
		limit = 240
	}

	res, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": "1m",
			"limit":    fmt.Sprintf("%d", limit),
		}).
		Get(b.baseFor(market) + path)
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("fetch klines for %s: status %d", symbol, res.StatusCode())
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(res.Body(), &rows); err != nil {
		return nil, fmt.Errorf("decode klines for %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var openMillis int64
		if err := json.Unmarshal(row[0], &openMillis); err != nil {
			continue
		}
		k := Kline{OpenTime: time.UnixMilli(openMillis)}

		fields := []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close}
		ok := true
		for i, dst := range fields {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				ok = false
				break
			}
			v, err := decimal.NewFromString(s)
			if err != nil {
				ok = false
				break
			}
			*dst = v
		}
		if !ok {
			continue
		}
		klines = append(klines, k)
	}

	return klines, nil
}

var _ TickerFetcher = (*Binance)(nil)
var _ MetricFetcher = (*Binance)(nil)
var _ KlineFetcher = (*Binance)(nil)
