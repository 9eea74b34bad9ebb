package fetcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futures-move-alerts/internal/refdata"
)

const (
	defaultCoinGeckoBase  = "https://api.coingecko.com/api/v3"
	coinGeckoPageSize     = 250
	defaultCoinGeckoPages = 10
)

// CoinGeckoOptions parameterise the reference table fetcher.
type CoinGeckoOptions struct {
	BaseURL  string
	Timeout  time.Duration
	MaxPages int
}

// CoinGecko loads the market capitalization table page by page.
type CoinGecko struct {
	opts   CoinGeckoOptions
	client *resty.Client
	logger zerolog.Logger
}

// NewCoinGecko constructs a reference-data fetcher.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultCoinGeckoBase
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultCoinGeckoPages
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &CoinGecko{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "coingecko_fetcher").Logger(),
	}
}

type rawCoin struct {
	Symbol                string   `json:"symbol"`
	MarketCap             *float64 `json:"market_cap"`
	FullyDilutedValuation *float64 `json:"fully_diluted_valuation"`
}

// FetchReferenceTable loads up to MaxPages pages ordered by market cap.
// A failed page ends the walk; rows already collected are still returned
// so a partial refresh beats none. Duplicate symbols are resolved by the
// cache, not here.
func (c *CoinGecko) FetchReferenceTable(ctx context.Context) ([]refdata.Entry, error) {
	entries := make([]refdata.Entry, 0, c.opts.MaxPages*coinGeckoPageSize)

	for page := 1; page <= c.opts.MaxPages; page++ {
		var coins []rawCoin
		res, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"vs_currency": "usd",
				"order":       "market_cap_desc",
				"per_page":    strconv.Itoa(coinGeckoPageSize),
				"page":        strconv.Itoa(page),
				"sparkline":   "false",
			}).
			SetResult(&coins).
			Get("/coins/markets")
		if err != nil || res.IsError() {
			if err == nil {
				err = fmt.Errorf("status %d", res.StatusCode())
			}
			if len(entries) == 0 {
				return nil, fmt.Errorf("fetch reference table page %d: %w", page, err)
			}
			c.logger.Warn().Err(err).Int("page", page).Msg("reference table page failed, keeping partial result")
			break
		}

		if len(coins) == 0 {
			break
		}

		for _, coin := range coins {
			symbol := strings.ToUpper(strings.TrimSpace(coin.Symbol))
			if symbol == "" {
				continue
			}
			entries = append(entries, refdata.Entry{
				Symbol:    symbol,
				MarketCap: toDecimal(coin.MarketCap),
				FDV:       toDecimal(coin.FullyDilutedValuation),
			})
		}
	}

	c.logger.Info().Int("symbols", len(entries)).Msg("reference table loaded")
	return entries, nil
}

func toDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

var _ ReferenceFetcher = (*CoinGecko)(nil)
