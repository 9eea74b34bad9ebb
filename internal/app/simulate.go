package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"futures-move-alerts/internal/fetcher"
	"futures-move-alerts/internal/history"
	"futures-move-alerts/internal/refdata"
	"futures-move-alerts/internal/service"
	"futures-move-alerts/internal/throttle"
)

// SimulateAlert 用给定的起止价格驱动两个检测周期，触发一次真实告警流程。
func (a *App) SimulateAlert(ctx context.Context, symbol string, from, to decimal.Decimal) error {
	if !a.Config.Telegram.Enabled {
		return errors.New("telegram 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	tickers := &scriptedTickerFetcher{symbol: symbol, prices: []decimal.Decimal{from, to}}
	metrics := &staticMetricFetcher{}

	svc := service.New(a.Config, service.Deps{
		Tickers:   tickers,
		Reference: &staticReferenceFetcher{},
		History:   history.NewStore(a.Config.Monitor.Window, a.Config.Monitor.HistoryCapacity),
		Throttle:  throttle.New(a.Config.Monitor.MinAlertInterval, a.Config.Monitor.StreakReset),
		RefCache:  refdata.NewCache(),
		Enricher:  a.newEnricher(metrics),
		Notifier:  notifier,
	}, a.Logger)

	now := time.Now()
	if err := svc.RunCycle(ctx, now); err != nil {
		return err
	}
	return svc.RunCycle(ctx, now.Add(a.Config.Monitor.CheckInterval))
}

// scriptedTickerFetcher replays one price per cycle for a single symbol.
type scriptedTickerFetcher struct {
	symbol string
	prices []decimal.Decimal
	calls  int
}

func (s *scriptedTickerFetcher) FetchTickers(ctx context.Context, market string) ([]fetcher.Ticker, error) {
	idx := s.calls
	if idx >= len(s.prices) {
		idx = len(s.prices) - 1
	}
	s.calls++
	return []fetcher.Ticker{{
		Symbol:      s.symbol,
		LastPrice:   s.prices[idx],
		QuoteVolume: "0",
	}}, nil
}

type staticMetricFetcher struct{}

func (s *staticMetricFetcher) FetchOpenInterest(ctx context.Context, symbol, market, period string) (fetcher.OpenInterest, error) {
	value := decimal.NewFromInt(1_000_000)
	return fetcher.OpenInterest{Display: "$1.0M", ChangeDisplay: "+0.00%", ValueUSD: &value}, nil
}

type staticReferenceFetcher struct{}

func (s *staticReferenceFetcher) FetchReferenceTable(ctx context.Context) ([]refdata.Entry, error) {
	return nil, nil
}

var _ fetcher.TickerFetcher = (*scriptedTickerFetcher)(nil)
var _ fetcher.MetricFetcher = (*staticMetricFetcher)(nil)
var _ fetcher.ReferenceFetcher = (*staticReferenceFetcher)(nil)
