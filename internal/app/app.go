package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"futures-move-alerts/internal/alerting"
	"futures-move-alerts/internal/chart"
	"futures-move-alerts/internal/config"
	"futures-move-alerts/internal/enrich"
	"futures-move-alerts/internal/fetcher"
	"futures-move-alerts/internal/history"
	"futures-move-alerts/internal/refdata"
	"futures-move-alerts/internal/scheduler"
	"futures-move-alerts/internal/service"
	"futures-move-alerts/internal/storage"
	"futures-move-alerts/internal/throttle"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newBinance() *fetcher.Binance {
	return fetcher.NewBinance(fetcher.BinanceOptions{
		FAPIBase:     a.Config.Binance.FAPIBase,
		DAPIBase:     a.Config.Binance.DAPIBase,
		Timeout:      a.Config.Binance.RequestTimeout,
		UserAgent:    a.Config.Binance.UserAgent,
		BlockedBases: a.Config.Monitor.BlockedBases,
	}, a.Logger)
}

func (a *App) newCoinGecko() *fetcher.CoinGecko {
	return fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:  a.Config.CoinGecko.BaseURL,
		Timeout:  a.Config.CoinGecko.RequestTimeout,
		MaxPages: a.Config.CoinGecko.MaxPages,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Telegram.Enabled {
		cfg := a.Config.Telegram
		return alerting.NewTelegram(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.RequestTimeout, a.Logger)
	}
	return nil
}

func (a *App) newEnricher(metrics fetcher.MetricFetcher) *enrich.Orchestrator {
	period, _, _ := fetcher.OIPeriod(a.Config.Monitor.OIWindowMinutes)
	return enrich.New(metrics, enrich.Options{
		Market:  a.Config.Monitor.Market,
		Period:  period,
		Timeout: a.Config.Binance.RequestTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert auditing disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval: a.Config.Monitor.CheckInterval,
		Floor:    a.Config.Monitor.IntervalFloor,
	}, a.Logger)

	binance := a.newBinance()
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("telegram not enabled; alerts will only be logged")
	}

	var alertStore storage.AlertStore
	var locker storage.AdvisoryLocker
	if store != nil {
		alertStore = store
		locker = store
	}

	svc := service.New(a.Config, service.Deps{
		Scheduler:  sched,
		Tickers:    binance,
		Reference:  a.newCoinGecko(),
		History:    history.NewStore(a.Config.Monitor.Window, a.Config.Monitor.HistoryCapacity),
		Throttle:   throttle.New(a.Config.Monitor.MinAlertInterval, a.Config.Monitor.StreakReset),
		RefCache:   refdata.NewCache(),
		Enricher:   a.newEnricher(binance),
		Notifier:   notifier,
		Charts:     chart.NewRenderer(binance, a.Config.Binance.ChartKlines, a.Logger),
		AlertStore: alertStore,
		Locker:     locker,
	}, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// AlertsOptions configure the alerts listing command.
type AlertsOptions struct {
	Limit int
}
