package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futures-move-alerts/internal/alert"
	"futures-move-alerts/internal/alerting"
	"futures-move-alerts/internal/config"
	"futures-move-alerts/internal/enrich"
	"futures-move-alerts/internal/fetcher"
	"futures-move-alerts/internal/history"
	"futures-move-alerts/internal/refdata"
	"futures-move-alerts/internal/scheduler"
	"futures-move-alerts/internal/storage"
	"futures-move-alerts/internal/symbols"
	"futures-move-alerts/internal/throttle"
)

// ChartRenderer draws the optional alert attachment. A nil renderer means
// text-only alerts.
type ChartRenderer interface {
	Render(ctx context.Context, symbol, market string) ([]byte, error)
}

type msgKey struct {
	base      string
	direction throttle.Direction
}

// Deps aggregates the collaborators of the monitoring service.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Tickers    fetcher.TickerFetcher
	Reference  fetcher.ReferenceFetcher
	History    *history.Store
	Throttle   *throttle.Throttle
	RefCache   *refdata.Cache
	Enricher   *enrich.Orchestrator
	Notifier   alerting.Notifier
	Charts     ChartRenderer
	AlertStore storage.AlertStore
	Locker     storage.AdvisoryLocker
}

// Service orchestrates one polling cycle: ingest, detect, throttle, enrich,
// deliver. All mutable state is owned here or by its components; only the
// single active cycle writes to it.
type Service struct {
	deps   Deps
	logger zerolog.Logger

	market          string
	threshold       decimal.Decimal
	windowMinutes   int
	oiLabel         string
	refreshInterval time.Duration
	blocked         map[string]struct{}
	lockKey         int64

	lastMsgID  map[msgKey]int64
	refreshing atomic.Bool
}

// New constructs the monitoring service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	_, oiLabel, _ := fetcher.OIPeriod(cfg.Monitor.OIWindowMinutes)

	blocked := make(map[string]struct{}, len(cfg.Monitor.BlockedBases))
	for _, b := range cfg.Monitor.BlockedBases {
		blocked[strings.ToUpper(strings.TrimSpace(b))] = struct{}{}
	}

	return &Service{
		deps:            deps,
		logger:          logger.With().Str("component", "service").Logger(),
		market:          cfg.Monitor.Market,
		threshold:       decimal.NewFromFloat(cfg.Monitor.ChangeThreshold),
		windowMinutes:   int(cfg.Monitor.Window.Minutes()),
		oiLabel:         oiLabel,
		refreshInterval: cfg.CoinGecko.RefreshInterval,
		blocked:         blocked,
		lockKey:         cfg.Database.AdvisoryLockKey,
		lastMsgID:       make(map[msgKey]int64),
	}
}

// Run seeds state, announces startup, and enters the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	s.refreshReference(ctx)

	instruments := 0
	if tickers, err := s.deps.Tickers.FetchTickers(ctx, s.market); err != nil {
		s.logger.Warn().Err(err).Msg("initial ticker fetch failed; windows seed on first cycle")
	} else {
		now := time.Now()
		for _, t := range tickers {
			if s.isBlocked(t.Symbol) {
				continue
			}
			s.deps.History.Ingest(s.market, t.Symbol, now, t.LastPrice)
			instruments++
		}
	}

	s.announceStartup(ctx, instruments)

	s.logger.Info().
		Str("market", s.market).
		Int("window_minutes", s.windowMinutes).
		Str("threshold", s.threshold.String()).
		Int("instruments", instruments).
		Msg("开始循环监控")

	return s.deps.Scheduler.Run(ctx, s.RunCycle)
}

// RunCycle executes a single polling cycle.
func (s *Service) RunCycle(ctx context.Context, now time.Time) error {
	s.maybeRefreshReference(ctx, now)

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	tickers, err := s.deps.Tickers.FetchTickers(ctx, s.market)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ticker fetch failed; nothing to ingest this cycle")
		return nil
	}

	for _, t := range tickers {
		if s.isBlocked(t.Symbol) {
			continue
		}
		s.deps.History.Ingest(s.market, t.Symbol, now, t.LastPrice)
	}

	batch := s.detect(tickers, now)
	if len(batch) == 0 {
		return nil
	}

	enriched := s.deps.Enricher.EnrichBatch(ctx, batch)

	for _, rec := range enriched {
		s.deliver(ctx, rec)
	}

	return nil
}

// detect walks the ticker table in arrival order and produces provisional
// alert records for every admitted threshold crossing.
func (s *Service) detect(tickers []fetcher.Ticker, now time.Time) []alert.Record {
	var batch []alert.Record

	for _, t := range tickers {
		if s.isBlocked(t.Symbol) {
			continue
		}

		move, ok := s.deps.History.Change(s.market, t.Symbol)
		if !ok {
			continue
		}
		if move.Fraction.Abs().LessThan(s.threshold) {
			continue
		}

		direction := throttle.DirectionDown
		if move.Fraction.Sign() > 0 {
			direction = throttle.DirectionUp
		}

		base := symbols.BaseAsset(t.Symbol)
		if !s.deps.Throttle.Admit(base, direction, now) {
			continue
		}

		count, minutesSincePrev := s.deps.Throttle.RecordStreak(base, direction, now)

		rec := alert.Record{
			Symbol:           t.Symbol,
			BaseAsset:        base,
			Direction:        direction,
			ChangeFraction:   move.Fraction,
			WindowStartPrice: move.WindowStartPrice,
			CurrentPrice:     move.CurrentPrice,
			Change24hPct:     t.PriceChangePct24h,
			QuoteVolume:      alert.HumanNumberFromString(t.QuoteVolume),
			StreakCount:      count,
			MinutesSincePrev: minutesSincePrev,
			OIDisplay:        alert.Unavailable,
			OIChangeDisplay:  alert.Unavailable,
		}
		s.attachReference(&rec)

		batch = append(batch, rec)
	}

	return batch
}

func (s *Service) attachReference(rec *alert.Record) {
	rec.MarketCapDisplay = alert.Unavailable
	rec.FDVDisplay = alert.Unavailable

	val, ok := s.deps.RefCache.Lookup(rec.BaseAsset)
	if !ok {
		return
	}
	if val.MarketCap != nil {
		rec.MarketCapRaw = val.MarketCap
		rec.MarketCapDisplay = alert.HumanNumber(val.MarketCap.InexactFloat64())
	}
	if val.FDV != nil {
		rec.FDVRaw = val.FDV
		rec.FDVDisplay = alert.HumanNumber(val.FDV.InexactFloat64())
	}
}

// deliver sends one finished record. A failed delivery is logged and
// dropped; the alert is not re-sent and does not thread later alerts.
func (s *Service) deliver(ctx context.Context, rec alert.Record) {
	msg := alert.FormatMessage(rec, s.windowMinutes, s.oiLabel)
	s.logger.Info().Str("symbol", rec.Symbol).Str("direction", string(rec.Direction)).
		Int("streak", rec.StreakCount).Msg("triggering alert")

	key := msgKey{base: rec.BaseAsset, direction: rec.Direction}

	var replyTo *int64
	if rec.StreakCount > 1 {
		if id, ok := s.lastMsgID[key]; ok {
			replyTo = &id
		}
	}

	var png []byte
	if s.deps.Charts != nil {
		rendered, err := s.deps.Charts.Render(ctx, rec.Symbol, s.market)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", rec.Symbol).Msg("chart rendering failed; sending text only")
		} else {
			png = rendered
		}
	}

	var messageID *int64
	if s.deps.Notifier != nil {
		var id int64
		var err error
		if png != nil {
			id, err = s.deps.Notifier.SendPhoto(ctx, png, msg, replyTo)
		} else {
			id, err = s.deps.Notifier.SendMessage(ctx, msg, replyTo)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to dispatch alert")
		} else {
			s.lastMsgID[key] = id
			messageID = &id
		}
	}

	if s.deps.AlertStore != nil {
		record := storage.AlertRecord{
			Symbol:       rec.Symbol,
			BaseAsset:    rec.BaseAsset,
			Direction:    string(rec.Direction),
			ChangePct:    rec.ChangeFraction.Mul(decimal.NewFromInt(100)),
			ThresholdPct: s.threshold.Mul(decimal.NewFromInt(100)),
			StreakCount:  rec.StreakCount,
			MessageID:    messageID,
		}
		if _, err := s.deps.AlertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to persist alert record")
		}
	}
}

// maybeRefreshReference schedules a background refresh when the cache is
// stale. Lookups keep serving the old table until the swap.
func (s *Service) maybeRefreshReference(ctx context.Context, now time.Time) {
	if !s.deps.RefCache.Stale(now, s.refreshInterval) {
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}

	s.logger.Info().Dur("interval", s.refreshInterval).Msg("reference cache stale, refreshing")

	go func() {
		defer s.refreshing.Store(false)
		s.refreshReference(ctx)
	}()
}

func (s *Service) refreshReference(ctx context.Context) {
	entries, err := s.deps.Reference.FetchReferenceTable(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reference table refresh failed")
		return
	}
	s.deps.RefCache.Refresh(entries)
	s.logger.Info().Int("symbols", s.deps.RefCache.Len()).Msg("reference cache updated")
}

func (s *Service) announceStartup(ctx context.Context, instruments int) {
	if s.deps.Notifier == nil {
		return
	}

	marketLabel := "仅 U 本位合约"
	if s.market == fetcher.MarketCM {
		marketLabel = "仅币本位合约"
	}

	blockedLabel := "无"
	if len(s.blocked) > 0 {
		names := make([]string, 0, len(s.blocked))
		for b := range s.blocked {
			names = append(names, b)
		}
		sort.Strings(names)
		blockedLabel = strings.Join(names, ", ")
	}

	text := fmt.Sprintf(
		"✅ 监控系统运行成功！\n当前时间: %s\n监控模式: %s\n检测到合约: %d 个\n屏蔽币种(按 base asset): %s\n参考数据缓存: %d 个 symbol",
		time.Now().Format("2006-01-02 15:04:05"),
		marketLabel,
		instruments,
		blockedLabel,
		s.deps.RefCache.Len(),
	)

	if _, err := s.deps.Notifier.SendMessage(ctx, text, nil); err != nil {
		s.logger.Warn().Err(err).Msg("startup message failed")
	}
}

func (s *Service) isBlocked(symbol string) bool {
	_, ok := s.blocked[symbols.BaseAsset(symbol)]
	return ok
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
