package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futures-move-alerts/internal/config"
	"futures-move-alerts/internal/enrich"
	"futures-move-alerts/internal/fetcher"
	"futures-move-alerts/internal/history"
	"futures-move-alerts/internal/refdata"
	"futures-move-alerts/internal/throttle"
)

type fakeTickers struct {
	batches [][]fetcher.Ticker
	err     error
	calls   int
}

func (f *fakeTickers) FetchTickers(ctx context.Context, market string) ([]fetcher.Ticker, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	if idx >= len(f.batches) {
		idx = len(f.batches) - 1
	}
	f.calls++
	if idx < 0 {
		return nil, nil
	}
	return f.batches[idx], nil
}

type fakeReference struct {
	entries []refdata.Entry
	calls   int
}

func (f *fakeReference) FetchReferenceTable(ctx context.Context) ([]refdata.Entry, error) {
	f.calls++
	return f.entries, nil
}

type fakeMetrics struct{}

func (f *fakeMetrics) FetchOpenInterest(ctx context.Context, symbol, market, period string) (fetcher.OpenInterest, error) {
	value := decimal.NewFromInt(1_000_000)
	return fetcher.OpenInterest{Display: "$1.0M", ChangeDisplay: "+2.00%", ValueUSD: &value}, nil
}

type sent struct {
	text    string
	replyTo *int64
	photo   bool
}

type fakeNotifier struct {
	fail   bool
	nextID int64
	sent   []sent
}

func (f *fakeNotifier) SendMessage(ctx context.Context, text string, replyTo *int64) (int64, error) {
	if f.fail {
		return 0, errors.New("delivery failed")
	}
	f.nextID++
	f.sent = append(f.sent, sent{text: text, replyTo: replyTo})
	return f.nextID, nil
}

func (f *fakeNotifier) SendPhoto(ctx context.Context, photo []byte, caption string, replyTo *int64) (int64, error) {
	if f.fail {
		return 0, errors.New("delivery failed")
	}
	f.nextID++
	f.sent = append(f.sent, sent{text: caption, replyTo: replyTo, photo: true})
	return f.nextID, nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, symbol, market string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte{0x89, 0x50}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Monitor: config.MonitorConfig{
			Market:           "um",
			ChangeThreshold:  0.03,
			CheckInterval:    time.Minute,
			Window:           15 * time.Minute,
			HistoryCapacity:  100,
			MinAlertInterval: time.Minute,
			StreakReset:      30 * time.Minute,
			OIWindowMinutes:  15,
			BlockedBases:     []string{"BTTC"},
		},
		CoinGecko: config.CoinGeckoConfig{RefreshInterval: time.Hour},
	}
}

func tick(symbol string, price float64) fetcher.Ticker {
	return fetcher.Ticker{
		Symbol:            symbol,
		LastPrice:         decimal.NewFromFloat(price),
		PriceChangePct24h: decimal.NewFromFloat(1.5),
		QuoteVolume:       "2500000000",
	}
}

func newTestService(cfg *config.Config, tickers fetcher.TickerFetcher, notifier *fakeNotifier, charts ChartRenderer) (*Service, *refdata.Cache) {
	cache := refdata.NewCache()
	mc := decimal.NewFromInt(800_000_000_000)
	fdv := decimal.NewFromInt(900_000_000_000)
	cache.Refresh([]refdata.Entry{{Symbol: "BTC", MarketCap: &mc, FDV: &fdv}})

	enricher := enrich.New(&fakeMetrics{}, enrich.Options{
		Market:     "um",
		Period:     "15m",
		RetryDelay: time.Millisecond,
		Timeout:    time.Second,
	}, zerolog.Nop())

	svc := New(cfg, Deps{
		Tickers:   tickers,
		Reference: &fakeReference{},
		History:   history.NewStore(cfg.Monitor.Window, cfg.Monitor.HistoryCapacity),
		Throttle:  throttle.New(cfg.Monitor.MinAlertInterval, cfg.Monitor.StreakReset),
		RefCache:  cache,
		Enricher:  enricher,
		Notifier:  notifier,
		Charts:    charts,
	}, zerolog.Nop())

	return svc, cache
}

func TestCycleEmitsAlertOnThresholdCrossing(t *testing.T) {
	tickers := &fakeTickers{batches: [][]fetcher.Ticker{
		{tick("BTCUSDT", 100)},
		{tick("BTCUSDT", 96)},
	}}
	notifier := &fakeNotifier{}
	svc, _ := newTestService(testConfig(), tickers, notifier, nil)

	now := time.Now()
	if err := svc.RunCycle(context.Background(), now); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("single sample must not alert")
	}

	if err := svc.RunCycle(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(notifier.sent))
	}

	msg := notifier.sent[0].text
	for _, want := range []string{
		"[BTC/USDT]",
		"-4.00%",
		"第 1 次告警",
		"$100.0000 → $96.0000",
		"MC: 800.0B",
		"OI: $1.0M",
		"首次告警",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("alert missing %q:\n%s", want, msg)
		}
	}
	if notifier.sent[0].replyTo != nil {
		t.Fatal("first alert must not thread")
	}
}

func TestConsecutiveAlertsThread(t *testing.T) {
	tickers := &fakeTickers{batches: [][]fetcher.Ticker{
		{tick("BTCUSDT", 100)},
		{tick("BTCUSDT", 96)},
		{tick("BTCUSDT", 92)},
	}}
	notifier := &fakeNotifier{}
	svc, _ := newTestService(testConfig(), tickers, notifier, nil)

	now := time.Now()
	_ = svc.RunCycle(context.Background(), now)
	_ = svc.RunCycle(context.Background(), now.Add(time.Minute))
	_ = svc.RunCycle(context.Background(), now.Add(3*time.Minute))

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(notifier.sent))
	}
	second := notifier.sent[1]
	if second.replyTo == nil || *second.replyTo != 1 {
		t.Fatalf("second same-direction alert should reply to the first message, got %v", second.replyTo)
	}
	if !strings.Contains(second.text, "第 2 次告警") {
		t.Fatalf("streak count should be 2:\n%s", second.text)
	}
}

func TestThrottleBlocksRepeatWithinInterval(t *testing.T) {
	tickers := &fakeTickers{batches: [][]fetcher.Ticker{
		{tick("BTCUSDT", 100)},
		{tick("BTCUSDT", 96)},
		{tick("BTCUSDT", 92)},
	}}
	notifier := &fakeNotifier{}
	svc, _ := newTestService(testConfig(), tickers, notifier, nil)

	now := time.Now()
	_ = svc.RunCycle(context.Background(), now)
	_ = svc.RunCycle(context.Background(), now.Add(time.Minute))
	// 30 seconds later: still beyond threshold but inside the min interval.
	_ = svc.RunCycle(context.Background(), now.Add(90*time.Second))

	if len(notifier.sent) != 1 {
		t.Fatalf("throttled move must not re-alert, got %d alerts", len(notifier.sent))
	}
}

func TestDeliveryFailureDoesNotThread(t *testing.T) {
	tickers := &fakeTickers{batches: [][]fetcher.Ticker{
		{tick("BTCUSDT", 100)},
		{tick("BTCUSDT", 96)},
		{tick("BTCUSDT", 92)},
	}}
	notifier := &fakeNotifier{fail: true}
	svc, _ := newTestService(testConfig(), tickers, notifier, nil)

	now := time.Now()
	_ = svc.RunCycle(context.Background(), now)
	_ = svc.RunCycle(context.Background(), now.Add(time.Minute)) // delivery fails

	notifier.fail = false
	_ = svc.RunCycle(context.Background(), now.Add(3*time.Minute))

	if len(notifier.sent) != 1 {
		t.Fatalf("expected exactly one delivered alert, got %d", len(notifier.sent))
	}
	if notifier.sent[0].replyTo != nil {
		t.Fatal("an alert after a failed delivery has no message to reply to")
	}
}

func TestBlockedBaseNeverAlerts(t *testing.T) {
	tickers := &fakeTickers{batches: [][]fetcher.Ticker{
		{tick("BTTCUSDT", 100)},
		{tick("BTTCUSDT", 50)},
	}}
	notifier := &fakeNotifier{}
	svc, _ := newTestService(testConfig(), tickers, notifier, nil)

	now := time.Now()
	_ = svc.RunCycle(context.Background(), now)
	_ = svc.RunCycle(context.Background(), now.Add(time.Minute))

	if len(notifier.sent) != 0 {
		t.Fatal("blacklisted base asset must never alert")
	}
}

func TestSubThresholdMoveDoesNotAlert(t *testing.T) {
	tickers := &fakeTickers{batches: [][]fetcher.Ticker{
		{tick("BTCUSDT", 100)},
		{tick("BTCUSDT", 98)},
	}}
	notifier := &fakeNotifier{}
	svc, _ := newTestService(testConfig(), tickers, notifier, nil)

	now := time.Now()
	_ = svc.RunCycle(context.Background(), now)
	_ = svc.RunCycle(context.Background(), now.Add(time.Minute))

	if len(notifier.sent) != 0 {
		t.Fatal("a 2% move is under the 3% threshold")
	}
}

func TestExactThresholdMoveAlerts(t *testing.T) {
	tickers := &fakeTickers{batches: [][]fetcher.Ticker{
		{tick("BTCUSDT", 100)},
		{tick("BTCUSDT", 97)},
	}}
	notifier := &fakeNotifier{}
	svc, _ := newTestService(testConfig(), tickers, notifier, nil)

	now := time.Now()
	_ = svc.RunCycle(context.Background(), now)
	_ = svc.RunCycle(context.Background(), now.Add(time.Minute))

	if len(notifier.sent) != 1 {
		t.Fatal("a move at exactly the threshold qualifies")
	}
}

func TestTickerFailureSkipsCycle(t *testing.T) {
	tickers := &fakeTickers{err: errors.New("upstream down")}
	notifier := &fakeNotifier{}
	svc, _ := newTestService(testConfig(), tickers, notifier, nil)

	if err := svc.RunCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("a failed ticker fetch is not a cycle error: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestChartAttachmentAndFallback(t *testing.T) {
	mk := func(charts ChartRenderer) *fakeNotifier {
		tickers := &fakeTickers{batches: [][]fetcher.Ticker{
			{tick("BTCUSDT", 100)},
			{tick("BTCUSDT", 96)},
		}}
		notifier := &fakeNotifier{}
		svc, _ := newTestService(testConfig(), tickers, notifier, charts)
		now := time.Now()
		_ = svc.RunCycle(context.Background(), now)
		_ = svc.RunCycle(context.Background(), now.Add(time.Minute))
		return notifier
	}

	withChart := mk(&fakeRenderer{})
	if len(withChart.sent) != 1 || !withChart.sent[0].photo {
		t.Fatal("successful rendering should deliver a photo")
	}

	withoutChart := mk(&fakeRenderer{err: errors.New("render failed")})
	if len(withoutChart.sent) != 1 || withoutChart.sent[0].photo {
		t.Fatal("failed rendering should fall back to a text alert")
	}
}
