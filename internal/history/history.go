package history

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample is a single observed price point. Immutable once recorded.
type Sample struct {
	TS    time.Time
	Price decimal.Decimal
}

// Move summarises the price change over the retained window.
type Move struct {
	Fraction         decimal.Decimal
	WindowStartPrice decimal.Decimal
	CurrentPrice     decimal.Decimal
}

type seriesKey struct {
	market string
	symbol string
}

// series keeps samples ordered by timestamp. Eviction advances head instead
// of reslicing on every ingest; the backing array is compacted once head
// passes the midpoint, which keeps eviction O(1) amortized.
type series struct {
	samples []Sample
	head    int
}

func (s *series) len() int { return len(s.samples) - s.head }

func (s *series) oldest() Sample { return s.samples[s.head] }

func (s *series) newest() Sample { return s.samples[len(s.samples)-1] }

func (s *series) compact() {
	if s.head > len(s.samples)/2 {
		s.samples = append(s.samples[:0], s.samples[s.head:]...)
		s.head = 0
	}
}

// Store owns per (market, symbol) rolling price windows.
type Store struct {
	window   time.Duration
	capacity int
	series   map[seriesKey]*series
}

// NewStore builds a store retaining at most window of history and at most
// capacity samples per symbol, whichever bound is tighter.
func NewStore(window time.Duration, capacity int) *Store {
	if capacity <= 0 {
		capacity = 100
	}
	return &Store{
		window:   window,
		capacity: capacity,
		series:   make(map[seriesKey]*series),
	}
}

// Ingest appends a price point and evicts samples that fall outside the
// window measured from the new sample's timestamp, then enforces the
// capacity cap. Eviction is deterministic given the ingested timestamps.
func (s *Store) Ingest(market, symbol string, ts time.Time, price decimal.Decimal) {
	key := seriesKey{market: market, symbol: symbol}
	ser := s.series[key]
	if ser == nil {
		ser = &series{}
		s.series[key] = ser
	}

	ser.samples = append(ser.samples, Sample{TS: ts, Price: price})

	for ser.len() > 0 && ts.Sub(ser.oldest().TS) > s.window {
		ser.head++
	}
	for ser.len() > s.capacity {
		ser.head++
	}
	ser.compact()
}

// Change reports the move from the oldest retained sample to the newest.
// Returns false when fewer than two samples remain in the window or the
// window-start price is not positive.
func (s *Store) Change(market, symbol string) (Move, bool) {
	ser := s.series[seriesKey{market: market, symbol: symbol}]
	if ser == nil || ser.len() < 2 {
		return Move{}, false
	}

	oldest := ser.oldest()
	newest := ser.newest()
	if !oldest.Price.IsPositive() {
		return Move{}, false
	}

	fraction := newest.Price.Sub(oldest.Price).Div(oldest.Price)
	return Move{
		Fraction:         fraction,
		WindowStartPrice: oldest.Price,
		CurrentPrice:     newest.Price,
	}, true
}

// Len reports the number of retained samples for a symbol. Zero when the
// symbol has never been ingested.
func (s *Store) Len(market, symbol string) int {
	ser := s.series[seriesKey{market: market, symbol: symbol}]
	if ser == nil {
		return 0
	}
	return ser.len()
}
