package throttle

import (
	"time"
)

// Direction of a qualifying price move.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

type alertKey struct {
	base      string
	direction Direction
}

// StreakState tracks consecutive same-direction alerts for one base asset.
// The UP and DOWN counters carry independent timestamps but share lastDir:
// a single opposite-direction alert flips lastDir and forces the next alert
// in the original direction to restart its streak even when its own gap is
// inside the reset timeout.
type StreakState struct {
	lastDir   Direction
	upCount   int
	downCount int
	lastUp    time.Time
	lastDown  time.Time
}

// Throttle gates re-alerting per (base asset, direction) and maintains the
// per-base streak counters. Keying by base asset rather than raw symbol is
// deliberate: correlated instruments over the same underlying share one
// throttle budget.
type Throttle struct {
	minInterval time.Duration
	resetAfter  time.Duration

	lastAlert map[alertKey]time.Time
	streaks   map[string]*StreakState
}

// New constructs a throttle with the given re-alert interval and streak
// reset timeout.
func New(minInterval, resetAfter time.Duration) *Throttle {
	return &Throttle{
		minInterval: minInterval,
		resetAfter:  resetAfter,
		lastAlert:   make(map[alertKey]time.Time),
		streaks:     make(map[string]*StreakState),
	}
}

// Admit reports whether an alert for (base, direction) may fire at now.
// Admission records now as the new last-alert time; rejection mutates
// nothing, so a rejected event never advances a streak.
func (t *Throttle) Admit(base string, dir Direction, now time.Time) bool {
	key := alertKey{base: base, direction: dir}
	if last, ok := t.lastAlert[key]; ok && now.Sub(last) < t.minInterval {
		return false
	}
	t.lastAlert[key] = now
	return true
}

// RecordStreak advances the streak machine for an admitted alert and
// returns the updated count plus minutes since the previous same-direction
// alert (nil on the first ever alert in this direction).
func (t *Throttle) RecordStreak(base string, dir Direction, now time.Time) (int, *float64) {
	state := t.streaks[base]
	if state == nil {
		state = &StreakState{}
		t.streaks[base] = state
	}

	var prev time.Time
	if dir == DirectionUp {
		prev = state.lastUp
	} else {
		prev = state.lastDown
	}

	var minutesSincePrev *float64
	if !prev.IsZero() {
		m := now.Sub(prev).Minutes()
		minutesSincePrev = &m
	}

	reset := state.lastDir != dir || prev.IsZero() || now.Sub(prev) > t.resetAfter

	var count int
	if dir == DirectionUp {
		if reset {
			state.upCount = 1
		} else {
			state.upCount++
		}
		state.lastUp = now
		count = state.upCount
	} else {
		if reset {
			state.downCount = 1
		} else {
			state.downCount++
		}
		state.lastDown = now
		count = state.downCount
	}
	state.lastDir = dir

	return count, minutesSincePrev
}
