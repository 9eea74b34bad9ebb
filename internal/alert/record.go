package alert

import (
	"github.com/shopspring/decimal"

	"futures-move-alerts/internal/throttle"
)

// Unavailable marks an enrichment field whose lookup failed or returned
// nothing. It is a display value, not an error.
const Unavailable = "N/A"

// Record is the fully assembled context of one alert. It is built by the
// cycle driver, completed by enrichment, and handed to delivery; it flows
// one way and is not mutated after delivery.
type Record struct {
	Symbol    string
	BaseAsset string
	Direction throttle.Direction

	ChangeFraction   decimal.Decimal
	WindowStartPrice decimal.Decimal
	CurrentPrice     decimal.Decimal

	Change24hPct decimal.Decimal
	QuoteVolume  string

	StreakCount      int
	MinutesSincePrev *float64

	MarketCapDisplay string
	FDVDisplay       string
	MarketCapRaw     *decimal.Decimal
	FDVRaw           *decimal.Decimal

	OIDisplay       string
	OIChangeDisplay string
	OIValueUSD      *decimal.Decimal
}

// OIMCRatio renders open interest as a fraction of market cap. Available
// only when both raw values are present and the market cap is positive.
func (r Record) OIMCRatio() string {
	if r.OIValueUSD == nil || r.MarketCapRaw == nil {
		return Unavailable
	}
	if !r.OIValueUSD.IsPositive() || !r.MarketCapRaw.IsPositive() {
		return Unavailable
	}
	ratio := r.OIValueUSD.Div(*r.MarketCapRaw).Mul(decimal.NewFromInt(100))
	return ratio.StringFixed(2) + "%"
}

// DirectionEmoji 返回方向标记，沿用生产告警的展示约定。
func (r Record) DirectionEmoji() string {
	if r.Direction == throttle.DirectionUp {
		return "📈 涨"
	}
	return "📉 跌"
}

// DirectionLabel 返回方向中文描述。
func (r Record) DirectionLabel() string {
	if r.Direction == throttle.DirectionUp {
		return "上涨"
	}
	return "下跌"
}
