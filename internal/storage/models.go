package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures one delivered (or attempted) alert for auditing.
type AlertRecord struct {
	ID           int64
	Symbol       string
	BaseAsset    string
	Direction    string
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	StreakCount  int
	MessageID    *int64
	CreatedAt    time.Time
}
