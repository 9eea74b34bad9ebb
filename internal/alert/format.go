package alert

import (
	"fmt"
	"strconv"
	"strings"

	"futures-move-alerts/internal/symbols"
)

// HumanNumber abbreviates large magnitudes: 2800000000 -> "2.8B".
func HumanNumber(v float64) string {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("%.1fT", v/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// HumanNumberFromString abbreviates a numeric string, Unavailable when it
// does not parse.
func HumanNumberFromString(s string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Unavailable
	}
	return HumanNumber(v)
}

// FormatMessage 渲染告警正文，逐行对应生产版式。
func FormatMessage(rec Record, windowMinutes int, oiWindowLabel string) string {
	lastAlertText := "上一次同方向告警: 首次告警"
	if rec.MinutesSincePrev != nil {
		lastAlertText = fmt.Sprintf("上一次同方向告警: %.1f 分钟前", *rec.MinutesSincePrev)
	}

	changePct := rec.ChangeFraction.InexactFloat64() * 100

	lines := []string{
		fmt.Sprintf("%s [%s] %+.2f%% in %d min | %s第 %d 次告警",
			rec.DirectionEmoji(), symbols.Pretty(rec.Symbol), changePct, windowMinutes, rec.DirectionLabel(), rec.StreakCount),
		fmt.Sprintf("$%s → $%s", rec.WindowStartPrice.StringFixed(4), rec.CurrentPrice.StringFixed(4)),
		fmt.Sprintf("24h: %+.2f%% | Vol: $%s", rec.Change24hPct.InexactFloat64(), rec.QuoteVolume),
		fmt.Sprintf("MC: %s | FDV: %s | OI: %s | OI/MC: %s",
			rec.MarketCapDisplay, rec.FDVDisplay, rec.OIDisplay, rec.OIMCRatio()),
		fmt.Sprintf("%s 内 OI 变化: %s", oiWindowLabel, rec.OIChangeDisplay),
		lastAlertText,
		fmt.Sprintf("1m K线 (TradingView): %s", symbols.TradingViewLink(rec.Symbol)),
	}

	return strings.Join(lines, "\n")
}
