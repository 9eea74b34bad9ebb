package symbols

import (
	"fmt"
	"strings"
)

// quoteSuffixes are stripped in order; only the first match is removed.
var quoteSuffixes = []string{"USDT", "BUSD", "FDUSD", "USDC", "BTC", "USD"}

// BaseAsset normalises an exchange symbol to its underlying asset.
// BTCUSDT -> BTC, ETHFDUSD -> ETH, BTCUSD_PERP -> BTC.
func BaseAsset(symbol string) string {
	base := symbol
	base = strings.TrimSuffix(base, "_PERP")

	for _, quote := range quoteSuffixes {
		if strings.HasSuffix(base, quote) && len(base) > len(quote) {
			base = base[:len(base)-len(quote)]
			break
		}
	}

	return strings.ToUpper(base)
}

// Pretty inserts a separator before the USDT quote for display.
func Pretty(symbol string) string {
	if strings.HasSuffix(symbol, "USDT") {
		return strings.TrimSuffix(symbol, "USDT") + "/USDT"
	}
	return symbol
}

// TradingViewLink builds a 1-minute perpetual chart URL for the symbol.
func TradingViewLink(symbol string) string {
	return fmt.Sprintf("https://www.tradingview.com/chart/?symbol=BINANCE:%s.P&interval=1", symbol)
}
