package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulateFrom   float64
	simulateTo     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格波动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol 必须配置")
		}
		if simulateFrom <= 0 || simulateTo <= 0 {
			return errors.New("--from 与 --to 必须大于 0")
		}

		from := decimal.NewFromFloat(simulateFrom)
		to := decimal.NewFromFloat(simulateTo)
		return getApp().SimulateAlert(cmd.Context(), simulateSymbol, from, to)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTCUSDT", "合约 symbol")
	simulateCmd.Flags().Float64Var(&simulateFrom, "from", 0, "窗口起点价格")
	simulateCmd.Flags().Float64Var(&simulateTo, "to", 0, "当前价格")
}
