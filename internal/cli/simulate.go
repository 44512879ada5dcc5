package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateKucoin  float64
	simulatePancake float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价差并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateKucoin <= 0 || simulatePancake <= 0 {
			return errors.New("--kucoin 与 --pancake 必须大于 0")
		}

		kucoin := decimal.NewFromFloat(simulateKucoin)
		pancake := decimal.NewFromFloat(simulatePancake)
		return getApp().SimulateAlert(cmd.Context(), kucoin, pancake)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateKucoin, "kucoin", 0, "KuCoin 现货价 USDT/POLS")
	simulateCmd.Flags().Float64Var(&simulatePancake, "pancake", 0, "PancakeSwap 现货价 USDT/POLS")
}
