package arbitrage

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"polswatch/internal/market"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func quoteWith(buyCost, sellRevenue string) market.PriceQuote {
	return market.PriceQuote{
		BuyCost:     dec(buyCost),
		SellRevenue: dec(sellRevenue),
	}
}

func standardFees() Fees {
	return Fees{
		FeeA: dec("0.001"),
		FeeB: dec("0.0025"),
	}
}

func TestEvaluateProfitableDirection(t *testing.T) {
	// 在 A 买入 1000, 在 B 卖出 1050
	quoteA := quoteWith("1000", "1000")
	quoteB := quoteWith("1050", "1050")

	result, err := Evaluate("kucoin", "pancakeswap", quoteA, quoteB, standardFees())
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}

	aToB := result.AToB
	if aToB.Buy != "kucoin" || aToB.Sell != "pancakeswap" {
		t.Fatalf("方向标注不正确: %s -> %s", aToB.Buy, aToB.Sell)
	}
	if !aToB.BuyFee.Equal(dec("1")) {
		t.Fatalf("买入手续费应为 1, 实际 %s", aToB.BuyFee)
	}
	if !aToB.SellFee.Equal(dec("2.625")) {
		t.Fatalf("卖出手续费应为 2.625, 实际 %s", aToB.SellFee)
	}
	// 1050 - 2.625 - 1000 - 1
	if !aToB.Profit.Equal(dec("46.375")) {
		t.Fatalf("净利润应为 46.375, 实际 %s", aToB.Profit)
	}
	// 46.375 / 1001 * 100
	if aToB.ProfitPct.StringFixed(4) != "4.6329" {
		t.Fatalf("利润率应约为 4.6329, 实际 %s", aToB.ProfitPct.StringFixed(4))
	}
}

func TestEvaluateNegativeProfitIsValid(t *testing.T) {
	quoteA := quoteWith("1000", "1000")
	quoteB := quoteWith("1050", "1050")

	result, err := Evaluate("kucoin", "pancakeswap", quoteA, quoteB, standardFees())
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}

	bToA := result.BToA
	// 1000 - 1 - 1050 - 2.625
	if !bToA.Profit.Equal(dec("-53.625")) {
		t.Fatalf("反向净利润应为 -53.625, 实际 %s", bToA.Profit)
	}
	if bToA.ProfitPct.Sign() >= 0 {
		t.Fatalf("反向利润率应为负, 实际 %s", bToA.ProfitPct)
	}
}

func TestEvaluateTransferFeeShrinksRevenue(t *testing.T) {
	quoteA := quoteWith("1000", "1000")
	quoteB := quoteWith("1050", "1050")
	fees := standardFees()
	fees.TransferFee = dec("0.001")

	result, err := Evaluate("kucoin", "pancakeswap", quoteA, quoteB, fees)
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}

	// 1050 * 0.999 = 1048.95; 手续费 2.622375
	if !result.AToB.SellRevenue.Equal(dec("1048.95")) {
		t.Fatalf("转账损耗后的卖出收入应为 1048.95, 实际 %s", result.AToB.SellRevenue)
	}
	if !result.AToB.Profit.Equal(dec("45.327625")) {
		t.Fatalf("净利润应为 45.327625, 实际 %s", result.AToB.Profit)
	}
}

func TestEvaluateZeroCostBasis(t *testing.T) {
	quoteA := quoteWith("0", "0")
	quoteB := quoteWith("1050", "1050")

	_, err := Evaluate("kucoin", "pancakeswap", quoteA, quoteB, standardFees())
	if !errors.Is(err, ErrDegenerateInput) {
		t.Fatalf("零成本应返回 ErrDegenerateInput, 实际 %v", err)
	}
}

func TestEvaluateStepOrder(t *testing.T) {
	quoteA := quoteWith("1000", "1000")
	quoteB := quoteWith("1050", "1050")

	result, err := Evaluate("kucoin", "pancakeswap", quoteA, quoteB, standardFees())
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}

	steps := result.AToB.Steps
	if len(steps) != 5 {
		t.Fatalf("应有 5 条明细, 实际 %d", len(steps))
	}
	prefixes := []string{"Buy on kucoin", "kucoin fee", "Sell on pancakeswap", "pancakeswap fee", "Net profit"}
	for i, prefix := range prefixes {
		if !strings.HasPrefix(steps[i], prefix) {
			t.Fatalf("明细第 %d 条应以 %q 开头, 实际 %q", i, prefix, steps[i])
		}
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	quoteA := quoteWith("1000", "999")
	quoteB := quoteWith("1050", "1049")
	fees := standardFees()

	first, err := Evaluate("kucoin", "pancakeswap", quoteA, quoteB, fees)
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	second, err := Evaluate("kucoin", "pancakeswap", quoteA, quoteB, fees)
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}

	if !first.AToB.Profit.Equal(second.AToB.Profit) || !first.BToA.Profit.Equal(second.BToA.Profit) {
		t.Fatal("相同输入应产生相同利润")
	}
}
