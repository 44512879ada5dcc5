package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"polswatch/internal/arbitrage"
	"polswatch/internal/market"
	"polswatch/internal/strategy"
)

// RenderArbitrageAlert formats a qualifying detection. Each direction's lines
// follow the itemized step order the evaluator guarantees.
func RenderArbitrageAlert(alert *arbitrage.Alert, tradeSize decimal.Decimal) string {
	b := strings.Builder{}
	b.WriteString("🚨 <b>Arbitrage opportunity detected!</b>\n")
	b.WriteString(fmt.Sprintf("Trade size: %s POLS, threshold %s%%\n", tradeSize.String(), alert.ThresholdPct.StringFixed(2)))
	for _, dir := range alert.Directions {
		b.WriteString(fmt.Sprintf("\n🔄 <b>%s ➡️ %s</b>\n", dir.Buy, dir.Sell))
		for _, step := range dir.Steps {
			b.WriteString("• " + step + "\n")
		}
	}
	return b.String()
}

// RenderBreakdown formats both directions of an evaluation regardless of
// profitability, for the on-demand /arbitrage command.
func RenderBreakdown(result arbitrage.Result, tradeSize decimal.Decimal) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("📈 <b>Arbitrage breakdown for %s POLS</b>\n", tradeSize.String()))
	for _, dir := range []arbitrage.Direction{result.AToB, result.BToA} {
		b.WriteString(fmt.Sprintf("\n🔄 <b>%s ➡️ %s</b>\n", dir.Buy, dir.Sell))
		for _, step := range dir.Steps {
			b.WriteString("• " + step + "\n")
		}
	}
	return b.String()
}

// RenderVenueReport formats one venue's prices and balances.
func RenderVenueReport(venue string, tradeSize decimal.Decimal, quote market.PriceQuote, balance market.BalanceSnapshot) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("🏦 <b>%s</b>\n\n", venue))
	b.WriteString("💰 <b>Prices</b>\n")
	b.WriteString(fmt.Sprintf("• Spot: <code>%s</code> USDT\n", quote.Spot.StringFixed(4)))
	b.WriteString(fmt.Sprintf("• Buy (%s POLS): <code>%s</code> USDT (total <code>%s</code>)\n",
		tradeSize.String(), quote.BuyPrice.StringFixed(4), quote.BuyCost.StringFixed(2)))
	b.WriteString(fmt.Sprintf("• Sell (%s POLS): <code>%s</code> USDT (total <code>%s</code>)\n",
		tradeSize.String(), quote.SellPrice.StringFixed(4), quote.SellRevenue.StringFixed(2)))
	b.WriteString("\n💼 <b>Balances</b>\n")
	b.WriteString(fmt.Sprintf("• POLS free: <code>%s</code>\n", balance.BaseFree.StringFixed(4)))
	b.WriteString(fmt.Sprintf("• POLS locked: <code>%s</code>\n", balance.BaseLocked.StringFixed(4)))
	b.WriteString(fmt.Sprintf("• USDT free: <code>%s</code>\n", balance.QuoteFree.StringFixed(2)))
	b.WriteString(fmt.Sprintf("• USDT locked: <code>%s</code>\n", balance.QuoteLocked.StringFixed(2)))
	b.WriteString(fmt.Sprintf("• POLS value: <code>%s</code> USDT\n", balance.BaseValueQuote.StringFixed(2)))
	return b.String()
}

// RenderFullReport stitches both venue reports under a dated header.
func RenderFullReport(at time.Time, sections ...string) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("📈 <b>Exchange report</b> - %s\n\n", at.UTC().Format("2006-01-02 15:04:05")))
	b.WriteString(strings.Join(sections, "\n\n"))
	return b.String()
}

// RenderStrategyEvent formats the two strategy transitions.
func RenderStrategyEvent(event *strategy.Event) string {
	switch event.Kind {
	case strategy.EventArmed:
		return fmt.Sprintf(
			"🚀 <b>Breakout detected!</b>\n\n"+
				"• Current price: %s USDT\n"+
				"• Moving average: %s USDT\n"+
				"• Increase: %s%%\n\n"+
				"Price monitoring armed...",
			event.Price.StringFixed(4),
			event.MovingAverage.StringFixed(4),
			event.IncreasePct.StringFixed(2),
		)
	case strategy.EventOrderPlaced:
		return fmt.Sprintf(
			"🛑 <b>Limit order placed</b>\n\n"+
				"• Current price: %s USDT\n"+
				"• Highest price: %s USDT\n"+
				"• Drop detected: %s%%\n"+
				"• Order price: %s USDT\n"+
				"• Quantity: %s POLS\n"+
				"• Order ID: %s",
			event.Price.StringFixed(4),
			event.HighestPrice.StringFixed(4),
			event.DropPct.StringFixed(2),
			event.LimitPrice.StringFixed(4),
			event.OrderSize.String(),
			event.OrderID,
		)
	}
	return ""
}

// RenderError formats a background-loop failure for best-effort delivery.
func RenderError(err error) string {
	return fmt.Sprintf("❌ Error during monitoring: %v", err)
}
