package market

import (
	"github.com/shopspring/decimal"
)

// BookLevel is one price level of an order book ladder.
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook holds the visible ladder. Bids are expected best-first
// (descending price), asks best-first (ascending price).
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// fillLadder walks the ladder accumulating quantity until size is filled and
// returns the total quote amount plus the quantity actually filled. A buy
// walks asks, a sell walks bids; the caller picks the side.
func fillLadder(levels []BookLevel, size decimal.Decimal) (total, filled decimal.Decimal) {
	remaining := size
	for _, level := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		take := level.Quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		total = total.Add(level.Price.Mul(take))
		remaining = remaining.Sub(take)
	}
	return total, size.Sub(remaining)
}
