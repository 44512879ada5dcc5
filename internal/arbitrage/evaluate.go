// Package arbitrage computes round-trip profitability between two venues and
// decides when an opportunity is worth surfacing.
package arbitrage

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"polswatch/internal/market"
)

// ErrDegenerateInput indicates a zero cost basis, which makes the profit
// percentage undefined.
var ErrDegenerateInput = errors.New("arbitrage: zero cost basis")

// Fees carries the per-venue fee rates and the inter-venue transfer loss
// factor, all as fractions in [0,1).
type Fees struct {
	FeeA        decimal.Decimal
	FeeB        decimal.Decimal
	TransferFee decimal.Decimal
}

// Direction is the outcome of one leg ordering: buy on Buy, sell on Sell.
// Steps is the itemized breakdown in the fixed order consumers format by:
// buy cost, buy fee, sell revenue, sell fee, net profit.
type Direction struct {
	Buy         string
	Sell        string
	BuyCost     decimal.Decimal
	BuyFee      decimal.Decimal
	SellRevenue decimal.Decimal
	SellFee     decimal.Decimal
	Profit      decimal.Decimal
	ProfitPct   decimal.Decimal
	Steps       []string
}

// Result holds both directions of a single evaluation cycle.
type Result struct {
	AToB        Direction
	BToA        Direction
	EvaluatedAt time.Time
}

// Evaluate computes round-trip profit in both directions from one pair of
// quotes. Fees apply to each leg before differencing; the profit percentage
// divides by the total capital deployed (gross buy cost plus buy fee), not
// the nominal cost. Negative profit is a valid result, not an error.
func Evaluate(nameA, nameB string, quoteA, quoteB market.PriceQuote, fees Fees) (Result, error) {
	aToB, err := evaluateDirection(nameA, nameB, quoteA, quoteB, fees.FeeA, fees.FeeB, fees.TransferFee)
	if err != nil {
		return Result{}, err
	}
	bToA, err := evaluateDirection(nameB, nameA, quoteB, quoteA, fees.FeeB, fees.FeeA, fees.TransferFee)
	if err != nil {
		return Result{}, err
	}

	return Result{AToB: aToB, BToA: bToA, EvaluatedAt: time.Now().UTC()}, nil
}

func evaluateDirection(buyVenue, sellVenue string, buyQuote, sellQuote market.PriceQuote, buyFeeRate, sellFeeRate, transferFee decimal.Decimal) (Direction, error) {
	one := decimal.NewFromInt(1)

	buyCost := buyQuote.BuyCost
	buyFee := buyCost.Mul(buyFeeRate)

	// Transfer loss shrinks the quantity arriving at the sell venue, which
	// scales the gross revenue linearly.
	sellRevenue := sellQuote.SellRevenue.Mul(one.Sub(transferFee))
	sellFee := sellRevenue.Mul(sellFeeRate)

	profit := sellRevenue.Sub(sellFee).Sub(buyCost).Sub(buyFee)

	deployed := buyCost.Add(buyFee)
	if deployed.IsZero() {
		return Direction{}, fmt.Errorf("%w: direction %s->%s", ErrDegenerateInput, buyVenue, sellVenue)
	}
	profitPct := profit.Div(deployed).Mul(decimal.NewFromInt(100))

	dir := Direction{
		Buy:         buyVenue,
		Sell:        sellVenue,
		BuyCost:     buyCost,
		BuyFee:      buyFee,
		SellRevenue: sellRevenue,
		SellFee:     sellFee,
		Profit:      profit,
		ProfitPct:   profitPct,
	}
	dir.Steps = []string{
		fmt.Sprintf("Buy on %s: %s USDT", buyVenue, buyCost.StringFixed(2)),
		fmt.Sprintf("%s fee: %s USDT", buyVenue, buyFee.StringFixed(2)),
		fmt.Sprintf("Sell on %s: %s USDT", sellVenue, sellRevenue.StringFixed(2)),
		fmt.Sprintf("%s fee: %s USDT", sellVenue, sellFee.StringFixed(2)),
		fmt.Sprintf("Net profit: %s USDT (%s%%)", profit.StringFixed(2), profitPct.StringFixed(2)),
	}
	return dir, nil
}
