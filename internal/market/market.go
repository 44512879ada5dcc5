package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is an immutable depth-aware price snapshot for a fixed trade
// size. BuyPrice and SellPrice are volume-weighted averages for fully filling
// that size; Spot is the top-of-book (or mid) price undiscounted by size.
type PriceQuote struct {
	Spot        decimal.Decimal
	BuyPrice    decimal.Decimal
	SellPrice   decimal.Decimal
	BuyCost     decimal.Decimal
	SellRevenue decimal.Decimal
	CapturedAt  time.Time
}

// BalanceSnapshot reports free and locked holdings of the traded pair.
// BaseValueQuote is derived from the spot price of the quote passed to
// Balance so valuation and pricing come from the same observation.
type BalanceSnapshot struct {
	BaseFree       decimal.Decimal
	BaseLocked     decimal.Decimal
	QuoteFree      decimal.Decimal
	QuoteLocked    decimal.Decimal
	BaseValueQuote decimal.Decimal
}

// Venue is a read-only price and balance source.
type Venue interface {
	Name() string
	Quote(ctx context.Context, size decimal.Decimal) (PriceQuote, error)
	Balance(ctx context.Context, quote PriceQuote) (BalanceSnapshot, error)
}

// Trader extends Venue with order placement.
type Trader interface {
	Venue
	CreateMarketOrder(ctx context.Context, side string, size decimal.Decimal) (string, error)
	CreateLimitOrder(ctx context.Context, side string, size, price decimal.Decimal) (string, error)
}

// InsufficientLiquidityError reports visible depth below the requested size.
type InsufficientLiquidityError struct {
	Venue     string
	Side      string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("%s: insufficient %s liquidity: requested %s, available %s",
		e.Venue, e.Side, e.Requested.String(), e.Available.String())
}

// InsufficientBalanceError reports a trade exceeding available funds.
type InsufficientBalanceError struct {
	Asset string
	Have  decimal.Decimal
	Need  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %s, need %s",
		e.Asset, e.Have.StringFixed(4), e.Need.StringFixed(4))
}
