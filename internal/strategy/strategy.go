// Package strategy implements the momentum-triggered exit: arm when price
// breaks out above its moving average, then trail the peak and sell a fixed
// size once the market gives back a fraction of the run-up.
package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polswatch/internal/market"
)

// Config tunes the strategy thresholds. Thresholds are fractions (0.10 is
// ten percent), not percentages.
type Config struct {
	MAPeriod               int
	HistorySize            int
	PriceIncreaseThreshold decimal.Decimal
	DropThreshold          decimal.Decimal
	LimitOrderOffset       decimal.Decimal
	OrderSize              decimal.Decimal
}

// EventKind discriminates strategy events.
type EventKind int

const (
	// EventArmed fires on the Idle -> Monitoring transition.
	EventArmed EventKind = iota
	// EventOrderPlaced fires when the protective limit sell was dispatched.
	EventOrderPlaced
)

// Event reports a state transition worth notifying about.
type Event struct {
	Kind          EventKind
	Price         decimal.Decimal
	MovingAverage decimal.Decimal
	IncreasePct   decimal.Decimal
	HighestPrice  decimal.Decimal
	DropPct       decimal.Decimal
	LimitPrice    decimal.Decimal
	OrderSize     decimal.Decimal
	OrderID       string
}

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

// Strategy holds the rolling price history and the two-state machine. It is
// written only by the polling goroutine.
type Strategy struct {
	cfg    Config
	logger zerolog.Logger

	// fixed-capacity ring; head is the next write slot
	history []pricePoint
	head    int
	count   int

	monitoring bool
	highest    decimal.Decimal
}

// New constructs an idle strategy.
func New(cfg Config, logger zerolog.Logger) *Strategy {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.MAPeriod <= 0 {
		cfg.MAPeriod = 10
	}
	return &Strategy{
		cfg:     cfg,
		logger:  logger.With().Str("component", "strategy").Logger(),
		history: make([]pricePoint, cfg.HistorySize),
	}
}

// Monitoring reports whether the strategy is armed.
func (s *Strategy) Monitoring() bool { return s.monitoring }

// HighestPrice returns the tracked peak; only meaningful while Monitoring.
func (s *Strategy) HighestPrice() decimal.Decimal { return s.highest }

// HistoryLen returns the number of buffered prices.
func (s *Strategy) HistoryLen() int { return s.count }

func (s *Strategy) append(at time.Time, price decimal.Decimal) {
	s.history[s.head] = pricePoint{at: at, price: price}
	s.head = (s.head + 1) % len(s.history)
	if s.count < len(s.history) {
		s.count++
	}
}

// movingAverageWith computes the SMA over the most recent MAPeriod-1 buffered
// prices plus the candidate price, mirroring an append-then-average window.
// Returns false until enough history exists.
func (s *Strategy) movingAverageWith(price decimal.Decimal) (decimal.Decimal, bool) {
	if s.count+1 < s.cfg.MAPeriod {
		return decimal.Decimal{}, false
	}

	sum := price
	idx := s.head
	for i := 0; i < s.cfg.MAPeriod-1; i++ {
		idx--
		if idx < 0 {
			idx = len(s.history) - 1
		}
		sum = sum.Add(s.history[idx].price)
	}
	return sum.Div(decimal.NewFromInt(int64(s.cfg.MAPeriod))), true
}

// Tick advances the state machine with a fresh quote. Any trader error is
// returned before any state mutation, so a failed tick leaves the state
// exactly as it was. A nil event means no transition happened.
func (s *Strategy) Tick(ctx context.Context, quote market.PriceQuote, trader market.Trader) (*Event, error) {
	price := quote.Spot
	now := quote.CapturedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if !s.monitoring {
		event := s.maybeArm(price)
		s.append(now, price)
		return event, nil
	}

	peak := s.highest
	if price.GreaterThan(peak) {
		peak = price
	}
	drop := peak.Sub(price).Div(peak)

	if drop.LessThan(s.cfg.DropThreshold) {
		s.highest = peak
		s.append(now, price)
		return nil, nil
	}

	// Exit trigger. The balance check and order placement run before any
	// mutation so a transport failure keeps the drop catchable on retry.
	balance, err := trader.Balance(ctx, quote)
	if err != nil {
		return nil, err
	}
	if balance.BaseFree.LessThan(s.cfg.OrderSize) {
		s.logger.Warn().
			Str("free", balance.BaseFree.StringFixed(4)).
			Str("order_size", s.cfg.OrderSize.String()).
			Msg("insufficient balance for exit order, staying in monitoring")
		s.highest = peak
		s.append(now, price)
		return nil, nil
	}

	limitPrice := price.Mul(decimal.NewFromInt(1).Sub(s.cfg.LimitOrderOffset))
	orderID, err := trader.CreateLimitOrder(ctx, "sell", s.cfg.OrderSize, limitPrice)
	if err != nil {
		return nil, err
	}

	dropPct := drop.Mul(decimal.NewFromInt(100))
	s.append(now, price)
	s.monitoring = false
	s.highest = decimal.Decimal{}
	s.logger.Info().Str("order_id", orderID).Str("limit_price", limitPrice.StringFixed(4)).Msg("exit order placed")

	return &Event{
		Kind:         EventOrderPlaced,
		Price:        price,
		HighestPrice: peak,
		DropPct:      dropPct,
		LimitPrice:   limitPrice,
		OrderSize:    s.cfg.OrderSize,
		OrderID:      orderID,
	}, nil
}

// maybeArm checks the breakout condition against the moving average and
// returns an armed event when it fires. Peak tracking starts at the current
// price.
func (s *Strategy) maybeArm(price decimal.Decimal) *Event {
	ma, ok := s.movingAverageWith(price)
	if !ok || ma.Sign() <= 0 {
		return nil
	}

	increase := price.Sub(ma).Div(ma)
	if increase.LessThanOrEqual(s.cfg.PriceIncreaseThreshold) {
		return nil
	}

	s.monitoring = true
	s.highest = price
	s.logger.Info().
		Str("price", price.StringFixed(4)).
		Str("ma", ma.StringFixed(4)).
		Msg("breakout detected, monitoring armed")

	return &Event{
		Kind:          EventArmed,
		Price:         price,
		MovingAverage: ma,
		IncreasePct:   increase.Mul(decimal.NewFromInt(100)),
		HighestPrice:  price,
	}
}
