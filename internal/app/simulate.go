package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"polswatch/internal/market"
	"polswatch/internal/service"
)

// SimulateAlert 通过给定的两个现货价格模拟一次完整的评估与告警流程。
func (a *App) SimulateAlert(ctx context.Context, kucoinSpot, pancakeSpot decimal.Decimal) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	kucoin := &staticVenue{name: "kucoin", spot: kucoinSpot}
	pancake := &staticVenue{name: "pancakeswap", spot: pancakeSpot}

	svc := service.New(a.Config, nil, kucoin, pancake, a.newSettings(), nil, nil, nil, notifier, a.Logger)

	return svc.ProcessCycle(ctx, time.Now().UTC().Truncate(a.Config.Scheduler.Interval))
}

// staticVenue fills any size at a single fixed price.
type staticVenue struct {
	name string
	spot decimal.Decimal
}

func (s *staticVenue) Name() string { return s.name }

func (s *staticVenue) Quote(ctx context.Context, size decimal.Decimal) (market.PriceQuote, error) {
	notional := s.spot.Mul(size)
	return market.PriceQuote{
		Spot:        s.spot,
		BuyPrice:    s.spot,
		SellPrice:   s.spot,
		BuyCost:     notional,
		SellRevenue: notional,
		CapturedAt:  time.Now().UTC(),
	}, nil
}

func (s *staticVenue) Balance(ctx context.Context, quote market.PriceQuote) (market.BalanceSnapshot, error) {
	return market.BalanceSnapshot{}, nil
}

func (s *staticVenue) CreateMarketOrder(ctx context.Context, side string, size decimal.Decimal) (string, error) {
	return "", errors.New("simulated venue cannot place orders")
}

func (s *staticVenue) CreateLimitOrder(ctx context.Context, side string, size, price decimal.Decimal) (string, error) {
	return "", errors.New("simulated venue cannot place orders")
}

var _ market.Trader = (*staticVenue)(nil)
