package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polswatch/internal/alerting"
	"polswatch/internal/arbitrage"
	"polswatch/internal/config"
	"polswatch/internal/market"
	"polswatch/internal/scheduler"
	"polswatch/internal/settings"
	"polswatch/internal/storage"
	"polswatch/internal/strategy"
)

// Service orchestrates quoting, evaluation, alerting, and the strategy tick.
type Service struct {
	scheduler  *scheduler.Scheduler
	kucoin     market.Trader
	pancake    market.Venue
	settings   *settings.Settings
	strat      *strategy.Strategy
	store      storage.CycleSampleStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	fees           arbitrage.Fees
	locker         storage.AdvisoryLocker
	lockKey        int64
	alertRetention time.Duration
}

// New constructs the monitoring service. The strategy may be nil when
// disabled; stores and notifier may be nil when unconfigured.
func New(cfg *config.Config, sched *scheduler.Scheduler, kucoin market.Trader, pancake market.Venue, shared *settings.Settings, strat *strategy.Strategy, store storage.CycleSampleStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		kucoin:     kucoin,
		pancake:    pancake,
		settings:   shared,
		strat:      strat,
		store:      store,
		alertStore: alertStore,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		fees: arbitrage.Fees{
			FeeA:        decimal.NewFromFloat(cfg.KuCoin.Fee),
			FeeB:        decimal.NewFromFloat(cfg.Pancake.Fee),
			TransferFee: decimal.NewFromFloat(cfg.Trading.TransferFee),
		},
		locker:         locker,
		lockKey:        cfg.Scheduler.AdvisoryLockKey,
		alertRetention: cfg.Database.AlertRetention,
	}
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle 执行单个轮询周期。A cycle failure is notified best-effort and
// returned for logging; it never propagates past the scheduler.
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.executeCycle(ctx, at); err != nil {
		s.persistErroredSample(ctx, at, err)
		s.notifyError(ctx, err)
		return err
	}
	return nil
}

func (s *Service) executeCycle(ctx context.Context, at time.Time) error {
	tradeSize, threshold := s.settings.View()

	kucoinQuote, err := s.kucoin.Quote(ctx, tradeSize)
	if err != nil {
		return fmt.Errorf("fetch kucoin quote: %w", err)
	}
	pancakeQuote, err := s.pancake.Quote(ctx, tradeSize)
	if err != nil {
		return fmt.Errorf("fetch pancake quote: %w", err)
	}

	result, err := arbitrage.Evaluate(s.kucoin.Name(), s.pancake.Name(), kucoinQuote, pancakeQuote, s.fees)
	if err != nil {
		return fmt.Errorf("evaluate arbitrage: %w", err)
	}

	s.persistSample(ctx, at, tradeSize, kucoinQuote, pancakeQuote, result)

	s.logger.Info().Time("cycle", at).
		Str("kucoin_spot", kucoinQuote.Spot.String()).
		Str("pancake_spot", pancakeQuote.Spot.String()).
		Str("profit_pct_k_to_p", result.AToB.ProfitPct.StringFixed(4)).
		Str("profit_pct_p_to_k", result.BToA.ProfitPct.StringFixed(4)).
		Msg("cycle evaluated")

	if alert := arbitrage.Check(result, threshold); alert != nil {
		s.dispatchAlert(ctx, at, tradeSize, alert)
	}

	// Strategy errors skip only the tick, not the cycle that produced them.
	if s.strat != nil {
		event, tickErr := s.strat.Tick(ctx, kucoinQuote, s.kucoin)
		if tickErr != nil {
			s.logger.Error().Err(tickErr).Time("cycle", at).Msg("strategy tick failed, state unchanged")
			s.notifyError(ctx, tickErr)
		} else if event != nil {
			s.notify(ctx, alerting.RenderStrategyEvent(event))
		}
	}

	return nil
}

func (s *Service) dispatchAlert(ctx context.Context, at time.Time, tradeSize decimal.Decimal, alert *arbitrage.Alert) {
	if s.alertStore != nil {
		for _, dir := range alert.Directions {
			record := storage.AlertRecord{
				CycleTS:      at,
				Direction:    fmt.Sprintf("%s->%s", dir.Buy, dir.Sell),
				ProfitPct:    dir.ProfitPct,
				ThresholdPct: alert.ThresholdPct,
			}
			if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
				s.logger.Error().Err(err).Time("cycle", at).Msg("failed to persist alert record")
			}
		}
		if s.alertRetention > 0 {
			cutoff := time.Now().UTC().Add(-s.alertRetention)
			if n, err := s.alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
				s.logger.Error().Err(err).Msg("failed to prune old alerts")
			} else if n > 0 {
				s.logger.Debug().Int64("pruned", n).Time("cutoff", cutoff).Msg("pruned old alerts")
			}
		}
	}
	s.notify(ctx, alerting.RenderArbitrageAlert(alert, tradeSize))
}

func (s *Service) persistSample(ctx context.Context, at time.Time, tradeSize decimal.Decimal, kucoinQuote, pancakeQuote market.PriceQuote, result arbitrage.Result) {
	if s.store == nil {
		return
	}
	sample := storage.CycleSample{
		CycleTS:       at,
		KucoinSpot:    kucoinQuote.Spot,
		PancakeSpot:   pancakeQuote.Spot,
		TradeSize:     tradeSize,
		ProfitKtoP:    result.AToB.Profit,
		ProfitPctKtoP: result.AToB.ProfitPct,
		ProfitPtoK:    result.BToA.Profit,
		ProfitPctPtoK: result.BToA.ProfitPct,
		Status:        "complete",
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.UpsertCycleSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Time("cycle", at).Msg("failed to upsert sample")
	}
}

// persistErroredSample 记录失败周期，price 列保持零值。Errors here only log;
// the cycle failure itself is what gets surfaced.
func (s *Service) persistErroredSample(ctx context.Context, at time.Time, cause error) {
	if s.store == nil || errors.Is(cause, context.Canceled) {
		return
	}
	msg := cause.Error()
	sample := storage.CycleSample{
		CycleTS:   at,
		TradeSize: s.settings.TradeSize(),
		Status:    "errored",
		Error:     &msg,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertCycleSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Time("cycle", at).Msg("failed to record errored sample")
	}
}

// Breakdown evaluates both directions on demand with the current settings.
func (s *Service) Breakdown(ctx context.Context) (string, error) {
	tradeSize, _ := s.settings.View()

	kucoinQuote, err := s.kucoin.Quote(ctx, tradeSize)
	if err != nil {
		return "", fmt.Errorf("fetch kucoin quote: %w", err)
	}
	pancakeQuote, err := s.pancake.Quote(ctx, tradeSize)
	if err != nil {
		return "", fmt.Errorf("fetch pancake quote: %w", err)
	}

	result, err := arbitrage.Evaluate(s.kucoin.Name(), s.pancake.Name(), kucoinQuote, pancakeQuote, s.fees)
	if err != nil {
		return "", err
	}
	return alerting.RenderBreakdown(result, tradeSize), nil
}

// Report renders prices and balances of both venues.
func (s *Service) Report(ctx context.Context) (string, error) {
	tradeSize, _ := s.settings.View()

	sections := make([]string, 0, 2)
	for _, venue := range []market.Venue{s.kucoin, s.pancake} {
		quote, err := venue.Quote(ctx, tradeSize)
		if err != nil {
			return "", fmt.Errorf("%s quote: %w", venue.Name(), err)
		}
		balance, err := venue.Balance(ctx, quote)
		if err != nil {
			return "", fmt.Errorf("%s balance: %w", venue.Name(), err)
		}
		sections = append(sections, alerting.RenderVenueReport(venue.Name(), tradeSize, quote, balance))
	}

	return alerting.RenderFullReport(time.Now(), sections...), nil
}

// PlaceMarketOrder routes an on-demand trade to the named venue. Venue names
// match case-insensitively because they arrive as user text. The KuCoin
// adapter checks balances before dispatch; balance figures may be up to one
// polling interval stale, which callers tolerate.
func (s *Service) PlaceMarketOrder(ctx context.Context, venueName, side string, size decimal.Decimal) (string, error) {
	var trader market.Trader
	switch {
	case strings.EqualFold(venueName, s.kucoin.Name()):
		trader = s.kucoin
	case strings.EqualFold(venueName, s.pancake.Name()):
		t, ok := s.pancake.(market.Trader)
		if !ok {
			return "", fmt.Errorf("venue %s cannot place orders", venueName)
		}
		trader = t
	default:
		return "", fmt.Errorf("unknown venue %q", venueName)
	}
	return trader.CreateMarketOrder(ctx, side, size)
}

// orderManager is the order-book venue's order admin surface; the AMM venue
// has no open orders to manage.
type orderManager interface {
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (market.OrderDetails, error)
}

// CancelOrder cancels an open order on the order-book venue.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	mgr, ok := s.kucoin.(orderManager)
	if !ok {
		return fmt.Errorf("venue %s cannot manage orders", s.kucoin.Name())
	}
	return mgr.CancelOrder(ctx, orderID)
}

// OrderStatus fetches the state of a placed order on the order-book venue.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (market.OrderDetails, error) {
	mgr, ok := s.kucoin.(orderManager)
	if !ok {
		return market.OrderDetails{}, fmt.Errorf("venue %s cannot manage orders", s.kucoin.Name())
	}
	return mgr.GetOrder(ctx, orderID)
}

func (s *Service) notify(ctx context.Context, text string) {
	if s.notifier == nil || text == "" {
		return
	}
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch notification")
	}
}

func (s *Service) notifyError(ctx context.Context, cause error) {
	if errors.Is(cause, context.Canceled) {
		return
	}
	s.notify(ctx, alerting.RenderError(cause))
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
