package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polswatch/internal/alerting"
	"polswatch/internal/bot"
	"polswatch/internal/config"
	"polswatch/internal/market"
	"polswatch/internal/scheduler"
	"polswatch/internal/service"
	"polswatch/internal/settings"
	"polswatch/internal/storage"
	"polswatch/internal/strategy"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newVenues() (*market.KuCoin, *market.Pancake, error) {
	kucoin := market.NewKuCoin(market.KuCoinOptions{
		BaseURL:       a.Config.KuCoin.BaseURL,
		APIKey:        a.Config.KuCoin.APIKey,
		APISecret:     a.Config.KuCoin.APISecret,
		APIPassphrase: a.Config.KuCoin.APIPassphrase,
		Symbol:        a.Config.KuCoin.Symbol,
		BaseCurrency:  a.Config.KuCoin.BaseCurrency,
		QuoteCurrency: a.Config.KuCoin.QuoteCurrency,
		Fee:           a.Config.KuCoin.Fee,
		Timeout:       a.Config.KuCoin.RequestTimeout,
	}, a.Logger)

	pancake, err := market.NewPancake(market.PancakeOptions{
		RPCURL:        a.Config.Pancake.RPCURL,
		RouterAddress: a.Config.Pancake.RouterAddress,
		BaseToken:     a.Config.Pancake.BaseToken,
		QuoteToken:    a.Config.Pancake.QuoteToken,
		WalletAddress: a.Config.Pancake.WalletAddress,
		PrivateKey:    a.Config.Pancake.PrivateKey,
		Slippage:      decimal.NewFromFloat(a.Config.Pancake.Slippage),
		GasLimit:      a.Config.Pancake.GasLimit,
		Timeout:       a.Config.Pancake.RequestTimeout,
	}, a.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build pancake venue: %w", err)
	}

	return kucoin, pancake, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Telegram.Enabled {
		cfg := a.Config.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newSettings() *settings.Settings {
	return settings.New(
		decimal.NewFromFloat(a.Config.Trading.TradeSize),
		decimal.NewFromFloat(a.Config.Trading.ThresholdPct),
	)
}

func (a *App) newStrategy() *strategy.Strategy {
	if !a.Config.Strategy.Enabled {
		return nil
	}
	cfg := a.Config.Strategy
	return strategy.New(strategy.Config{
		MAPeriod:               cfg.MAPeriod,
		HistorySize:            cfg.HistorySize,
		PriceIncreaseThreshold: decimal.NewFromFloat(cfg.PriceIncreaseThreshold),
		DropThreshold:          decimal.NewFromFloat(cfg.DropThreshold),
		LimitOrderOffset:       decimal.NewFromFloat(cfg.LimitOrderOffset),
		OrderSize:              decimal.NewFromFloat(cfg.OrderSize),
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service and, when enabled, the
// Telegram command loop alongside it.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	kucoin, pancake, err := a.newVenues()
	if err != nil {
		return err
	}
	notifier := a.newNotifier()
	shared := a.newSettings()
	strat := a.newStrategy()

	var sampleStore storage.CycleSampleStore
	var alertStore storage.AlertStore
	if store != nil {
		sampleStore = store
		alertStore = store
	}

	svc := service.New(a.Config, sched, kucoin, pancake, shared, strat, sampleStore, alertStore, notifier, a.Logger)

	if notifier != nil {
		a.notifyLifecycle(ctx, notifier, "🚀 polswatch 已启动")
		defer a.notifyLifecycle(context.Background(), notifier, "🛑 polswatch 已停止")
	}

	botDone := make(chan error, 1)
	if a.Config.Telegram.Enabled && a.Config.Telegram.Commands {
		commandBot := bot.New(a.Config.Telegram, shared, svc, []string{kucoin.Name(), pancake.Name()}, a.Logger)
		go func() {
			botDone <- commandBot.Run(ctx)
		}()
	} else {
		close(botDone)
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)

	cancel()
	if botErr := <-botDone; botErr != nil && !errors.Is(botErr, context.Canceled) {
		a.Logger.Error().Err(botErr).Msg("telegram command loop terminated with error")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) notifyLifecycle(ctx context.Context, notifier alerting.Notifier, text string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := notifier.Notify(ctx, text); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to send lifecycle notification")
	}
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}
