// File: internal/bot/bot.go
// ============================================
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"xtrader/internal/binance"
	"xtrader/internal/logging"
	"xtrader/internal/metrics"
	"xtrader/internal/order"
	"xtrader/internal/recovery"
	"xtrader/internal/risk"
	"xtrader/internal/strategy"
	"xtrader/pkg/types"
)

var (
	ErrCycleFailed     = errors.New("trading cycle failed")
	ErrTooManyFailures = errors.New("too many consecutive failed cycles")
	errCyclePanic      = errors.New("panic in trading cycle")
)

// MarketData supplies closed bars for a symbol.
type MarketData interface {
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error)
}

// Account is the exchange account view the bot reconciles against.
type Account interface {
	recovery.Account
	PrepareSymbol(ctx context.Context, symbol string, leverage int) error
}

// Executor is the order manager surface driven by the bot.
type Executor interface {
	recovery.Tracker
	Execute(ctx context.Context, sig types.Signal) (order.Outcome, error)
	Balance(ctx context.Context) float64
	TradeHistory() []types.TradeRecord
	OpenOrders() []types.ManagedOrder
	Shutdown(ctx context.Context) error
}

// History is the long-term trade archive used when no snapshot is fresh.
type History interface {
	Recent(ctx context.Context, limit int) ([]types.TradeRecord, error)
}

// SignalSource turns a feature series into at most one signal.
type SignalSource interface {
	Generate(series []types.FeatureRow, symbol string, balance float64, history []types.TradeRecord) (*types.Signal, string)
}

type ResourceGuard interface {
	Check(ctx context.Context) error
}

type Notifier interface {
	Notify(msg string)
	NotifyStart(cfg *types.Config)
	NotifyStopped(reason string)
	NotifyRecovered(orders, trades, positions int, discrepancies string)
	NotifyDailyReport(day time.Time, trades int, dailyPnL float64, openOrders int)
	NotifyError(msg string)
}

// Deps are the collaborators a Bot drives. Journal and Guard are optional.
type Deps struct {
	Market   MarketData
	Account  Account
	Orders   Executor
	Store    *recovery.Store
	Journal  History
	Guard    ResourceGuard
	Notifier Notifier
}

// Bot runs the trading cycle: data, features, signal, execution, with
// periodic state snapshots in between.
type Bot struct {
	config  *types.Config
	deps    Deps
	signals SignalSource
	risk    *risk.Manager
	symbols []string
	log     *logrus.Entry
	now     func() time.Time

	lastSave time.Time
	failures int
}

func New(config *types.Config, deps Deps) *Bot {
	symbols := make([]string, 0, len(config.Symbols))
	for s := range config.Symbols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	return &Bot{
		config:  config,
		deps:    deps,
		signals: strategy.NewGenerator(config),
		risk:    risk.NewManager(config),
		symbols: symbols,
		log:     logging.For("bot"),
		now:     time.Now,
	}
}

// Risk exposes the account gates for status reporting.
func (b *Bot) Risk() *risk.Manager {
	return b.risk
}

// Start restores state, prepares every symbol on the exchange and announces
// the bot.
func (b *Bot) Start(ctx context.Context) error {
	b.restore(ctx)
	b.risk.SeedDay(b.deps.Orders.TradeHistory(), b.now())

	for _, symbol := range b.symbols {
		if err := b.deps.Account.PrepareSymbol(ctx, symbol, b.config.Trading.Leverage); err != nil {
			return fmt.Errorf("prepare %s: %w", symbol, err)
		}
	}

	b.log.WithFields(logrus.Fields{
		"mode":     b.config.API.TradingType,
		"testnet":  b.config.API.Testnet,
		"symbols":  b.symbols,
		"leverage": b.config.Trading.Leverage,
		"risk":     b.config.Trading.RiskPercent,
	}).Info("🚀 trading bot started")
	b.deps.Notifier.NotifyStart(b.config)
	b.lastSave = b.now()
	return nil
}

func (b *Bot) restore(ctx context.Context) {
	snap, err := b.deps.Store.Load()
	if err != nil {
		b.log.WithError(err).Error("❌ recovery snapshot unreadable")
	}
	if snap != nil {
		report, err := recovery.Recover(ctx, b.deps.Orders, snap, b.deps.Account)
		if err != nil {
			b.log.WithError(err).Warn("⚠️  reconciliation incomplete")
		}
		if report != nil {
			discrepancies := ""
			if !report.Clean() {
				discrepancies = report.String()
			}
			b.deps.Notifier.NotifyRecovered(report.RestoredOrders, report.RestoredTrades, len(report.LivePositions), discrepancies)
		}
		return
	}

	if b.deps.Journal == nil {
		return
	}
	history, err := b.deps.Journal.Recent(ctx, recovery.MaxPersistedTrades)
	if err != nil {
		b.log.WithError(err).Warn("⚠️  journal unavailable, starting with empty history")
		return
	}
	if len(history) > 0 {
		b.deps.Orders.Restore(nil, history)
		b.log.Infof("📚 seeded %d trades from journal", len(history))
	}
}

// Run repeats the trading cycle until ctx is canceled. It returns an
// ErrTooManyFailures-wrapped error once max_consecutive_failures cycles
// in a row have failed.
func (b *Bot) Run(ctx context.Context) error {
	for {
		err := b.safeCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		wait := b.config.System.CycleInterval
		if err != nil {
			b.failures++
			b.log.WithError(err).Errorf("❌ cycle failed (%d/%d)", b.failures, b.config.System.MaxConsecutiveFailures)
			b.deps.Notifier.NotifyError(fmt.Sprintf("Cycle failed (%d/%d): %v", b.failures, b.config.System.MaxConsecutiveFailures, err))
			b.SaveState(ctx)
			if limit := b.config.System.MaxConsecutiveFailures; limit > 0 && b.failures >= limit {
				return fmt.Errorf("%w: %d: %v", ErrTooManyFailures, b.failures, err)
			}
			wait = b.config.System.ErrorCooldown
		} else {
			b.failures = 0
		}

		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func (b *Bot) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("💥 panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%w: %v", errCyclePanic, r)
		}
	}()
	return b.RunCycle(ctx)
}

// RunCycle evaluates every configured symbol once.
func (b *Bot) RunCycle(ctx context.Context) error {
	b.rollover()

	balance := b.deps.Orders.Balance(ctx)
	b.risk.ObserveBalance(balance)
	if ok, reason := b.risk.CanTrade(balance); !ok {
		b.log.Warnf("⏸️  trading paused: %s", reason)
		b.maybeSave(ctx)
		return nil
	}

	dataFailures := 0
	for _, symbol := range b.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		traded, err := b.processSymbol(ctx, symbol, balance)
		if err != nil {
			if !errors.Is(err, binance.ErrInsufficientData) {
				dataFailures++
			}
			continue
		}
		if !traded {
			continue
		}

		if !sleep(ctx, b.config.System.PostTradePause) {
			return ctx.Err()
		}
		balance = b.deps.Orders.Balance(ctx)
		b.risk.ObserveBalance(balance)
		if ok, reason := b.risk.CanTrade(balance); !ok {
			b.log.Warnf("⏸️  trading paused: %s", reason)
			break
		}
	}

	b.maybeSave(ctx)
	if len(b.symbols) > 0 && dataFailures == len(b.symbols) {
		return fmt.Errorf("%w: market data unavailable for all %d symbols", ErrCycleFailed, dataFailures)
	}
	return nil
}

// processSymbol reports whether an order was placed. A non-nil error means
// market data could not be obtained.
func (b *Bot) processSymbol(ctx context.Context, symbol string, balance float64) (bool, error) {
	log := b.log.WithField("symbol", symbol)

	if !b.guardOK(ctx, log) {
		return false, nil
	}
	bars, err := b.deps.Market.GetBars(ctx, symbol, b.config.Trading.TradeInterval, b.config.Trading.KlineLimit)
	if err != nil {
		log.WithError(err).Warn("⚠️  market data unavailable, skipping")
		return false, err
	}

	if !b.guardOK(ctx, log) {
		return false, nil
	}
	series, ok := strategy.ComputeSeries(bars)
	if !ok {
		log.Debugf("not enough bars for features (%d)", len(bars))
		return false, nil
	}
	sig, reason := b.signals.Generate(series, symbol, balance, b.deps.Orders.TradeHistory())
	if sig == nil {
		log.Debugf("no signal: %s", reason)
		return false, nil
	}
	metrics.IncSignal(symbol, string(sig.Strategy))

	if !b.guardOK(ctx, log) {
		return false, nil
	}
	outcome, err := b.deps.Orders.Execute(ctx, *sig)
	if err != nil {
		return false, nil
	}
	b.risk.RecordTrade(types.TradeRecord{
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Size:      sig.Size,
		Price:     sig.Price,
		Timestamp: b.now(),
		Strategy:  sig.Strategy,
	})
	log.WithField("outcome", outcome).Infof("✅ trade %d/%d today", b.risk.DailyTrades(), b.config.Trading.MaxDailyTrades)
	return true, nil
}

func (b *Bot) guardOK(ctx context.Context, log *logrus.Entry) bool {
	if b.deps.Guard == nil {
		return true
	}
	if err := b.deps.Guard.Check(ctx); err != nil {
		log.WithError(err).Warn("🧯 resource guard tripped, skipping")
		return false
	}
	return true
}

func (b *Bot) rollover() {
	trades, pnl := b.risk.DailyTrades(), b.risk.GetDailyPnL()
	now := b.now()
	if !b.risk.Rollover(now) {
		return
	}
	yesterday := now.UTC().AddDate(0, 0, -1)
	b.log.Infof("📅 new trading day, yesterday: %d trades, %.2f USDT", trades, pnl)
	b.deps.Notifier.NotifyDailyReport(yesterday, trades, pnl, len(b.deps.Orders.OpenOrders()))
}

func (b *Bot) maybeSave(ctx context.Context) {
	if b.now().Sub(b.lastSave) < b.config.System.RecoverySaveInterval {
		return
	}
	b.SaveState(ctx)
}

// SaveState writes a snapshot of the local and exchange state.
func (b *Bot) SaveState(ctx context.Context) {
	snap := recovery.Capture(ctx, b.deps.Orders, b.deps.Account, b.config)
	if err := b.deps.Store.Save(ctx, snap); err != nil {
		b.log.WithError(err).Error("❌ state save failed")
		b.deps.Notifier.NotifyError(fmt.Sprintf("State save failed: %v", err))
		return
	}
	b.lastSave = b.now()
}

// Shutdown stops order monitoring, writes a final snapshot and announces the
// stop. Orders open on the exchange are left in place.
func (b *Bot) Shutdown(ctx context.Context, reason string) error {
	err := b.deps.Orders.Shutdown(ctx)
	if err != nil {
		b.log.WithError(err).Warn("⚠️  monitors did not stop in time")
	}
	b.SaveState(ctx)
	b.deps.Notifier.NotifyStopped(reason)
	b.log.Infof("🛑 trading bot stopped: %s", reason)
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
