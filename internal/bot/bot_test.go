package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"xtrader/internal/binance"
	"xtrader/internal/order"
	"xtrader/internal/recovery"
	"xtrader/pkg/types"
)

type fakeMarket struct {
	mu    sync.Mutex
	bars  []types.Kline
	err   error
	panic bool
	calls int
}

func (f *fakeMarket) GetBars(_ context.Context, symbol, _ string, _ int) ([]types.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("corrupt payload for " + symbol)
	}
	return f.bars, f.err
}

type fakeAccount struct {
	prepared   []string
	prepareErr error
	positions  []types.ExchangePosition
}

func (f *fakeAccount) Positions(context.Context) ([]types.ExchangePosition, error) {
	return f.positions, nil
}

func (f *fakeAccount) OpenOrders(context.Context) ([]types.ExchangeOrder, error) {
	return nil, nil
}

func (f *fakeAccount) PrepareSymbol(_ context.Context, symbol string, _ int) error {
	f.prepared = append(f.prepared, symbol)
	return f.prepareErr
}

type fakeExecutor struct {
	mu       sync.Mutex
	balance  float64
	history  []types.TradeRecord
	orders   []types.ManagedOrder
	executed []types.Signal
	execErr  error
	restored int
	shutdown bool
}

func (f *fakeExecutor) Snapshot() ([]types.ManagedOrder, []types.TradeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders, f.history
}

func (f *fakeExecutor) Restore(orders []types.ManagedOrder, history []types.TradeRecord) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, orders...)
	f.history = history
	f.restored += len(orders)
	return len(orders)
}

func (f *fakeExecutor) Execute(_ context.Context, sig types.Signal) (order.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return order.OutcomeRejected, f.execErr
	}
	f.executed = append(f.executed, sig)
	return order.OutcomeSubmitted, nil
}

func (f *fakeExecutor) Balance(context.Context) float64 { return f.balance }

func (f *fakeExecutor) TradeHistory() []types.TradeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history
}

func (f *fakeExecutor) OpenOrders() []types.ManagedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders
}

func (f *fakeExecutor) Shutdown(context.Context) error {
	f.shutdown = true
	return nil
}

type fakeJournal struct {
	trades []types.TradeRecord
	err    error
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]types.TradeRecord, error) {
	if len(f.trades) > limit {
		return f.trades[len(f.trades)-limit:], f.err
	}
	return f.trades, f.err
}

type fakeGuard struct{ err error }

func (f fakeGuard) Check(context.Context) error { return f.err }

type fixedSignals struct {
	sig   *types.Signal
	calls int
}

func (f *fixedSignals) Generate(_ []types.FeatureRow, symbol string, _ float64, _ []types.TradeRecord) (*types.Signal, string) {
	f.calls++
	if f.sig == nil {
		return nil, "no setup"
	}
	s := *f.sig
	s.Symbol = symbol
	return &s, ""
}

type recordingNotifier struct {
	mu        sync.Mutex
	started   int
	stopped   []string
	recovered []string
	reports   int
	errors    []string
}

func (r *recordingNotifier) Notify(string) {}

func (r *recordingNotifier) NotifyStart(*types.Config) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *recordingNotifier) NotifyStopped(reason string) {
	r.mu.Lock()
	r.stopped = append(r.stopped, reason)
	r.mu.Unlock()
}

func (r *recordingNotifier) NotifyError(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
}

func (r *recordingNotifier) NotifyDailyReport(time.Time, int, float64, int) {
	r.mu.Lock()
	r.reports++
	r.mu.Unlock()
}

func (r *recordingNotifier) NotifyRecovered(orders, trades, positions int, discrepancies string) {
	r.mu.Lock()
	r.recovered = append(r.recovered, fmt.Sprintf("%d/%d/%d %s", orders, trades, positions, discrepancies))
	r.mu.Unlock()
}

func testConfig() *types.Config {
	mult := map[types.StrategyType]float64{types.StrategyMomentum: 1, types.StrategySwing: 2}
	return &types.Config{
		API: types.APIConfig{TradingType: types.TradingFutures, Testnet: true},
		Trading: types.TradingConfig{
			InitialBalance: 1000,
			Leverage:       2,
			RiskPercent:    0.02,
			MaxDailyTrades: 2,
			TradeInterval:  "15m",
			KlineLimit:     60,
		},
		System: types.SystemConfig{
			RecoveryMaxAge:         time.Hour,
			CycleInterval:          time.Millisecond,
			ErrorCooldown:          time.Millisecond,
			MaxConsecutiveFailures: 3,
		},
		Symbols: map[string]types.SymbolConfig{
			"BTCUSDT": {RiskWeight: 1, StopMultiplier: mult, ProfitMultiplier: mult, MinQty: 0.001, MaxPositionUSD: 500},
			"ETHUSDT": {RiskWeight: 1, StopMultiplier: mult, ProfitMultiplier: mult, MinQty: 0.001, MaxPositionUSD: 500},
		},
	}
}

func testBars(n int) []types.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Kline, n)
	for i := range bars {
		c := 100 + float64(i%7)
		bars[i] = types.Kline{
			OpenTime:  start.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
			CloseTime: start.Add(time.Duration(i+1)*15*time.Minute - time.Millisecond),
		}
	}
	return bars
}

type harness struct {
	bot      *Bot
	market   *fakeMarket
	account  *fakeAccount
	orders   *fakeExecutor
	notifier *recordingNotifier
	store    *recovery.Store
	signals  *fixedSignals
}

func newHarness(t *testing.T, cfg *types.Config) *harness {
	t.Helper()
	h := &harness{
		market:   &fakeMarket{bars: testBars(60)},
		account:  &fakeAccount{},
		orders:   &fakeExecutor{balance: 1000},
		notifier: &recordingNotifier{},
		store:    recovery.NewStore(filepath.Join(t.TempDir(), "recovery_state.json"), time.Hour),
		signals:  &fixedSignals{},
	}
	h.bot = New(cfg, Deps{
		Market:   h.market,
		Account:  h.account,
		Orders:   h.orders,
		Store:    h.store,
		Notifier: h.notifier,
	})
	h.bot.signals = h.signals
	return h
}

func TestStartFreshRecoversFromSnapshot(t *testing.T) {
	h := newHarness(t, testConfig())
	snap := &recovery.Snapshot{
		SavedAt: time.Now(),
		ManagedOrders: []types.ManagedOrder{
			{OrderID: 5, State: types.StateMonitoring, Signal: types.Signal{Symbol: "BTCUSDT"}},
		},
		TradeHistory: []types.TradeRecord{{Symbol: "BTCUSDT", OrderID: 4, Timestamp: time.Now()}},
	}
	if err := h.store.Save(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	if err := h.bot.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.orders.restored != 1 || len(h.orders.history) != 1 {
		t.Fatalf("restored orders=%d history=%d", h.orders.restored, len(h.orders.history))
	}
	if len(h.notifier.recovered) != 1 {
		t.Fatalf("recovery notifications = %d", len(h.notifier.recovered))
	}
	if len(h.account.prepared) != 2 || h.account.prepared[0] != "BTCUSDT" {
		t.Fatalf("prepared = %v", h.account.prepared)
	}
	if h.notifier.started != 1 {
		t.Fatal("start notification missing")
	}
	if h.bot.Risk().DailyTrades() != 1 {
		t.Fatalf("daily trades seeded = %d, want 1", h.bot.Risk().DailyTrades())
	}
}

func TestStartSeedsFromJournal(t *testing.T) {
	h := newHarness(t, testConfig())
	var trades []types.TradeRecord
	for i := 0; i < 70; i++ {
		trades = append(trades, types.TradeRecord{OrderID: int64(i), Timestamp: time.Now().Add(-48 * time.Hour)})
	}
	h.bot.deps.Journal = &fakeJournal{trades: trades}

	if err := h.bot.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(h.orders.history) != recovery.MaxPersistedTrades {
		t.Fatalf("seeded history = %d, want %d", len(h.orders.history), recovery.MaxPersistedTrades)
	}
	if len(h.notifier.recovered) != 0 {
		t.Fatal("journal seeding should not report a recovery")
	}
	if h.bot.Risk().DailyTrades() != 0 {
		t.Fatal("old trades must not count toward today")
	}
}

func TestStartPrepareFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.account.prepareErr = binance.ErrInvalidParams
	err := h.bot.Start(context.Background())
	if !errors.Is(err, binance.ErrInvalidParams) {
		t.Fatalf("Start error = %v", err)
	}
	if h.notifier.started != 0 {
		t.Fatal("start notification sent despite failure")
	}
}

func TestRunCycle(t *testing.T) {
	sig := &types.Signal{Side: types.SideBuy, Strategy: types.StrategySwing, Size: 1, Price: 100}
	tests := []struct {
		name         string
		marketErr    error
		guardErr     error
		signal       *types.Signal
		execErr      error
		wantErr      error
		wantFetches  int
		wantExecuted int
	}{
		{name: "no signal", wantFetches: 2},
		{name: "signal executed for each symbol", signal: sig, wantFetches: 2, wantExecuted: 2},
		{name: "rejected signal", signal: sig, execErr: order.ErrValidation, wantFetches: 2},
		{name: "insufficient data is skipped", marketErr: fmt.Errorf("wrap: %w", binance.ErrInsufficientData), wantFetches: 2},
		{name: "all symbols unreachable", marketErr: binance.ErrTransient, wantErr: ErrCycleFailed, wantFetches: 2},
		{name: "guard tripped", guardErr: errors.New("memory"), wantFetches: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.market.err = tt.marketErr
			h.signals.sig = tt.signal
			h.orders.execErr = tt.execErr
			if tt.guardErr != nil {
				h.bot.deps.Guard = fakeGuard{err: tt.guardErr}
			}
			if err := h.bot.Start(context.Background()); err != nil {
				t.Fatal(err)
			}

			err := h.bot.RunCycle(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RunCycle error = %v, want %v", err, tt.wantErr)
			}
			if h.market.calls != tt.wantFetches {
				t.Fatalf("fetches = %d, want %d", h.market.calls, tt.wantFetches)
			}
			if len(h.orders.executed) != tt.wantExecuted {
				t.Fatalf("executed = %d, want %d", len(h.orders.executed), tt.wantExecuted)
			}
			if h.bot.Risk().DailyTrades() != tt.wantExecuted {
				t.Fatalf("daily trades = %d, want %d", h.bot.Risk().DailyTrades(), tt.wantExecuted)
			}
		})
	}
}

func TestRunCycleStopsAtDailyCap(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.MaxDailyTrades = 1
	h := newHarness(t, cfg)
	h.signals.sig = &types.Signal{Side: types.SideBuy, Strategy: types.StrategyMomentum, Size: 1, Price: 100}
	if err := h.bot.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := h.bot.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.orders.executed) != 1 {
		t.Fatalf("executed = %d, want 1", len(h.orders.executed))
	}

	fetches := h.market.calls
	if err := h.bot.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.market.calls != fetches {
		t.Fatal("capped cycle still fetched market data")
	}
}

func TestRunCycleDayRollover(t *testing.T) {
	h := newHarness(t, testConfig())
	day1 := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	h.bot.now = func() time.Time { return day1 }
	if err := h.bot.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.bot.Risk().RecordTrade(types.TradeRecord{Timestamp: day1})

	h.bot.now = func() time.Time { return day1.Add(2 * time.Hour) }
	if err := h.bot.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.notifier.reports != 1 {
		t.Fatalf("daily reports = %d, want 1", h.notifier.reports)
	}
	if h.bot.Risk().DailyTrades() != 0 {
		t.Fatal("daily counter not reset")
	}
}

func TestRunCyclePeriodicSave(t *testing.T) {
	cfg := testConfig()
	cfg.System.RecoverySaveInterval = 5 * time.Minute
	h := newHarness(t, cfg)
	now := time.Now()
	h.bot.now = func() time.Time { return now }
	if err := h.bot.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := h.bot.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if snap, _ := h.store.Load(); snap != nil {
		t.Fatal("saved before the interval elapsed")
	}

	now = now.Add(6 * time.Minute)
	if err := h.bot.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if snap, err := h.store.Load(); err != nil || snap == nil {
		t.Fatalf("expected snapshot after interval, got %v, %v", snap, err)
	}
}

func TestRunStopsAfterConsecutiveFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeMarket)
	}{
		{"exchange down", func(m *fakeMarket) { m.err = binance.ErrTransient }},
		{"panicking cycle", func(m *fakeMarket) { m.panic = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			tt.setup(h.market)
			if err := h.bot.Start(context.Background()); err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := h.bot.Run(ctx)
			if !errors.Is(err, ErrTooManyFailures) {
				t.Fatalf("Run error = %v, want ErrTooManyFailures", err)
			}
			if len(h.notifier.errors) != 3 {
				t.Fatalf("error notifications = %d, want 3", len(h.notifier.errors))
			}
			if snap, _ := h.store.Load(); snap == nil {
				t.Fatal("failed cycles should leave a snapshot")
			}
		})
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.System.CycleInterval = time.Hour
	h := newHarness(t, cfg)
	if err := h.bot.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdownSavesState(t *testing.T) {
	h := newHarness(t, testConfig())
	h.orders.orders = []types.ManagedOrder{{OrderID: 9, State: types.StateMonitoring}}
	if err := h.bot.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := h.bot.Shutdown(context.Background(), "interrupt"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !h.orders.shutdown {
		t.Fatal("order manager not shut down")
	}
	snap, err := h.store.Load()
	if err != nil || snap == nil {
		t.Fatalf("final snapshot missing: %v", err)
	}
	if len(snap.ManagedOrders) != 1 || snap.ManagedOrders[0].OrderID != 9 {
		t.Fatalf("snapshot orders = %+v", snap.ManagedOrders)
	}
	if len(h.notifier.stopped) != 1 || h.notifier.stopped[0] != "interrupt" {
		t.Fatalf("stop notifications = %v", h.notifier.stopped)
	}
}
