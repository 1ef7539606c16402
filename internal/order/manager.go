// File: internal/order/manager.go
// ============================================
package order

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"xtrader/internal/logging"
	"xtrader/internal/metrics"
	"xtrader/pkg/types"
)

var (
	ErrValidation = errors.New("pre-execution check failed")
	ErrSubmission = errors.New("order submission failed")
	ErrClosed     = errors.New("order manager closed")
)

const (
	marginShare = 0.8
	historyCap  = 500
)

// Outcome is the result of one execution attempt.
type Outcome string

const (
	OutcomeRejected  Outcome = "rejected"
	OutcomeSubmitted Outcome = "submitted"
	OutcomeDegraded  Outcome = "degraded" // entry placed, protective orders missing
)

// Exchange is the subset of the gateway the order manager drives.
type Exchange interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	QuoteBalance(ctx context.Context) (float64, error)
	PlaceMarketBuy(ctx context.Context, symbol string, qty float64, clientOrderID string) (types.OrderReport, error)
	PlaceProtection(ctx context.Context, req types.ProtectionRequest) ([]types.OrderReport, error)
	OrderStatus(ctx context.Context, symbol string, orderID int64) (types.OrderReport, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

type Notifier interface {
	Notify(msg string)
}

// TradeJournal archives every recorded fill.
type TradeJournal interface {
	Record(ctx context.Context, rec types.TradeRecord) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// Manager owns the managed-order mapping and the trade history. Execute is
// serialized by execMu for the whole check-submit-record sequence; monitors
// only take mu for short map and history updates.
type Manager struct {
	config   *types.Config
	exchange Exchange
	notifier Notifier
	journal  TradeJournal
	log      *logrus.Entry

	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
	onState      func(types.ManagedOrder)

	execMu  sync.Mutex
	mu      sync.RWMutex
	orders  map[int64]*types.ManagedOrder
	history []types.TradeRecord

	ctx      context.Context
	cancel   context.CancelFunc
	monitors sync.WaitGroup
	closed   bool
}

type Option func(*Manager)

func WithJournal(j TradeJournal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithStateHook registers fn to receive a copy of an order on every state
// change, including the terminal one after it leaves the mapping.
func WithStateHook(fn func(types.ManagedOrder)) Option {
	return func(m *Manager) { m.onState = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(config *types.Config, exchange Exchange, notifier Notifier, opts ...Option) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:       config,
		exchange:     exchange,
		notifier:     notifier,
		log:          logging.For("order"),
		pollInterval: config.System.MonitorPollInterval,
		timeout:      config.System.OrderTimeout,
		now:          time.Now,
		orders:       make(map[int64]*types.ManagedOrder),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute validates the signal against fresh market and account data,
// places the entry with its protective orders and starts monitoring it.
func (m *Manager) Execute(ctx context.Context, sig types.Signal) (Outcome, error) {
	m.execMu.Lock()
	defer m.execMu.Unlock()

	if m.closed {
		return OutcomeRejected, ErrClosed
	}
	log := m.log.WithFields(logrus.Fields{"symbol": sig.Symbol, "strategy": sig.Strategy})

	mo := &types.ManagedOrder{ClientOrderID: uuid.NewString(), Signal: sig}
	m.transition(mo, types.StatePendingCheck)

	if err := m.preExecutionCheck(ctx, sig); err != nil {
		m.transition(mo, types.StateRejected)
		log.WithError(err).Warn("🚫 signal aborted")
		metrics.IncOrder(sig.Symbol, "rejected")
		m.notifier.Notify(fmt.Sprintf("🚫 <b>Signal aborted</b>\n%s %s\nReason: %s", sig.Symbol, sig.Strategy, escape(err)))
		return OutcomeRejected, err
	}

	report, err := m.exchange.PlaceMarketBuy(ctx, sig.Symbol, sig.Size, mo.ClientOrderID)
	if err != nil {
		m.transition(mo, types.StateRejected)
		log.WithError(err).Error("❌ market order failed")
		metrics.IncOrder(sig.Symbol, "rejected")
		m.notifier.Notify(fmt.Sprintf("❌ <b>Order failed</b>\n%s %s\nError: %s", sig.Symbol, sig.Strategy, escape(err)))
		return OutcomeRejected, fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	mo.OrderID = report.OrderID
	mo.SubmittedAt = m.now()
	m.transition(mo, types.StateSubmitted)
	log = log.WithField("order_id", report.OrderID)
	log.Infof("📤 market BUY %.5f submitted", sig.Size)

	mo.RiskOrdersAttached = m.placeRiskOrders(ctx, sig, report, log)
	if mo.RiskOrdersAttached {
		m.transition(mo, types.StateRiskOrdersAttached)
	}

	m.transition(mo, types.StateMonitoring)
	m.track(mo)
	m.startMonitor(mo.OrderID, sig.Symbol, m.timeout)

	m.notifier.Notify(fmt.Sprintf(
		"📈 <b>Order opened</b>\n%s %s\nSize: %.5f @ %.4f\nSL: %.4f | TP: %.4f\nOrder: %d",
		sig.Symbol, sig.Strategy, sig.Size, sig.Price, sig.StopLoss, sig.TakeProfit, report.OrderID))

	if !mo.RiskOrdersAttached {
		metrics.IncOrder(sig.Symbol, "degraded")
		return OutcomeDegraded, nil
	}
	return OutcomeSubmitted, nil
}

// transition is only used before the order is tracked; monitors set the
// terminal state under mu.
func (m *Manager) transition(mo *types.ManagedOrder, state types.OrderState) {
	mo.State = state
	m.log.WithFields(logrus.Fields{"client_order_id": mo.ClientOrderID, "order_id": mo.OrderID}).
		Debugf("order -> %s", state)
	if m.onState != nil {
		m.onState(*mo)
	}
}

func (m *Manager) preExecutionCheck(ctx context.Context, sig types.Signal) error {
	if sig.Price <= 0 || sig.Size <= 0 {
		return fmt.Errorf("%w: invalid signal price %.4f or size %.5f", ErrValidation, sig.Price, sig.Size)
	}

	price, err := m.exchange.CurrentPrice(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("%w: price unavailable: %v", ErrValidation, err)
	}
	slippage := math.Abs(price-sig.Price) / sig.Price
	if slippage > m.config.Safety.MaxSlippage {
		return fmt.Errorf("%w: slippage %.2f%% exceeds %.2f%%", ErrValidation, slippage*100, m.config.Safety.MaxSlippage*100)
	}

	balance := m.Balance(ctx)
	leverage := 1
	if m.config.IsFutures() && m.config.Trading.Leverage > 1 {
		leverage = m.config.Trading.Leverage
	}
	required := sig.Size * price / float64(leverage)
	if required > balance*marginShare {
		return fmt.Errorf("%w: required margin %.2f exceeds %.0f%% of balance %.2f", ErrValidation, required, marginShare*100, balance)
	}

	m.mu.RLock()
	open := len(m.orders)
	m.mu.RUnlock()
	if open >= m.config.Safety.MaxOpenOrders {
		return fmt.Errorf("%w: %d open orders, limit %d", ErrValidation, open, m.config.Safety.MaxOpenOrders)
	}
	return nil
}

// placeRiskOrders attaches stop-loss and take-profit sized from the quantity
// actually received; false means at least one of them is missing.
func (m *Manager) placeRiskOrders(ctx context.Context, sig types.Signal, entry types.OrderReport, log *logrus.Entry) bool {
	qty := entry.NetQty
	if qty <= 0 {
		qty = entry.ExecutedQty
	}
	if qty <= 0 {
		qty = sig.Size
	}

	_, err := m.exchange.PlaceProtection(ctx, types.ProtectionRequest{
		Symbol:     sig.Symbol,
		Quantity:   qty,
		StopLoss:   sig.StopLoss,
		StopLimit:  sig.StopLoss * (1 - m.config.Safety.MaxSlippage),
		TakeProfit: sig.TakeProfit,
		Precision:  m.config.Symbols[sig.Symbol].PricePrecision,
	})
	if err != nil {
		log.WithError(err).Error("❌ protective orders failed")
		m.notifier.Notify(fmt.Sprintf("⚠️ <b>Protective orders not placed</b>\n%s order %d is unprotected\nError: %s",
			sig.Symbol, entry.OrderID, escape(err)))
		return false
	}
	return true
}

// escape makes error text safe for HTML parse mode.
func escape(err error) string {
	return html.EscapeString(err.Error())
}

// Balance returns the quote balance, or the configured initial balance when
// the exchange cannot be read.
func (m *Manager) Balance(ctx context.Context) float64 {
	balance, err := m.exchange.QuoteBalance(ctx)
	if err != nil {
		m.log.WithError(err).Warn("⚠️  balance unavailable, using initial balance")
		return m.config.Trading.InitialBalance
	}
	return balance
}

func (m *Manager) track(mo *types.ManagedOrder) {
	m.mu.Lock()
	m.orders[mo.OrderID] = mo
	n := len(m.orders)
	m.mu.Unlock()
	metrics.SetManagedOrders(n)
}

// OpenOrders returns copies of the managed orders, ordered by id.
func (m *Manager) OpenOrders() []types.ManagedOrder {
	m.mu.RLock()
	out := make([]types.ManagedOrder, 0, len(m.orders))
	for _, mo := range m.orders {
		out = append(out, *mo)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (m *Manager) TradeHistory() []types.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.TradeRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Snapshot returns the open orders and trade history read under one lock.
func (m *Manager) Snapshot() ([]types.ManagedOrder, []types.TradeRecord) {
	m.mu.RLock()
	orders := make([]types.ManagedOrder, 0, len(m.orders))
	for _, mo := range m.orders {
		orders = append(orders, *mo)
	}
	history := make([]types.TradeRecord, len(m.history))
	copy(history, m.history)
	m.mu.RUnlock()
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	return orders, history
}

// Restore replaces the trade history and re-tracks non-terminal orders,
// giving each a fresh monitoring window. It returns the number of orders
// restored.
func (m *Manager) Restore(orders []types.ManagedOrder, history []types.TradeRecord) int {
	m.execMu.Lock()
	defer m.execMu.Unlock()
	if m.closed {
		return 0
	}

	sorted := make([]types.TradeRecord, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	if len(sorted) > historyCap {
		sorted = sorted[len(sorted)-historyCap:]
	}

	var restored []*types.ManagedOrder
	m.mu.Lock()
	m.history = sorted
	for _, o := range orders {
		if o.State.Terminal() {
			continue
		}
		if _, exists := m.orders[o.OrderID]; exists {
			continue
		}
		mo := o
		mo.State = types.StateMonitoring
		m.orders[mo.OrderID] = &mo
		restored = append(restored, &mo)
	}
	n := len(m.orders)
	m.mu.Unlock()
	metrics.SetManagedOrders(n)

	for _, mo := range restored {
		m.startMonitor(mo.OrderID, mo.Signal.Symbol, m.timeout)
	}
	return len(restored)
}

// Shutdown stops all monitors and waits for them. Orders still open on the
// exchange stay in the mapping so a final snapshot can carry them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.execMu.Lock()
	m.closed = true
	m.execMu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.monitors.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
