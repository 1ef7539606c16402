// File: internal/order/monitor.go
// ============================================
package order

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/sirupsen/logrus"

	"xtrader/internal/metrics"
	"xtrader/pkg/types"
)

// startMonitor must be called after the order is in the mapping.
func (m *Manager) startMonitor(orderID int64, symbol string, window time.Duration) {
	m.monitors.Add(1)
	go m.monitor(orderID, symbol, window)
}

// monitor polls the order until it reaches a terminal state, the window
// elapses or the manager shuts down.
func (m *Manager) monitor(orderID int64, symbol string, window time.Duration) {
	defer m.monitors.Done()
	log := m.log.WithFields(logrus.Fields{"symbol": symbol, "order_id": orderID})

	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if m.poll(orderID, symbol, log) {
			return
		}
		select {
		case <-m.ctx.Done():
			log.Debug("monitor stopped")
			return
		case <-deadline.C:
			m.expire(orderID, symbol, log)
			return
		case <-ticker.C:
		}
	}
}

// poll reports true once the order has left the mapping.
func (m *Manager) poll(orderID int64, symbol string, log *logrus.Entry) bool {
	report, err := m.exchange.OrderStatus(m.ctx, symbol, orderID)
	if err != nil {
		if m.ctx.Err() == nil {
			log.WithError(err).Warn("⚠️  order status unavailable")
		}
		return false
	}

	switch report.Status {
	case types.OrderStatusFilled:
		m.recordFill(orderID, report, log)
		return true
	case types.OrderStatusCanceled, types.OrderStatusRejected, types.OrderStatusExpired:
		m.finish(orderID, types.StateCanceled, fmt.Sprintf("exchange reported %s", report.Status))
		return true
	}
	return false
}

func (m *Manager) expire(orderID int64, symbol string, log *logrus.Entry) {
	if err := m.exchange.CancelOrder(m.ctx, symbol, orderID); err != nil {
		log.WithError(err).Error("❌ cancel after timeout failed")
	}
	m.finish(orderID, types.StateTimedOut, fmt.Sprintf("not filled within %s", m.timeout))
}

// recordFill appends the trade and removes the order in one critical
// section so history and mapping never disagree.
func (m *Manager) recordFill(orderID int64, report types.OrderReport, log *logrus.Entry) {
	m.mu.Lock()
	mo, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	size := report.ExecutedQty
	if size <= 0 {
		size = mo.Signal.Size
	}
	price := report.AvgPrice
	if price <= 0 {
		price = mo.Signal.Price
	}
	rec := types.TradeRecord{
		Symbol:    mo.Signal.Symbol,
		Side:      mo.Signal.Side,
		Size:      size,
		Price:     price,
		Timestamp: m.now(),
		Strategy:  mo.Signal.Strategy,
		OrderID:   orderID,
	}
	if n := len(m.history); n > 0 && rec.Timestamp.Before(m.history[n-1].Timestamp) {
		rec.Timestamp = m.history[n-1].Timestamp
	}
	m.history = append(m.history, rec)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
	mo.State = types.StateFilled
	delete(m.orders, orderID)
	final := *mo
	open := len(m.orders)
	m.mu.Unlock()

	metrics.SetManagedOrders(open)
	metrics.IncOrder(rec.Symbol, "filled")
	log.Infof("✅ filled %.5f @ %.4f", rec.Size, rec.Price)

	if m.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.journal.Record(ctx, rec); err != nil {
			log.WithError(err).Error("❌ journal write failed")
		}
		cancel()
	}

	m.notifier.Notify(fmt.Sprintf("✅ <b>Order filled</b>\n%s %s\nSize: %.5f @ %.4f\nOrder: %d",
		rec.Symbol, rec.Strategy, rec.Size, rec.Price, orderID))
	if m.onState != nil {
		m.onState(final)
	}
}

func (m *Manager) finish(orderID int64, state types.OrderState, reason string) {
	m.mu.Lock()
	mo, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	mo.State = state
	delete(m.orders, orderID)
	final := *mo
	open := len(m.orders)
	m.mu.Unlock()

	metrics.SetManagedOrders(open)
	outcome := "canceled"
	icon := "🛑"
	if state == types.StateTimedOut {
		outcome = "timed_out"
		icon = "⏰"
	}
	metrics.IncOrder(final.Signal.Symbol, outcome)
	m.log.WithFields(logrus.Fields{"symbol": final.Signal.Symbol, "order_id": orderID}).
		Warnf("%s order %s: %s", icon, state, reason)
	m.notifier.Notify(fmt.Sprintf("%s <b>Order %s</b>\n%s %s\nOrder: %d\nReason: %s",
		icon, state, final.Signal.Symbol, final.Signal.Strategy, orderID, html.EscapeString(reason)))
	if m.onState != nil {
		m.onState(final)
	}
}
