// File: internal/recovery/recover.go
// ============================================
package recovery

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"xtrader/internal/logging"
	"xtrader/pkg/types"
)

// Account is the exchange view needed to capture and reconcile state.
type Account interface {
	Positions(ctx context.Context) ([]types.ExchangePosition, error)
	OpenOrders(ctx context.Context) ([]types.ExchangeOrder, error)
}

// Tracker is the order-manager surface used for snapshots.
type Tracker interface {
	Snapshot() ([]types.ManagedOrder, []types.TradeRecord)
	Restore(orders []types.ManagedOrder, history []types.TradeRecord) int
}

// Capture builds a snapshot from the tracker and the live account. A failed
// exchange read leaves the corresponding field empty.
func Capture(ctx context.Context, tracker Tracker, account Account, cfg *types.Config) *Snapshot {
	log := logging.For("recovery")
	orders, history := tracker.Snapshot()
	snap := &Snapshot{
		TradingType:   cfg.API.TradingType,
		ManagedOrders: orders,
		TradeHistory:  history,
		Config:        cfg.Redacted(),
	}
	if account == nil {
		return snap
	}
	if positions, err := account.Positions(ctx); err != nil {
		log.WithError(err).Warn("⚠️  positions unavailable for snapshot")
	} else {
		snap.Positions = positions
	}
	if open, err := account.OpenOrders(ctx); err != nil {
		log.WithError(err).Warn("⚠️  open orders unavailable for snapshot")
	} else {
		snap.ExchangeOrders = open
	}
	return snap
}

// Report describes what was restored and how it compares to the account.
type Report struct {
	RestoredOrders int
	RestoredTrades int
	LivePositions  []types.ExchangePosition

	// MissingOnExchange lists restored order ids the exchange no longer
	// reports as open.
	MissingOnExchange []int64
	// UntrackedOnExchange lists exchange orders unknown to the snapshot.
	UntrackedOnExchange []int64
	// PositionDrift maps symbol to live amount minus snapshot amount.
	PositionDrift map[string]float64
}

func (r *Report) Clean() bool {
	return len(r.MissingOnExchange) == 0 && len(r.UntrackedOnExchange) == 0 && len(r.PositionDrift) == 0
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "orders: %d, trades: %d, positions: %d", r.RestoredOrders, r.RestoredTrades, len(r.LivePositions))
	if len(r.MissingOnExchange) > 0 {
		fmt.Fprintf(&b, "\nnot open on exchange: %v", r.MissingOnExchange)
	}
	if len(r.UntrackedOnExchange) > 0 {
		fmt.Fprintf(&b, "\nuntracked on exchange: %v", r.UntrackedOnExchange)
	}
	for symbol, d := range r.PositionDrift {
		fmt.Fprintf(&b, "\n%s drift: %+.5f", symbol, d)
	}
	return b.String()
}

const driftTolerance = 1e-8

// Recover restores the tracker from snap, then reads the live account and
// compares it with the snapshot. Snapshot exchange data is only used for the
// comparison, never restored.
func Recover(ctx context.Context, tracker Tracker, snap *Snapshot, account Account) (*Report, error) {
	if snap == nil {
		return nil, fmt.Errorf("recover: no snapshot")
	}
	log := logging.For("recovery")

	report := &Report{
		RestoredOrders: tracker.Restore(snap.ManagedOrders, snap.TradeHistory),
		RestoredTrades: len(snap.TradeHistory),
		PositionDrift:  make(map[string]float64),
	}
	if account == nil {
		return report, nil
	}

	positions, err := account.Positions(ctx)
	if err != nil {
		return report, fmt.Errorf("read positions: %w", err)
	}
	report.LivePositions = positions

	live := make(map[string]float64, len(positions))
	for _, p := range positions {
		live[p.Symbol] = p.Amount
	}
	saved := make(map[string]float64, len(snap.Positions))
	for _, p := range snap.Positions {
		saved[p.Symbol] = p.Amount
	}
	for symbol, amt := range live {
		if d := amt - saved[symbol]; math.Abs(d) > driftTolerance {
			report.PositionDrift[symbol] = d
		}
	}
	for symbol, amt := range saved {
		if _, ok := live[symbol]; !ok && math.Abs(amt) > driftTolerance {
			report.PositionDrift[symbol] = -amt
		}
	}

	open, err := account.OpenOrders(ctx)
	if err != nil {
		return report, fmt.Errorf("read open orders: %w", err)
	}
	liveIDs := make(map[int64]bool, len(open))
	for _, o := range open {
		liveIDs[o.OrderID] = true
	}
	known := make(map[int64]bool, len(snap.ManagedOrders)+len(snap.ExchangeOrders))
	for _, mo := range snap.ManagedOrders {
		known[mo.OrderID] = true
		if !mo.State.Terminal() && !liveIDs[mo.OrderID] {
			report.MissingOnExchange = append(report.MissingOnExchange, mo.OrderID)
		}
	}
	for _, o := range snap.ExchangeOrders {
		known[o.OrderID] = true
	}
	for _, o := range open {
		if !known[o.OrderID] {
			report.UntrackedOnExchange = append(report.UntrackedOnExchange, o.OrderID)
		}
	}

	entry := log.WithFields(logrus.Fields{
		"orders":    report.RestoredOrders,
		"trades":    report.RestoredTrades,
		"positions": len(positions),
	})
	if report.Clean() {
		entry.Info("♻️  state recovered")
	} else {
		entry.Warnf("♻️  state recovered with discrepancies\n%s", report)
	}
	return report, nil
}
