// File: internal/risk/manager.go
// ============================================
package risk

import (
	"fmt"
	"sync"
	"time"

	"xtrader/pkg/types"
)

// Manager enforces the account-level gates: daily trade cap, daily loss
// limit and drawdown from the peak balance.
type Manager struct {
	config *types.Config

	mu          sync.Mutex
	day         string
	dailyTrades int
	dailyPnL    float64
	peakBalance float64
}

func NewManager(config *types.Config) *Manager {
	return &Manager{
		config:      config,
		peakBalance: config.Trading.InitialBalance,
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Rollover resets the daily counters when now falls on a new UTC day and
// reports whether it did.
func (m *Manager) Rollover(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(now)
	if m.day == key {
		return false
	}
	first := m.day == ""
	m.day = key
	m.dailyTrades = 0
	m.dailyPnL = 0
	return !first
}

// SeedDay rebuilds today's counters from the trade history.
func (m *Manager) SeedDay(history []types.TradeRecord, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.day = dayKey(now)
	m.dailyTrades = 0
	m.dailyPnL = 0
	for _, t := range history {
		if dayKey(t.Timestamp) == m.day {
			m.dailyTrades++
			m.dailyPnL += t.RealizedPnL()
		}
	}
}

func (m *Manager) RecordTrade(t types.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyTrades++
	m.dailyPnL += t.RealizedPnL()
}

func (m *Manager) ObserveBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if balance > m.peakBalance {
		m.peakBalance = balance
	}
}

// CanTrade checks the daily cap, daily loss limit and drawdown.
func (m *Manager) CanTrade(balance float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit := m.config.Trading.MaxDailyTrades; limit > 0 && m.dailyTrades >= limit {
		return false, fmt.Sprintf("Daily trade limit reached: %d/%d", m.dailyTrades, limit)
	}

	if limit := m.config.RiskControl.DailyLossLimit; limit > 0 {
		maxLoss := limit * m.config.Trading.InitialBalance
		if m.dailyPnL <= -maxLoss {
			return false, fmt.Sprintf("Daily loss limit reached: %.2f USDT", m.dailyPnL)
		}
	}

	if dd := m.config.RiskControl.MaxDrawdown; dd > 0 && m.peakBalance > 0 && balance > 0 {
		drawdown := (m.peakBalance - balance) / m.peakBalance
		if drawdown >= dd {
			return false, fmt.Sprintf("Max drawdown reached: %.2f%%", drawdown*100)
		}
	}
	return true, ""
}

func (m *Manager) DailyTrades() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyTrades
}

func (m *Manager) GetDailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL
}
