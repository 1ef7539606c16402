// File: internal/monitor/health.go
// ============================================
package monitor

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"xtrader/internal/logging"
)

const (
	latencyThreshold = 500 * time.Millisecond
	memoryThreshold  = 80.0
	cpuThreshold     = 90.0
)

var (
	cpuPercentFn = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

type Notifier interface {
	Notify(msg string)
}

// Status is the most recent health sample.
type Status struct {
	CheckedAt  time.Time     `json:"checked_at"`
	APILatency time.Duration `json:"api_latency"`
	APIError   string        `json:"api_error,omitempty"`
	MemoryPct  float64       `json:"memory_percent"`
	CPUPct     float64       `json:"cpu_percent"`
	Alerts     []string      `json:"alerts,omitempty"`
}

func (s Status) Healthy() bool {
	return len(s.Alerts) == 0
}

// HealthMonitor samples exchange latency and host load on an interval and
// alerts when a condition becomes unhealthy.
type HealthMonitor struct {
	pinger   Pinger
	notifier Notifier
	interval time.Duration
	log      *logrus.Entry

	mu     sync.RWMutex
	last   Status
	active map[string]bool
}

func NewHealthMonitor(pinger Pinger, notifier Notifier, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &HealthMonitor{
		pinger:   pinger,
		notifier: notifier,
		interval: interval,
		log:      logging.For("health"),
		active:   make(map[string]bool),
	}
}

// Run checks immediately, then on every interval until ctx is done.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		h.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthMonitor) Check(ctx context.Context) Status {
	st := Status{CheckedAt: time.Now()}
	raised := make(map[string]string)

	latency, err := h.pinger.Ping(ctx)
	st.APILatency = latency
	if err != nil {
		st.APIError = err.Error()
		raised["api"] = fmt.Sprintf("🔌 Exchange unreachable: %s", html.EscapeString(err.Error()))
	} else if latency > latencyThreshold {
		raised["latency"] = fmt.Sprintf("🐢 High API latency: %s", latency.Round(time.Millisecond))
	}

	if vm, err := memoryStatsFn(ctx); err != nil {
		h.log.WithError(err).Debug("memory stats unavailable")
	} else {
		st.MemoryPct = vm.UsedPercent
		if vm.UsedPercent > memoryThreshold {
			raised["memory"] = fmt.Sprintf("🧠 High memory usage: %.1f%%", vm.UsedPercent)
		}
	}

	if pct, err := cpuPercentFn(ctx); err != nil || len(pct) == 0 {
		h.log.WithError(err).Debug("cpu stats unavailable")
	} else {
		st.CPUPct = pct[0]
		if pct[0] > cpuThreshold {
			raised["cpu"] = fmt.Sprintf("🔥 High CPU usage: %.1f%%", pct[0])
		}
	}

	h.mu.Lock()
	for key, msg := range raised {
		st.Alerts = append(st.Alerts, msg)
		if !h.active[key] {
			h.log.Warn(msg)
			if h.notifier != nil {
				h.notifier.Notify("⚠️ <b>System Health</b>\n" + msg)
			}
		}
	}
	for key := range h.active {
		if _, still := raised[key]; !still {
			h.log.Infof("✅ %s back to normal", key)
		}
	}
	h.active = make(map[string]bool, len(raised))
	for key := range raised {
		h.active[key] = true
	}
	h.last = st
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"latency_ms": latency.Milliseconds(),
		"memory_pct": fmt.Sprintf("%.1f", st.MemoryPct),
		"cpu_pct":    fmt.Sprintf("%.1f", st.CPUPct),
	}).Debug("health sampled")
	return st
}

// Last returns the most recent sample.
func (h *HealthMonitor) Last() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}
