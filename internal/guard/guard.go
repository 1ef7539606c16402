// File: internal/guard/guard.go
// ============================================
package guard

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"xtrader/internal/logging"
	"xtrader/pkg/types"
)

var ErrResourceLimit = errors.New("resource limit exceeded")

var (
	memoryStatsFn    = mem.VirtualMemoryWithContext
	goroutineCountFn = runtime.NumGoroutine
)

// Guard refuses work while host memory or the goroutine count is above the
// configured ceilings.
type Guard struct {
	memoryLimit   float64 // percent
	maxGoroutines int
	log           *logrus.Entry
}

func New(cfg types.SafetyConfig) *Guard {
	return &Guard{
		memoryLimit:   cfg.MemoryLimit,
		maxGoroutines: cfg.MaxGoroutines,
		log:           logging.For("guard"),
	}
}

// Check returns an ErrResourceLimit-wrapped error when a ceiling is hit.
// A failed memory read is logged and does not block work.
func (g *Guard) Check(ctx context.Context) error {
	if g.maxGoroutines > 0 {
		if n := goroutineCountFn(); n > g.maxGoroutines {
			return fmt.Errorf("%w: %d goroutines, limit %d", ErrResourceLimit, n, g.maxGoroutines)
		}
	}
	if g.memoryLimit <= 0 {
		return nil
	}
	vm, err := memoryStatsFn(ctx)
	if err != nil {
		g.log.WithError(err).Warn("⚠️  memory stats unavailable")
		return nil
	}
	if vm.UsedPercent > g.memoryLimit {
		return fmt.Errorf("%w: memory %.1f%%, limit %.1f%%", ErrResourceLimit, vm.UsedPercent, g.memoryLimit)
	}
	return nil
}
