// File: internal/binance/gate.go
// ============================================
package binance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"xtrader/internal/logging"
	"xtrader/internal/metrics"
)

// Gate serializes every exchange call behind one limiter and retries
// transient failures with exponential backoff.
type Gate struct {
	limiter    *rate.Limiter
	attempts   int
	minBackoff time.Duration
	maxBackoff time.Duration
	onAPIError func(op string, err *APIError)
	log        *logrus.Entry
}

func NewGate(spacing time.Duration, attempts int) *Gate {
	if attempts < 1 {
		attempts = 1
	}
	return &Gate{
		limiter:    rate.NewLimiter(rate.Every(spacing), 1),
		attempts:   attempts,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		log:        logging.For("exchange"),
	}
}

// OnAPIError registers a hook called once per failed operation that ended
// with an exchange rejection.
func (g *Gate) OnAPIError(fn func(op string, err *APIError)) {
	g.onAPIError = fn
}

// Do runs fn, waiting on the limiter before each attempt. Business errors
// return immediately.
func (g *Gate) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{Min: g.minBackoff, Max: g.maxBackoff, Factor: 2, Jitter: true}

	var last error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		err := classify(fn(ctx))
		metrics.ObserveExchangeCall(op, time.Since(start), err)
		if err == nil {
			return nil
		}
		last = err
		if !IsRetryable(err) || attempt == g.attempts {
			break
		}

		wait := b.Duration()
		g.log.WithFields(logrus.Fields{"op": op, "attempt": attempt}).
			WithError(err).Warnf("⚠️  retrying in %s", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	var apiErr *APIError
	if errors.As(last, &apiErr) && g.onAPIError != nil {
		g.onAPIError(op, apiErr)
	}
	if IsRetryable(last) && g.attempts > 1 {
		return fmt.Errorf("%s failed after %d attempts: %w", op, g.attempts, last)
	}
	return fmt.Errorf("%s: %w", op, last)
}
