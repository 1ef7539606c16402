// File: internal/telegram/notifier.go
// ============================================
package telegram

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"xtrader/internal/logging"
	"xtrader/pkg/types"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	queueSize      = 64
)

var separator = strings.Repeat("━", 24)

// Notifier delivers operator messages in the background. Notify never
// blocks the caller and delivery failures are only logged.
type Notifier struct {
	botToken string
	chatID   string
	enabled  bool
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	log      *logrus.Entry

	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewNotifier(cfg types.TelegramConfig) *Notifier {
	return newNotifier(cfg, defaultBaseURL)
}

func newNotifier(cfg types.TelegramConfig, baseURL string) *Notifier {
	n := &Notifier{
		botToken: cfg.Token,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.Token != "" && cfg.ChatID != "",
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
		log:      logging.For("telegram"),
		queue:    make(chan string, queueSize),
		done:     make(chan struct{}),
	}
	if !n.enabled {
		n.log.Warn("⚠️  Telegram notifications disabled")
	}
	go n.run()
	return n
}

// Notify queues msg for delivery. Messages are dropped when the queue is
// full or the notifier is closed.
func (n *Notifier) Notify(msg string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	if !n.enabled {
		n.log.Debug(msg)
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.log.Warn("⚠️  notification queue full, message dropped")
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for msg := range n.queue {
		if err := n.limiter.Wait(context.Background()); err != nil {
			n.log.WithError(err).Warn("⚠️  rate limiter")
		}
		if err := n.sendMessage(msg); err != nil {
			n.log.WithError(err).Error("❌ Telegram delivery failed")
		}
	}
}

// Close stops accepting messages and waits for the queue to drain.
func (n *Notifier) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
	})
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) sendMessage(message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)

	data := url.Values{}
	data.Set("chat_id", n.chatID)
	data.Set("text", message)
	data.Set("parse_mode", "HTML")
	data.Set("disable_web_page_preview", "true")

	resp, err := n.client.PostForm(apiURL, data)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	n.log.Debug("📤 Telegram message sent")
	return nil
}

func (n *Notifier) NotifyStart(cfg *types.Config) {
	mode := "LIVE"
	if cfg.API.Testnet {
		mode = "TESTNET"
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for s := range cfg.Symbols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	msg := "🤖 <b>Trading Bot Started</b>\n"
	msg += separator + "\n"
	msg += fmt.Sprintf("Mode: <b>%s %s</b>\n", mode, strings.ToUpper(cfg.API.TradingType))
	if cfg.IsFutures() {
		msg += fmt.Sprintf("Leverage: <b>%dx</b>\n", cfg.Trading.Leverage)
	}
	msg += fmt.Sprintf("Risk per trade: <b>%.1f%%</b>\n", cfg.Trading.RiskPercent*100)
	msg += fmt.Sprintf("Max daily trades: %d\n", cfg.Trading.MaxDailyTrades)
	msg += fmt.Sprintf("Symbols: <code>%s</code>", strings.Join(symbols, ", "))
	n.Notify(msg)
}

func (n *Notifier) NotifyStopped(reason string) {
	n.Notify(fmt.Sprintf("🛑 <b>Trading Bot Stopped</b>\n\n%s", html.EscapeString(reason)))
}

func (n *Notifier) NotifyRecovered(orders, trades, positions int, discrepancies string) {
	msg := "♻️ <b>State Recovered</b>\n"
	msg += fmt.Sprintf("Open orders: %d\n", orders)
	msg += fmt.Sprintf("Trade history: %d\n", trades)
	msg += fmt.Sprintf("Live positions: %d", positions)
	if discrepancies != "" {
		msg += "\n\n⚠️ <b>Discrepancies</b>\n<code>" + html.EscapeString(discrepancies) + "</code>"
	}
	n.Notify(msg)
}

func (n *Notifier) NotifyDailyReport(day time.Time, trades int, dailyPnL float64, openOrders int) {
	emoji := "📊"
	if dailyPnL > 0 {
		emoji = "💰"
	} else if dailyPnL < 0 {
		emoji = "📉"
	}

	msg := fmt.Sprintf("%s <b>Daily Report %s</b>\n\n", emoji, day.Format("2006-01-02"))
	msg += fmt.Sprintf("Trades: %d\n", trades)
	msg += fmt.Sprintf("Realized PnL: <b>%.2f USDT</b>\n", dailyPnL)
	msg += fmt.Sprintf("Open orders: %d", openOrders)
	n.Notify(msg)
}

func (n *Notifier) NotifyError(errorMsg string) {
	n.Notify(fmt.Sprintf("⚠️ <b>Error Alert</b>\n\n%s", html.EscapeString(errorMsg)))
}
