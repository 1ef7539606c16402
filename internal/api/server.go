// File: internal/api/server.go
// ============================================
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"xtrader/internal/logging"
	"xtrader/internal/metrics"
	"xtrader/internal/monitor"
	"xtrader/pkg/types"
)

// Orders exposes the order manager's read side.
type Orders interface {
	OpenOrders() []types.ManagedOrder
	TradeHistory() []types.TradeRecord
}

type Health interface {
	Last() monitor.Status
}

type Risk interface {
	DailyTrades() int
	GetDailyPnL() float64
}

// Archive is the long-term trade journal.
type Archive interface {
	Count(ctx context.Context) (int, error)
}

// Meta describes the running instance.
type Meta struct {
	TradingType string
	Testnet     bool
	Symbols     []string
	StartedAt   time.Time
}

// Server is the read-only status endpoint.
type Server struct {
	Router *gin.Engine

	orders  Orders
	health  Health
	risk    Risk
	archive Archive
	meta    Meta
	log     *logrus.Entry
	srv     *http.Server
}

func NewServer(orders Orders, health Health, risk Risk, meta Meta) *Server {
	r := gin.New()
	s := &Server{
		Router: r,
		orders: orders,
		health: health,
		risk:   risk,
		meta:   meta,
		log:    logging.For("api"),
	}
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	s.routes()
	return s
}

// WithArchive adds the journal trade count to /api/status.
func (s *Server) WithArchive(a Archive) *Server {
	s.archive = a
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.healthz)
	s.Router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.status)
		api.GET("/orders", s.openOrders)
		api.GET("/trades", s.trades)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"error":   code,
		"message": msg,
	})
}

func (s *Server) healthz(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	st := s.health.Last()
	code := http.StatusOK
	status := "ok"
	if !st.Healthy() {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(code, gin.H{
		"status": status,
		"health": st,
	})
}

func (s *Server) status(c *gin.Context) {
	body := gin.H{
		"trading_type": s.meta.TradingType,
		"testnet":      s.meta.Testnet,
		"symbols":      s.meta.Symbols,
		"uptime":       time.Since(s.meta.StartedAt).Round(time.Second).String(),
		"open_orders":  len(s.orders.OpenOrders()),
	}
	if s.risk != nil {
		body["daily_trades"] = s.risk.DailyTrades()
		body["daily_pnl"] = s.risk.GetDailyPnL()
	}
	if s.archive != nil {
		if n, err := s.archive.Count(c.Request.Context()); err != nil {
			s.log.WithError(err).Warn("⚠️  journal count unavailable")
			body["journal_error"] = err.Error()
		} else {
			body["journal_trades"] = n
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) openOrders(c *gin.Context) {
	orders := s.orders.OpenOrders()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(orders),
		"orders": orders,
	})
}

func (s *Server) trades(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(c, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	history := s.orders.TradeHistory()
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(history),
		"trades": history,
	})
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Infof("🌐 status API listening on %s", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("❌ status API stopped")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown status API: %w", err)
	}
	return nil
}
