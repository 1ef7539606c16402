// File: cmd/bot/main.go
// ============================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"xtrader/internal/api"
	"xtrader/internal/binance"
	"xtrader/internal/bot"
	"xtrader/internal/config"
	"xtrader/internal/guard"
	"xtrader/internal/journal"
	"xtrader/internal/logging"
	"xtrader/internal/monitor"
	"xtrader/internal/order"
	"xtrader/internal/recovery"
	"xtrader/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logging.For("main").WithError(err).Error("❌ exiting")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(logging.Options{
		Level:      cfg.System.LogLevel,
		File:       cfg.System.LogFile,
		MaxBytes:   cfg.System.LogMaxSize,
		MaxBackups: cfg.System.LogBackupCount,
	}); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	log := logging.For("main")

	if err := config.ConfirmLive(cfg, os.Stdin, os.Stdout); err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := telegram.NewNotifier(cfg.Telegram)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notifier.Close(closeCtx)
	}()

	client := binance.NewClient(cfg)
	client.OnAPIError(func(op string, apiErr *binance.APIError) {
		notifier.NotifyError(fmt.Sprintf("Exchange rejected %s\nCode: %d\nReason: %s", op, apiErr.Code, binance.Reason(apiErr.Code)))
	})

	var orderOpts []order.Option
	var history bot.History
	var archive api.Archive
	if cfg.System.JournalPath != "" {
		j, err := journal.Open(cfg.System.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		orderOpts = append(orderOpts, order.WithJournal(j))
		history = j
		archive = j
	}
	orders := order.NewManager(cfg, client, notifier, orderOpts...)

	store := recovery.NewStore(cfg.System.RecoveryFile, cfg.System.RecoveryMaxAge)
	if cfg.Storage.S3.Enabled {
		mirror, err := recovery.NewS3Mirror(ctx, cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Warn("⚠️  S3 mirror disabled")
		} else {
			store.WithMirror(mirror)
		}
	}

	deps := bot.Deps{
		Market:   client,
		Account:  client,
		Orders:   orders,
		Store:    store,
		Journal:  history,
		Guard:    guard.New(cfg.Safety),
		Notifier: notifier,
	}
	b := bot.New(cfg, deps)
	if err := b.Start(ctx); err != nil {
		notifier.NotifyError(fmt.Sprintf("Startup failed: %v", err))
		return fmt.Errorf("start: %w", err)
	}

	health := monitor.NewHealthMonitor(client, notifier, cfg.System.SystemMonitorInterval)
	go health.Run(ctx)

	var server *api.Server
	if cfg.System.StatusAddr != "" {
		symbols := make([]string, 0, len(cfg.Symbols))
		for s := range cfg.Symbols {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		server = api.NewServer(orders, health, b.Risk(), api.Meta{
			TradingType: cfg.API.TradingType,
			Testnet:     cfg.API.Testnet,
			Symbols:     symbols,
			StartedAt:   time.Now(),
		})
		if archive != nil {
			server.WithArchive(archive)
		}
		server.Start(cfg.System.StatusAddr)
	}

	runErr := b.Run(ctx)
	reason := "operator interrupt"
	if runErr != nil {
		reason = runErr.Error()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("⚠️  status API shutdown")
		}
	}
	if err := b.Shutdown(shutdownCtx, reason); err != nil {
		log.WithError(err).Warn("⚠️  shutdown incomplete")
	}
	log.WithFields(logrus.Fields{"reason": reason}).Info("👋 bye")
	return runErr
}
