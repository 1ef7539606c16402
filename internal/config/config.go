// File: internal/config/config.go
// ============================================
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"xtrader/internal/logging"
	"xtrader/pkg/types"
)

var ErrValidation = errors.New("invalid configuration")

// ErrLiveNotConfirmed is returned when a mainnet start was not acknowledged.
var ErrLiveNotConfirmed = errors.New("live trading not confirmed")

const confirmEnv = "XTRADER_CONFIRM_LIVE"

var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true,
	"30m": true, "1h": true, "4h": true, "1d": true,
}

// Load reads the yaml file, applies .env and environment overrides, fills
// defaults and validates the result.
func Load(path string) (*types.Config, error) {
	log := logging.For("config")
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using config values")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg types.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *types.Config) {
	if apiKey := os.Getenv("BINANCE_API_KEY"); apiKey != "" {
		cfg.API.APIKey = apiKey
	}
	if secretKey := os.Getenv("BINANCE_SECRET_KEY"); secretKey != "" {
		cfg.API.APISecret = secretKey
	}
	switch strings.ToLower(os.Getenv("BINANCE_TESTNET")) {
	case "false":
		cfg.API.Testnet = false
	case "true":
		cfg.API.Testnet = true
	}
	if botToken := os.Getenv("TELEGRAM_BOT_TOKEN"); botToken != "" {
		cfg.Telegram.Token = botToken
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.System.LogLevel = level
	}
}

// ApplyDefaults fills zero values with the stock settings.
func ApplyDefaults(cfg *types.Config) {
	if cfg.API.TradingType == "" {
		cfg.API.TradingType = types.TradingSpot
	}
	cfg.API.TradingType = strings.ToLower(cfg.API.TradingType)

	t := &cfg.Trading
	if t.Leverage == 0 {
		t.Leverage = 1
	}
	if t.TradeInterval == "" || !validIntervals[t.TradeInterval] {
		t.TradeInterval = "15m"
	}
	if t.KlineLimit == 0 {
		t.KlineLimit = 100
	}

	s := &cfg.Safety
	if s.MaxSlippage == 0 {
		s.MaxSlippage = 0.01
	}
	if s.APIRetries == 0 {
		s.APIRetries = 3
	}
	if s.APITimeout == 0 {
		s.APITimeout = 10 * time.Second
	}
	if s.MaxOpenOrders == 0 {
		s.MaxOpenOrders = 3
	}
	if s.MemoryLimit == 0 {
		s.MemoryLimit = 80
	}
	if s.MaxGoroutines == 0 {
		s.MaxGoroutines = 500
	}
	if s.VolatilityFactor == 0 {
		s.VolatilityFactor = 1.0
	}
	if s.MinCallSpacing == 0 {
		s.MinCallSpacing = 100 * time.Millisecond
	}

	r := &cfg.RiskControl
	if r.RiskFloor == 0 {
		r.RiskFloor = 0.015
	}
	if r.ProfitCeiling == 0 {
		r.ProfitCeiling = 0.035
	}

	sys := &cfg.System
	if sys.LogLevel == "" {
		sys.LogLevel = "info"
	}
	if sys.LogMaxSize == 0 {
		sys.LogMaxSize = 10 * 1024 * 1024
	}
	if sys.LogBackupCount == 0 {
		sys.LogBackupCount = 5
	}
	if sys.RecoveryFile == "" {
		sys.RecoveryFile = "recovery_state.json"
	}
	if sys.RecoverySaveInterval == 0 {
		sys.RecoverySaveInterval = 5 * time.Minute
	}
	if sys.RecoveryMaxAge == 0 {
		sys.RecoveryMaxAge = time.Hour
	}
	if sys.SystemMonitorInterval == 0 {
		sys.SystemMonitorInterval = time.Minute
	}
	if sys.PerformanceWindow == 0 {
		sys.PerformanceWindow = 20
	}
	if sys.MonitorPollInterval == 0 {
		sys.MonitorPollInterval = 5 * time.Second
	}
	if sys.OrderTimeout == 0 {
		sys.OrderTimeout = 2 * time.Minute
	}
	if sys.CycleInterval == 0 {
		sys.CycleInterval = 5 * time.Minute
	}
	if sys.PostTradePause == 0 {
		sys.PostTradePause = time.Minute
	}
	if sys.ErrorCooldown == 0 {
		sys.ErrorCooldown = time.Minute
	}
	if sys.MaxConsecutiveFailures == 0 {
		sys.MaxConsecutiveFailures = 10
	}

	if cfg.Storage.S3.Region == "" {
		cfg.Storage.S3.Region = "us-east-1"
	}

	for name, sc := range cfg.Symbols {
		if sc.RiskWeight == 0 {
			sc.RiskWeight = 1.0
		}
		if sc.PricePrecision == 0 {
			sc.PricePrecision = 2
		}
		cfg.Symbols[name] = sc
	}
}

// Validate collects every problem so the operator can fix them in one pass.
func Validate(cfg *types.Config) error {
	var problems []string

	if cfg.API.APIKey == "" || cfg.API.APISecret == "" ||
		cfg.API.APIKey == "YOUR_API_KEY" || cfg.API.APISecret == "YOUR_API_SECRET" {
		problems = append(problems, "api key and secret must be set")
	}
	if cfg.API.TradingType != types.TradingSpot && cfg.API.TradingType != types.TradingFutures {
		problems = append(problems, fmt.Sprintf("trading_type must be spot or futures, got %q", cfg.API.TradingType))
	}
	if cfg.Trading.RiskPercent < 0.01 || cfg.Trading.RiskPercent > 0.05 {
		problems = append(problems, "risk_percent must be between 0.01 and 0.05")
	}
	if cfg.Trading.Leverage < 1 || cfg.Trading.Leverage > 5 {
		problems = append(problems, "leverage must be between 1 and 5")
	}
	if cfg.Trading.InitialBalance <= 0 {
		problems = append(problems, "initial_balance must be positive")
	}
	if cfg.RiskControl.RiskFloor > cfg.RiskControl.ProfitCeiling {
		problems = append(problems, "risk_floor must not exceed profit_ceiling")
	}
	if len(cfg.Symbols) == 0 {
		problems = append(problems, "at least one symbol must be configured")
	}
	for name, sc := range cfg.Symbols {
		for _, st := range []types.StrategyType{types.StrategyMomentum, types.StrategySwing} {
			if sc.StopMultiplier[st] <= 0 {
				problems = append(problems, fmt.Sprintf("%s: stop_multiplier.%s must be positive", name, st))
			}
			if sc.ProfitMultiplier[st] <= 0 {
				problems = append(problems, fmt.Sprintf("%s: profit_multiplier.%s must be positive", name, st))
			}
		}
		if sc.MinQty < 0 || sc.MaxPositionUSD <= 0 {
			problems = append(problems, fmt.Sprintf("%s: min_qty must be >= 0 and max_position_usd positive", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrValidation, strings.Join(problems, "\n  - "))
	}
	return nil
}

// ConfirmLive gates a mainnet start. Testnet passes; otherwise the
// XTRADER_CONFIRM_LIVE env var or an interactive YES is required.
func ConfirmLive(cfg *types.Config, in io.Reader, out io.Writer) error {
	if cfg.API.Testnet {
		return nil
	}
	if strings.EqualFold(os.Getenv(confirmEnv), "true") {
		return nil
	}
	if in == nil {
		return ErrLiveNotConfirmed
	}
	fmt.Fprintln(out, "⚠️  WARNING: you are about to trade with REAL funds!")
	fmt.Fprint(out, "Type YES to continue: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return ErrLiveNotConfirmed
	}
	if strings.TrimSpace(line) != "YES" {
		return ErrLiveNotConfirmed
	}
	return nil
}
