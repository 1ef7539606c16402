// File: pkg/types/models.go
// ============================================
package types

import "time"

// Config represents the bot configuration
type Config struct {
	API         APIConfig               `yaml:"api" json:"api"`
	Telegram    TelegramConfig          `yaml:"telegram" json:"telegram"`
	Trading     TradingConfig           `yaml:"trading" json:"trading"`
	Safety      SafetyConfig            `yaml:"safety" json:"safety"`
	RiskControl RiskControlConfig       `yaml:"risk_control" json:"risk_control"`
	System      SystemConfig            `yaml:"system" json:"system"`
	Storage     StorageConfig           `yaml:"storage" json:"storage"`
	Symbols     map[string]SymbolConfig `yaml:"symbols" json:"symbols"`
}

type APIConfig struct {
	APIKey      string `yaml:"api_key" json:"api_key"`
	APISecret   string `yaml:"api_secret" json:"api_secret"`
	Testnet     bool   `yaml:"testnet" json:"testnet"`
	TradingType string `yaml:"trading_type" json:"trading_type"` // spot | futures
}

type TelegramConfig struct {
	Token   string `yaml:"token" json:"token"`
	ChatID  string `yaml:"chat_id" json:"chat_id"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type TradingConfig struct {
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance"`
	Leverage       int     `yaml:"leverage" json:"leverage"`
	RiskPercent    float64 `yaml:"risk_percent" json:"risk_percent"` // fraction, 0.02 = 2%
	MaxDailyTrades int     `yaml:"max_daily_trades" json:"max_daily_trades"`
	TradeInterval  string  `yaml:"trade_interval" json:"trade_interval"` // kline interval, e.g. 15m
	KlineLimit     int     `yaml:"kline_limit" json:"kline_limit"`
}

type SafetyConfig struct {
	MaxSlippage      float64       `yaml:"max_slippage" json:"max_slippage"`
	APIRetries       int           `yaml:"api_retries" json:"api_retries"`
	APITimeout       time.Duration `yaml:"api_timeout" json:"api_timeout"`
	MaxOpenOrders    int           `yaml:"max_open_orders" json:"max_open_orders"`
	MemoryLimit      float64       `yaml:"memory_limit" json:"memory_limit"` // host memory percent
	MaxGoroutines    int           `yaml:"max_goroutines" json:"max_goroutines"`
	VolatilityFactor float64       `yaml:"volatility_factor" json:"volatility_factor"`
	MinCallSpacing   time.Duration `yaml:"min_call_spacing" json:"min_call_spacing"`
}

type RiskControlConfig struct {
	RiskFloor      float64 `yaml:"risk_floor" json:"risk_floor"`
	ProfitCeiling  float64 `yaml:"profit_ceiling" json:"profit_ceiling"`
	DailyLossLimit float64 `yaml:"daily_loss_limit" json:"daily_loss_limit"` // fraction of initial balance
	MaxDrawdown    float64 `yaml:"max_drawdown" json:"max_drawdown"`         // fraction of peak balance
}

type SystemConfig struct {
	LogLevel               string        `yaml:"log_level" json:"log_level"`
	LogFile                string        `yaml:"log_file" json:"log_file"`
	LogMaxSize             int           `yaml:"log_max_size" json:"log_max_size"` // bytes
	LogBackupCount         int           `yaml:"log_backup_count" json:"log_backup_count"`
	RecoveryFile           string        `yaml:"recovery_file" json:"recovery_file"`
	RecoverySaveInterval   time.Duration `yaml:"recovery_save_interval" json:"recovery_save_interval"`
	RecoveryMaxAge         time.Duration `yaml:"recovery_max_age" json:"recovery_max_age"`
	SystemMonitorInterval  time.Duration `yaml:"system_monitor_interval" json:"system_monitor_interval"`
	PerformanceWindow      int           `yaml:"performance_window" json:"performance_window"`
	MonitorPollInterval    time.Duration `yaml:"monitor_poll_interval" json:"monitor_poll_interval"`
	OrderTimeout           time.Duration `yaml:"order_timeout" json:"order_timeout"`
	CycleInterval          time.Duration `yaml:"cycle_interval" json:"cycle_interval"`
	PostTradePause         time.Duration `yaml:"post_trade_pause" json:"post_trade_pause"`
	ErrorCooldown          time.Duration `yaml:"error_cooldown" json:"error_cooldown"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	JournalPath            string        `yaml:"journal_path" json:"journal_path"`
	StatusAddr             string        `yaml:"status_addr" json:"status_addr"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3" json:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	Region          string `yaml:"region" json:"region"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
}

// SymbolConfig is the per-symbol sizing and exit table.
type SymbolConfig struct {
	RiskWeight       float64                  `yaml:"risk_weight" json:"risk_weight"`
	StopMultiplier   map[StrategyType]float64 `yaml:"stop_multiplier" json:"stop_multiplier"`
	ProfitMultiplier map[StrategyType]float64 `yaml:"profit_multiplier" json:"profit_multiplier"`
	MinQty           float64                  `yaml:"min_qty" json:"min_qty"`
	MaxPositionUSD   float64                  `yaml:"max_position_usd" json:"max_position_usd"`
	PricePrecision   int32                    `yaml:"price_precision" json:"price_precision"`
}

// Redacted returns a copy safe to persist or expose: credentials are blanked.
func (c Config) Redacted() Config {
	out := c
	if out.API.APIKey != "" {
		out.API.APIKey = "***"
	}
	if out.API.APISecret != "" {
		out.API.APISecret = "***"
	}
	if out.Telegram.Token != "" {
		out.Telegram.Token = "***"
	}
	out.Storage.S3.AccessKeyID = ""
	out.Storage.S3.SecretAccessKey = ""
	return out
}

func (c Config) IsFutures() bool {
	return c.API.TradingType == TradingFutures
}

const (
	TradingSpot    = "spot"
	TradingFutures = "futures"
)

type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Regime is a coarse market-condition label.
type Regime string

const (
	RegimeTrending   Regime = "TRENDING"
	RegimeOversold   Regime = "OVERSOLD"
	RegimeOverbought Regime = "OVERBOUGHT"
	RegimeRanging    Regime = "RANGING"
	RegimeUnknown    Regime = "UNKNOWN"
)

type StrategyType string

const (
	StrategyMomentum StrategyType = "MOMENTUM"
	StrategySwing    StrategyType = "SWING"
)

// FeatureRow holds the indicators derived for a single bar.
type FeatureRow struct {
	Time        time.Time
	Close       float64
	Momentum    float64
	RSI         float64
	ATR         float64
	EMAFast     float64
	EMASlow     float64
	BBUpper     float64
	BBMiddle    float64
	BBLower     float64
	VolumeRatio float64
	ADX         float64 // NaN when undefined
	Regime      Regime
}

const SideBuy = "BUY"
const SideSell = "SELL"

type Signal struct {
	Symbol     string       `json:"symbol"`
	Side       string       `json:"side"`
	Strategy   StrategyType `json:"type"`
	Size       float64      `json:"size"`
	Price      float64      `json:"price"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	ATR        float64      `json:"atr"`
	Regime     Regime       `json:"regime"`
	CreatedAt  time.Time    `json:"created_at"`
}

// OrderState is the lifecycle state of a managed order.
type OrderState string

const (
	StatePendingCheck       OrderState = "PENDING_CHECK"
	StateSubmitted          OrderState = "SUBMITTED"
	StateRiskOrdersAttached OrderState = "RISK_ORDERS_ATTACHED"
	StateMonitoring         OrderState = "MONITORING"
	StateFilled             OrderState = "FILLED"
	StateCanceled           OrderState = "CANCELED"
	StateTimedOut           OrderState = "TIMED_OUT"
	StateRejected           OrderState = "REJECTED"
)

func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateTimedOut, StateRejected:
		return true
	}
	return false
}

type ManagedOrder struct {
	OrderID            int64      `json:"order_id"`
	ClientOrderID      string     `json:"client_order_id"`
	Signal             Signal     `json:"signal"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	State              OrderState `json:"state"`
	RiskOrdersAttached bool       `json:"risk_orders_attached"`
}

// TradeRecord is one executed fill. PnL is present only when it could be
// attributed to a closed position.
type TradeRecord struct {
	Symbol    string       `json:"symbol"`
	Side      string       `json:"side"`
	Size      float64      `json:"size"`
	Price     float64      `json:"price"`
	Timestamp time.Time    `json:"timestamp"`
	Strategy  StrategyType `json:"signal_type"`
	OrderID   int64        `json:"order_id"`
	PnL       *float64     `json:"pnl,omitempty"`
}

// RealizedPnL returns the realized PnL, or zero when none is attributed.
func (t TradeRecord) RealizedPnL() float64 {
	if t.PnL == nil {
		return 0
	}
	return *t.PnL
}

// OrderStatus normalizes exchange status strings.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// OrderReport is the exchange view of one order.
type OrderReport struct {
	OrderID       int64       `json:"order_id"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Status        OrderStatus `json:"status"`
	ExecutedQty   float64     `json:"executed_qty"`
	AvgPrice      float64     `json:"avg_price"`
	// NetQty is the base quantity received after base-asset commissions.
	// Zero when the venue does not report fills.
	NetQty        float64     `json:"net_qty,omitempty"`
}

type RiskOrderKind string

const (
	RiskStopLoss   RiskOrderKind = "STOP_LOSS"
	RiskTakeProfit RiskOrderKind = "TAKE_PROFIT"
)

type RiskOrderRequest struct {
	Symbol    string
	Kind      RiskOrderKind
	Quantity  float64
	StopPrice float64
	Precision int32
}

// ProtectionRequest asks for both exit legs of an entry. StopLimit is the
// worst acceptable price once the stop triggers on venues that need one.
type ProtectionRequest struct {
	Symbol     string
	Quantity   float64
	StopLoss   float64
	StopLimit  float64
	TakeProfit float64
	Precision  int32
}

// ExchangePosition is an open futures position or a non-zero spot balance.
type ExchangePosition struct {
	Symbol     string  `json:"symbol"`
	Amount     float64 `json:"amount"`
	EntryPrice float64 `json:"entry_price,omitempty"`
	Locked     float64 `json:"locked,omitempty"`
}

type ExchangeOrder struct {
	OrderID   int64   `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	StopPrice float64 `json:"stop_price,omitempty"`
}
