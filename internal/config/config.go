// Package config defines all configuration for the hedging engine.
// Everything is environment-driven: tunables read GRVT_HEDGE_* variables
// via viper (with defaults), credentials and alert secrets are read
// explicitly per numbered account. A JSON symbols file (symbols.go)
// declares the instruments to trade.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"grvt-hedge/pkg/types"
)

// AccountConfig holds one trading account's API credentials.
// PrivateKey signs orders and transfers (EIP-712); APIKey authenticates
// the REST session.
type AccountConfig struct {
	Label            types.AccountLabel
	APIKey           string
	PrivateKey       string
	TradingAccountID string
	Env              types.Environment
}

// AlertConfig holds the chat-gateway alert channel settings.
type AlertConfig struct {
	ChatID   string
	APIKey   string
	Endpoint string
}

// LoggingConfig selects level and the rotating log file.
type LoggingConfig struct {
	Level string
	File  string
}

// Config is the hedging engine's top-level configuration.
type Config struct {
	LoopInterval       time.Duration   // per-tick sleep between control loop passes
	OrderbookDepth     int             // depth requested from the book endpoint
	DiffThresholdUSDT  decimal.Decimal // below this |A|-|B| gap the per-account cap drops to 1
	PostOnlyMaxRetry   int             // reprice attempts before cooldown
	PostOnlyCooldown   time.Duration   // per-instrument placement freeze after retry exhaustion
	PartialFillTimeout time.Duration   // withhold partial fills from the ledger this long
	StuckThreshold     time.Duration   // unmatched-lot age that raises a stuck alert
	MMRAlertThreshold  decimal.Decimal // maintenance margin / equity alert level
	DailyReportAt      time.Duration   // UTC+8 wall clock for the daily stuck report
	MaxRuntime         time.Duration   // 0 = run forever
	CancelOnStop       bool            // cancel strategy orders during shutdown
	StopKeepOrders     int             // newest strategy orders to keep per account on stop
	SymbolsFile        string          // JSON symbols file path
	UseWSBook          bool            // keep the book cache warm over WebSocket
	Accounts           []AccountConfig
	Alert              AlertConfig
	Logging            LoggingConfig
}

// Load reads the engine configuration from the environment.
// Tunables use GRVT_HEDGE_* names with defaults matching production ops;
// credentials use GRVT_TRADING_{API_KEY,PRIVATE_KEY,ACCOUNT_ID}_{1,2}.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRVT_HEDGE")
	v.AutomaticEnv()

	v.SetDefault("loop_interval_sec", 2)
	v.SetDefault("orderbook_depth", 10)
	v.SetDefault("single_order_diff_threshold_usdt", "20")
	v.SetDefault("post_only_max_retry", 5)
	v.SetDefault("post_only_cooldown_sec", 300)
	v.SetDefault("partial_fill_timeout_sec", 1800)
	v.SetDefault("stuck_hours", 6)
	v.SetDefault("mmr_alert_threshold", "0.70")
	v.SetDefault("daily_report_time", "00:00")
	v.SetDefault("max_runtime_sec", 0)
	v.SetDefault("cancel_on_stop", "1")
	v.SetDefault("stop_keep_strategy_orders", 0)
	v.SetDefault("symbols_file", "config/hedge_symbols.json")
	v.SetDefault("ws_book", "1")
	v.SetDefault("log_file", "logs/hedge.log")

	diffThreshold, err := decimal.NewFromString(v.GetString("single_order_diff_threshold_usdt"))
	if err != nil {
		return nil, fmt.Errorf("parse GRVT_HEDGE_SINGLE_ORDER_DIFF_THRESHOLD_USDT: %w", err)
	}
	mmrThreshold, err := decimal.NewFromString(v.GetString("mmr_alert_threshold"))
	if err != nil {
		return nil, fmt.Errorf("parse GRVT_HEDGE_MMR_ALERT_THRESHOLD: %w", err)
	}
	reportAt, err := ParseClock(v.GetString("daily_report_time"))
	if err != nil {
		return nil, fmt.Errorf("parse GRVT_HEDGE_DAILY_REPORT_TIME: %w", err)
	}

	accounts, err := loadTradingAccounts()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LoopInterval:       time.Duration(v.GetInt("loop_interval_sec")) * time.Second,
		OrderbookDepth:     v.GetInt("orderbook_depth"),
		DiffThresholdUSDT:  diffThreshold,
		PostOnlyMaxRetry:   v.GetInt("post_only_max_retry"),
		PostOnlyCooldown:   time.Duration(v.GetInt("post_only_cooldown_sec")) * time.Second,
		PartialFillTimeout: time.Duration(v.GetInt("partial_fill_timeout_sec")) * time.Second,
		StuckThreshold:     time.Duration(v.GetInt("stuck_hours")) * time.Hour,
		MMRAlertThreshold:  mmrThreshold,
		DailyReportAt:      reportAt,
		MaxRuntime:         time.Duration(v.GetInt("max_runtime_sec")) * time.Second,
		CancelOnStop:       parseSwitch(v.GetString("cancel_on_stop")),
		StopKeepOrders:     v.GetInt("stop_keep_strategy_orders"),
		SymbolsFile:        strings.TrimSpace(v.GetString("symbols_file")),
		UseWSBook:          parseSwitch(v.GetString("ws_book")),
		Accounts:           accounts,
		Alert: AlertConfig{
			ChatID:   os.Getenv("CHAT_ID"),
			APIKey:   os.Getenv("API_KEY"),
			Endpoint: alertEndpoint(),
		},
		Logging: LoggingConfig{
			Level: logLevel(),
			File:  v.GetString("log_file"),
		},
	}

	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Accounts) != 2 {
		return fmt.Errorf("exactly 2 trading accounts are required (set GRVT_TRADING_API_KEY_1/_2, GRVT_TRADING_PRIVATE_KEY_1/_2, GRVT_TRADING_ACCOUNT_ID_1/_2), got %d", len(c.Accounts))
	}
	for _, acct := range c.Accounts {
		if err := acct.validate(); err != nil {
			return err
		}
	}
	if c.Accounts[0].TradingAccountID == c.Accounts[1].TradingAccountID {
		return fmt.Errorf("trading accounts must differ, both are %s", c.Accounts[0].TradingAccountID)
	}
	if c.Alert.ChatID == "" || c.Alert.APIKey == "" {
		return fmt.Errorf("alert channel is required: set CHAT_ID and API_KEY")
	}
	if c.LoopInterval <= 0 {
		return fmt.Errorf("GRVT_HEDGE_LOOP_INTERVAL_SEC must be > 0")
	}
	if c.OrderbookDepth <= 0 {
		return fmt.Errorf("GRVT_HEDGE_ORDERBOOK_DEPTH must be > 0")
	}
	if c.PostOnlyMaxRetry < 1 {
		return fmt.Errorf("GRVT_HEDGE_POST_ONLY_MAX_RETRY must be >= 1")
	}
	if c.MMRAlertThreshold.Sign() <= 0 || c.MMRAlertThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("GRVT_HEDGE_MMR_ALERT_THRESHOLD must be in (0, 1]")
	}
	if c.StopKeepOrders < 0 {
		return fmt.Errorf("GRVT_HEDGE_STOP_KEEP_STRATEGY_ORDERS must be >= 0")
	}
	if c.DailyReportAt < 0 || c.DailyReportAt >= 24*time.Hour {
		return fmt.Errorf("GRVT_HEDGE_DAILY_REPORT_TIME must be a clock time within the day")
	}
	if c.SymbolsFile == "" {
		return fmt.Errorf("GRVT_HEDGE_SYMBOLS_FILE must not be empty")
	}
	return nil
}

func (a AccountConfig) validate() error {
	if a.APIKey == "" || a.PrivateKey == "" || a.TradingAccountID == "" {
		return fmt.Errorf("account %s: api key, private key and trading account id are all required", a.Label)
	}
	switch a.Env {
	case types.EnvProd, types.EnvTestnet, types.EnvStaging, types.EnvDev:
	default:
		return fmt.Errorf("account %s: unsupported env %q", a.Label, a.Env)
	}
	return nil
}

// loadTradingAccounts reads numbered credential sets. When no numbered set
// exists, the single legacy set (GRVT_API_KEY etc.) is used as account 1
// so older deployments keep working.
func loadTradingAccounts() ([]AccountConfig, error) {
	labels := []types.AccountLabel{types.AccountA, types.AccountB}

	var accounts []AccountConfig
	for i, label := range labels {
		n := i + 1
		apiKey := os.Getenv(fmt.Sprintf("GRVT_TRADING_API_KEY_%d", n))
		privateKey := os.Getenv(fmt.Sprintf("GRVT_TRADING_PRIVATE_KEY_%d", n))
		accountID := os.Getenv(fmt.Sprintf("GRVT_TRADING_ACCOUNT_ID_%d", n))
		if apiKey == "" && privateKey == "" && accountID == "" {
			continue
		}
		env := os.Getenv(fmt.Sprintf("GRVT_ENV_%d", n))
		if env == "" {
			env = defaultEnv()
		}
		accounts = append(accounts, AccountConfig{
			Label:            label,
			APIKey:           apiKey,
			PrivateKey:       privateKey,
			TradingAccountID: accountID,
			Env:              types.Environment(strings.ToLower(env)),
		})
	}

	if len(accounts) == 0 {
		apiKey := os.Getenv("GRVT_API_KEY")
		privateKey := os.Getenv("GRVT_PRIVATE_KEY")
		accountID := os.Getenv("GRVT_TRADING_ACCOUNT_ID")
		if apiKey != "" || privateKey != "" || accountID != "" {
			accounts = append(accounts, AccountConfig{
				Label:            types.AccountA,
				APIKey:           apiKey,
				PrivateKey:       privateKey,
				TradingAccountID: accountID,
				Env:              types.Environment(strings.ToLower(defaultEnv())),
			})
		}
	}

	return accounts, nil
}

func defaultEnv() string {
	if env := os.Getenv("GRVT_ENV"); env != "" {
		return env
	}
	return string(types.EnvProd)
}

func alertEndpoint() string {
	if ep := os.Getenv("TELEGRAM_LOCAL_ENDPOINT"); ep != "" {
		return ep
	}
	return "http://localhost:3000/send-message"
}

func logLevel() string {
	if lvl := os.Getenv("GRVT_LOG_LEVEL"); lvl != "" {
		return strings.ToLower(lvl)
	}
	return "info"
}

// parseSwitch interprets operator-style boolean flags: anything except
// "0", "false" and "no" counts as on.
func parseSwitch(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "false", "no":
		return false
	}
	return true
}

// ParseClock parses an "HH:MM" wall-clock time into the offset from
// midnight.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}
