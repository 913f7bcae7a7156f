package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grvt-hedge/pkg/types"
)

// setTradingEnv populates a complete two-account environment. Tests using
// it must not run in parallel (t.Setenv).
func setTradingEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GRVT_TRADING_API_KEY_1", "key-a")
	t.Setenv("GRVT_TRADING_PRIVATE_KEY_1", "aa")
	t.Setenv("GRVT_TRADING_ACCOUNT_ID_1", "111")
	t.Setenv("GRVT_TRADING_API_KEY_2", "key-b")
	t.Setenv("GRVT_TRADING_PRIVATE_KEY_2", "bb")
	t.Setenv("GRVT_TRADING_ACCOUNT_ID_2", "222")
	t.Setenv("GRVT_ENV", "testnet")
	t.Setenv("CHAT_ID", "chat-1")
	t.Setenv("API_KEY", "alert-key")
}

func TestLoadNumberedAccounts(t *testing.T) {
	setTradingEnv(t)
	t.Setenv("GRVT_ENV_2", "staging")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(cfg.Accounts))
	}

	a, b := cfg.Accounts[0], cfg.Accounts[1]
	if a.Label != types.AccountA || b.Label != types.AccountB {
		t.Errorf("labels = %q/%q, want A/B", a.Label, b.Label)
	}
	if a.TradingAccountID != "111" || b.TradingAccountID != "222" {
		t.Errorf("account ids = %s/%s", a.TradingAccountID, b.TradingAccountID)
	}
	if a.Env != types.EnvTestnet {
		t.Errorf("account A env = %q, want testnet fallback", a.Env)
	}
	if b.Env != types.EnvStaging {
		t.Errorf("account B env = %q, want per-account staging", b.Env)
	}
}

func TestLoadDefaults(t *testing.T) {
	setTradingEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LoopInterval != 2*time.Second {
		t.Errorf("loop interval = %v, want 2s", cfg.LoopInterval)
	}
	if cfg.OrderbookDepth != 10 {
		t.Errorf("orderbook depth = %d, want 10", cfg.OrderbookDepth)
	}
	if cfg.DiffThresholdUSDT.String() != "20" {
		t.Errorf("diff threshold = %s, want 20", cfg.DiffThresholdUSDT)
	}
	if cfg.PostOnlyMaxRetry != 5 {
		t.Errorf("post-only retries = %d, want 5", cfg.PostOnlyMaxRetry)
	}
	if cfg.PostOnlyCooldown != 300*time.Second {
		t.Errorf("post-only cooldown = %v, want 300s", cfg.PostOnlyCooldown)
	}
	if cfg.PartialFillTimeout != 1800*time.Second {
		t.Errorf("partial fill timeout = %v, want 1800s", cfg.PartialFillTimeout)
	}
	if cfg.StuckThreshold != 6*time.Hour {
		t.Errorf("stuck threshold = %v, want 6h", cfg.StuckThreshold)
	}
	if cfg.MMRAlertThreshold.String() != "0.7" {
		t.Errorf("mmr threshold = %s, want 0.7", cfg.MMRAlertThreshold)
	}
	if !cfg.CancelOnStop {
		t.Error("cancel on stop should default on")
	}
	if !cfg.UseWSBook {
		t.Error("ws book should default on")
	}
	if cfg.SymbolsFile != "config/hedge_symbols.json" {
		t.Errorf("symbols file = %q", cfg.SymbolsFile)
	}
	if cfg.DailyReportAt != 0 {
		t.Errorf("daily report at = %v, want midnight", cfg.DailyReportAt)
	}
	if cfg.Alert.Endpoint != "http://localhost:3000/send-message" {
		t.Errorf("alert endpoint = %q", cfg.Alert.Endpoint)
	}
}

func TestLoadOverrides(t *testing.T) {
	setTradingEnv(t)
	t.Setenv("GRVT_HEDGE_LOOP_INTERVAL_SEC", "5")
	t.Setenv("GRVT_HEDGE_CANCEL_ON_STOP", "0")
	t.Setenv("GRVT_HEDGE_WS_BOOK", "false")
	t.Setenv("GRVT_HEDGE_STOP_KEEP_STRATEGY_ORDERS", "3")
	t.Setenv("GRVT_HEDGE_MMR_ALERT_THRESHOLD", "0.55")
	t.Setenv("GRVT_HEDGE_DAILY_REPORT_TIME", "16:30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LoopInterval != 5*time.Second {
		t.Errorf("loop interval = %v, want 5s", cfg.LoopInterval)
	}
	if cfg.CancelOnStop {
		t.Error("cancel on stop should be off")
	}
	if cfg.UseWSBook {
		t.Error("ws book should be off")
	}
	if cfg.StopKeepOrders != 3 {
		t.Errorf("stop keep orders = %d, want 3", cfg.StopKeepOrders)
	}
	if cfg.MMRAlertThreshold.String() != "0.55" {
		t.Errorf("mmr threshold = %s, want 0.55", cfg.MMRAlertThreshold)
	}
	if cfg.DailyReportAt != 16*time.Hour+30*time.Minute {
		t.Errorf("daily report at = %v, want 16h30m", cfg.DailyReportAt)
	}
}

func TestLoadRejectsBadReportTime(t *testing.T) {
	setTradingEnv(t)
	t.Setenv("GRVT_HEDGE_DAILY_REPORT_TIME", "25:00")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DAILY_REPORT_TIME") {
		t.Errorf("Load with a bad report time: err = %v", err)
	}
}

func TestLoadLegacySingleAccount(t *testing.T) {
	t.Setenv("GRVT_API_KEY", "legacy-key")
	t.Setenv("GRVT_PRIVATE_KEY", "cc")
	t.Setenv("GRVT_TRADING_ACCOUNT_ID", "333")
	t.Setenv("CHAT_ID", "chat-1")
	t.Setenv("API_KEY", "alert-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Accounts) != 1 {
		t.Fatalf("accounts = %d, want 1 legacy account", len(cfg.Accounts))
	}
	if cfg.Accounts[0].Label != types.AccountA || cfg.Accounts[0].TradingAccountID != "333" {
		t.Errorf("legacy account = %+v", cfg.Accounts[0])
	}
	// A single account loads but fails validation: hedging needs the pair.
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should reject a single-account config")
	}
}

func TestValidate(t *testing.T) {
	setTradingEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate on a complete config: %v", err)
	}

	dup := *cfg
	dup.Accounts = append([]AccountConfig(nil), cfg.Accounts...)
	dup.Accounts[1].TradingAccountID = dup.Accounts[0].TradingAccountID
	if err := dup.Validate(); err == nil || !strings.Contains(err.Error(), "differ") {
		t.Errorf("duplicate trading ids: err = %v", err)
	}

	noAlert := *cfg
	noAlert.Alert.ChatID = ""
	if err := noAlert.Validate(); err == nil {
		t.Error("missing alert channel should fail validation")
	}

	badMMR := *cfg
	badMMR.MMRAlertThreshold = decimal.NewFromInt(2)
	if err := badMMR.Validate(); err == nil {
		t.Error("MMR threshold above 1 should fail validation")
	}

	noSymbols := *cfg
	noSymbols.SymbolsFile = ""
	if err := noSymbols.Validate(); err == nil {
		t.Error("empty symbols file path should fail validation")
	}
}

func TestParseSwitch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"yes", true},
		{"anything", true},
		{"0", false},
		{"false", false},
		{"no", false},
		{" FALSE ", false},
	}

	for _, tt := range tests {
		if got := parseSwitch(tt.in); got != tt.want {
			t.Errorf("parseSwitch(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	valid := []struct {
		in   string
		want time.Duration
	}{
		{"00:00", 0},
		{"16:30", 16*time.Hour + 30*time.Minute},
		{"23:59", 23*time.Hour + 59*time.Minute},
		{" 09:05 ", 9*time.Hour + 5*time.Minute},
	}
	for _, tt := range valid {
		got, err := ParseClock(tt.in)
		if err != nil {
			t.Errorf("ParseClock(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"", "1630", "24:00", "12:60", "ab:cd", "12"} {
		if _, err := ParseClock(in); err == nil {
			t.Errorf("ParseClock(%q) should fail", in)
		}
	}
}
