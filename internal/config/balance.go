package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"grvt-hedge/pkg/types"
)

// FundingConfig holds one funding account's credentials. Funding API
// keys authorise transfers; the address is the main account's on-chain
// identity, used as the source of external transfer legs and required
// in the counterparty's Address Book.
type FundingConfig struct {
	APIKey     string
	PrivateKey string
	AccountID  string // funding account internal id
	Address    string // 0x-prefixed main-account address
}

// Configured reports whether any funding credential is set. Funding is
// optional per account: without it the poller only watches balances.
func (f FundingConfig) Configured() bool {
	return f.APIKey != "" || f.PrivateKey != "" || f.AccountID != "" || f.Address != ""
}

func (f FundingConfig) validate(label types.AccountLabel) error {
	if f.APIKey == "" || f.PrivateKey == "" || f.AccountID == "" || f.Address == "" {
		return fmt.Errorf("funding account %s: api key, private key, account id and address are all required once any is set", label)
	}
	if !common.IsHexAddress(f.Address) {
		return fmt.Errorf("funding account %s: address %q is not a 0x-prefixed 20-byte hex address", label, f.Address)
	}
	return nil
}

// BalancePair couples one trading account with its funding sidecar and
// the per-account equity alert threshold.
type BalancePair struct {
	Trading         AccountConfig
	Funding         FundingConfig
	EquityThreshold decimal.Decimal // 0 disables the low-balance alert
	MainAccountID   string          // fallback when the venue omits it in summaries
}

// BalanceConfig is the balance poller's top-level configuration.
type BalanceConfig struct {
	PollInterval     time.Duration
	ThresholdPercent decimal.Decimal // equity share that triggers a rebalance
	TargetPercent    decimal.Decimal // share restored by the transfer
	SweepThreshold   decimal.Decimal // funding balance that triggers a sweep
	SummaryAt        time.Duration   // UTC+8 wall clock for the daily summary
	Pairs            []BalancePair
	Alert            AlertConfig
	Logging          LoggingConfig
}

// LoadBalance reads the balance poller configuration from the
// environment. Tunables use GRVT_* names; trading credentials are the
// same numbered sets the hedger uses, funding credentials add
// GRVT_FUNDING_{API_KEY,PRIVATE_KEY,ACCOUNT_ID,ACCOUNT_ADDRESS}_{1,2}.
func LoadBalance() (*BalanceConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("GRVT")
	v.AutomaticEnv()

	v.SetDefault("poll_interval", 30)
	v.SetDefault("balance_threshold_percent", "43")
	v.SetDefault("balance_target_percent", "48")
	v.SetDefault("funding_sweep_threshold", "100")
	v.SetDefault("daily_summary_time", "16:30")
	v.SetDefault("balance_log_file", "logs/balance.log")

	threshold, err := decimal.NewFromString(v.GetString("balance_threshold_percent"))
	if err != nil {
		return nil, fmt.Errorf("parse GRVT_BALANCE_THRESHOLD_PERCENT: %w", err)
	}
	target, err := decimal.NewFromString(v.GetString("balance_target_percent"))
	if err != nil {
		return nil, fmt.Errorf("parse GRVT_BALANCE_TARGET_PERCENT: %w", err)
	}
	sweep, err := decimal.NewFromString(v.GetString("funding_sweep_threshold"))
	if err != nil {
		return nil, fmt.Errorf("parse GRVT_FUNDING_SWEEP_THRESHOLD: %w", err)
	}
	summaryAt, err := ParseClock(v.GetString("daily_summary_time"))
	if err != nil {
		return nil, fmt.Errorf("parse GRVT_DAILY_SUMMARY_TIME: %w", err)
	}

	trading, err := loadTradingAccounts()
	if err != nil {
		return nil, err
	}

	pairs := make([]BalancePair, 0, len(trading))
	for i, acct := range trading {
		n := i + 1
		pair := BalancePair{
			Trading: acct,
			Funding: FundingConfig{
				APIKey:     os.Getenv(fmt.Sprintf("GRVT_FUNDING_API_KEY_%d", n)),
				PrivateKey: os.Getenv(fmt.Sprintf("GRVT_FUNDING_PRIVATE_KEY_%d", n)),
				AccountID:  os.Getenv(fmt.Sprintf("GRVT_FUNDING_ACCOUNT_ID_%d", n)),
				Address:    os.Getenv(fmt.Sprintf("GRVT_FUNDING_ACCOUNT_ADDRESS_%d", n)),
			},
			MainAccountID: os.Getenv(fmt.Sprintf("GRVT_RELATED_MAIN_ACCOUNT_ID_%d", n)),
		}
		raw := os.Getenv(fmt.Sprintf("GRVT_THRESHOLD_%d", n))
		if raw == "" {
			raw = os.Getenv("GRVT_THRESHOLD")
		}
		if raw != "" {
			pair.EquityThreshold, err = decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("parse GRVT_THRESHOLD_%d: %w", n, err)
			}
		}
		pairs = append(pairs, pair)
	}

	return &BalanceConfig{
		PollInterval:     time.Duration(v.GetInt("poll_interval")) * time.Second,
		ThresholdPercent: threshold,
		TargetPercent:    target,
		SweepThreshold:   sweep,
		SummaryAt:        summaryAt,
		Pairs:            pairs,
		Alert: AlertConfig{
			ChatID:   os.Getenv("CHAT_ID"),
			APIKey:   os.Getenv("API_KEY"),
			Endpoint: alertEndpoint(),
		},
		Logging: LoggingConfig{
			Level: logLevel(),
			File:  v.GetString("balance_log_file"),
		},
	}, nil
}

// Validate checks required fields and value ranges.
func (c *BalanceConfig) Validate() error {
	if len(c.Pairs) != 2 {
		return fmt.Errorf("exactly 2 trading accounts are required (set GRVT_TRADING_API_KEY_1/_2, GRVT_TRADING_PRIVATE_KEY_1/_2, GRVT_TRADING_ACCOUNT_ID_1/_2), got %d", len(c.Pairs))
	}
	for _, pair := range c.Pairs {
		if err := pair.Trading.validate(); err != nil {
			return err
		}
		if pair.Funding.Configured() {
			if err := pair.Funding.validate(pair.Trading.Label); err != nil {
				return err
			}
		}
		if pair.EquityThreshold.Sign() < 0 {
			return fmt.Errorf("account %s: GRVT_THRESHOLD must be >= 0", pair.Trading.Label)
		}
	}
	if c.Pairs[0].Trading.TradingAccountID == c.Pairs[1].Trading.TradingAccountID {
		return fmt.Errorf("trading accounts must differ, both are %s", c.Pairs[0].Trading.TradingAccountID)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("GRVT_POLL_INTERVAL must be > 0")
	}
	hundred := decimal.NewFromInt(100)
	if c.ThresholdPercent.Sign() <= 0 || c.ThresholdPercent.GreaterThanOrEqual(decimal.NewFromInt(50)) {
		return fmt.Errorf("GRVT_BALANCE_THRESHOLD_PERCENT must be in (0, 50): a share of half or more never lags")
	}
	if c.TargetPercent.LessThanOrEqual(c.ThresholdPercent) || c.TargetPercent.GreaterThan(hundred) {
		return fmt.Errorf("GRVT_BALANCE_TARGET_PERCENT must be above the threshold and at most 100")
	}
	if c.SweepThreshold.Sign() < 0 {
		return fmt.Errorf("GRVT_FUNDING_SWEEP_THRESHOLD must be >= 0")
	}
	if c.SummaryAt < 0 || c.SummaryAt >= 24*time.Hour {
		return fmt.Errorf("GRVT_DAILY_SUMMARY_TIME must be a clock time within the day")
	}
	if c.Alert.ChatID == "" || c.Alert.APIKey == "" {
		return fmt.Errorf("alert channel is required: set CHAT_ID and API_KEY")
	}
	return nil
}
