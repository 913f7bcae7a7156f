package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"grvt-hedge/pkg/types"
)

// SymbolConfig is one instrument's hedging parameters from the symbols
// file. Instrument starts as the operator-supplied name; the engine
// rewrites it to the venue's canonical form at startup.
type SymbolConfig struct {
	Instrument           string
	Enabled              bool
	OrderNotionalUSDT    decimal.Decimal
	ImbalanceLimitUSDT   decimal.Decimal
	MaxTotalPositionUSDT decimal.Decimal
	MinTotalPositionUSDT decimal.Decimal
	ASideWhenEqual       types.Side
	PositionMode         types.PositionMode
}

// symbolEntry is the JSON shape of one symbols-file element. Pointers
// distinguish missing fields (which take defaults) from explicit values;
// unknown fields are ignored.
type symbolEntry struct {
	Instrument           string           `json:"instrument"`
	Enabled              *bool            `json:"enabled"`
	OrderNotionalUSDT    *decimal.Decimal `json:"order_notional_usdt"`
	ImbalanceLimitUSDT   *decimal.Decimal `json:"imbalance_limit_usdt"`
	MaxTotalPositionUSDT *decimal.Decimal `json:"max_total_position_usdt"`
	MinTotalPositionUSDT *decimal.Decimal `json:"min_total_position_usdt"`
	ASideWhenEqual       string           `json:"a_side_when_equal"`
	PositionMode         string           `json:"position_mode"`
}

// LoadSymbols reads and validates the symbols file. The file must be a
// non-empty JSON array; disabled entries are returned too, the engine
// skips them.
func LoadSymbols(path string) ([]SymbolConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbols file %s: %w", path, err)
	}

	var entries []symbolEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse symbols file %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("symbols file %s must be a non-empty JSON array", path)
	}

	configs := make([]SymbolConfig, 0, len(entries))
	for i, entry := range entries {
		cfg, err := entry.toConfig()
		if err != nil {
			return nil, fmt.Errorf("symbols file %s entry %d: %w", path, i, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (e symbolEntry) toConfig() (SymbolConfig, error) {
	instrument := strings.TrimSpace(e.Instrument)
	if instrument == "" {
		return SymbolConfig{}, fmt.Errorf("missing instrument")
	}

	cfg := SymbolConfig{
		Instrument:           instrument,
		Enabled:              true,
		OrderNotionalUSDT:    decimal.NewFromInt(1000),
		ImbalanceLimitUSDT:   decimal.NewFromInt(1000),
		MaxTotalPositionUSDT: decimal.NewFromInt(20000),
		MinTotalPositionUSDT: decimal.Zero,
		ASideWhenEqual:       types.BUY,
		PositionMode:         types.ModeIncrease,
	}
	if e.Enabled != nil {
		cfg.Enabled = *e.Enabled
	}
	if e.OrderNotionalUSDT != nil {
		cfg.OrderNotionalUSDT = *e.OrderNotionalUSDT
	}
	if e.ImbalanceLimitUSDT != nil {
		cfg.ImbalanceLimitUSDT = *e.ImbalanceLimitUSDT
	}
	if e.MaxTotalPositionUSDT != nil {
		cfg.MaxTotalPositionUSDT = *e.MaxTotalPositionUSDT
	}
	if e.MinTotalPositionUSDT != nil {
		cfg.MinTotalPositionUSDT = *e.MinTotalPositionUSDT
	}

	switch strings.ToLower(strings.TrimSpace(e.ASideWhenEqual)) {
	case "", "buy":
		cfg.ASideWhenEqual = types.BUY
	case "sell":
		cfg.ASideWhenEqual = types.SELL
	default:
		return SymbolConfig{}, fmt.Errorf("%s: invalid a_side_when_equal %q", instrument, e.ASideWhenEqual)
	}

	switch strings.ToLower(strings.TrimSpace(e.PositionMode)) {
	case "", "increase":
		cfg.PositionMode = types.ModeIncrease
	case "decrease":
		cfg.PositionMode = types.ModeDecrease
	default:
		return SymbolConfig{}, fmt.Errorf("%s: invalid position_mode %q", instrument, e.PositionMode)
	}

	if cfg.MaxTotalPositionUSDT.Sign() < 0 {
		return SymbolConfig{}, fmt.Errorf("%s: invalid max_total_position_usdt %s", instrument, cfg.MaxTotalPositionUSDT)
	}
	if cfg.MinTotalPositionUSDT.Sign() < 0 {
		return SymbolConfig{}, fmt.Errorf("%s: invalid min_total_position_usdt %s", instrument, cfg.MinTotalPositionUSDT)
	}
	if cfg.MinTotalPositionUSDT.GreaterThan(cfg.MaxTotalPositionUSDT) {
		return SymbolConfig{}, fmt.Errorf("%s: min_total_position_usdt %s > max_total_position_usdt %s",
			instrument, cfg.MinTotalPositionUSDT, cfg.MaxTotalPositionUSDT)
	}
	return cfg, nil
}
