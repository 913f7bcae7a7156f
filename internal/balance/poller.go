// Package balance keeps the paired trading accounts funded and level.
//
// A poller reads both accounts' summaries every PollInterval. It pages
// when an account's equity drops under its configured floor, sweeps
// idle funding balances back into trading, and when one account's
// share of combined equity falls below ThresholdPercent it tops the
// laggard up to TargetPercent from the other side. Trading keys cannot
// transfer across main accounts, so rebalancing routes through the
// funding accounts (both destinations must be whitelisted in the
// venue's Address Book).
package balance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/config"
	"grvt-hedge/internal/exchange"
	"grvt-hedge/pkg/types"
)

const (
	// Repeated low-equity pages for the same account are collapsed.
	lowBalanceCooldown = 30 * time.Minute

	// A fresh transfer needs time to land in the target's summary
	// before the share math is trustworthy again.
	transferCooldown = 30 * time.Second
)

var beijing = time.FixedZone("UTC+8", 8*60*60)

// Venue is the slice of the exchange client the poller needs.
// *exchange.Client satisfies it.
type Venue interface {
	Login(ctx context.Context) error
	AccountSummary(ctx context.Context) (types.AccountSummary, error)
	FundingSummary(ctx context.Context) (types.AccountSummary, error)
	Transfer(ctx context.Context, req types.TransferRequest) error
}

// Alerter pages the operator. *risk.Manager satisfies it.
type Alerter interface {
	Notify(ctx context.Context, key string, cooldown time.Duration, title, message string)
}

// Leg is one trading account plus its funding sidecar.
type Leg struct {
	Name      types.AccountLabel
	Trading   Venue
	Funding   Venue // nil when no funding key is configured
	TradingID string
	Address   string // funding wallet address, used as the external transfer source
	MainID    string // fallback when the venue omits the main account id
	Threshold decimal.Decimal
}

// legState is one account's view from a single poll round.
type legState struct {
	equity      decimal.Decimal
	available   decimal.Decimal
	maintenance decimal.Decimal
	mainID      string
	ok          bool // trading summary fetched
	normal      bool // fetched, above threshold, funding healthy
}

// Poller drives the polling loop.
type Poller struct {
	cfg    *config.BalanceConfig
	legs   []*Leg
	alerts Alerter
	logger *logrus.Entry

	clock        func() time.Time
	stepWait     time.Duration
	retryBackoff time.Duration

	lastTransfer map[string]time.Time
	lastSummary  string // UTC+8 day the last all-clear went out
}

// BuildLegs constructs the venue clients for each configured pair.
func BuildLegs(cfg *config.BalanceConfig, logger *logrus.Logger) ([]*Leg, error) {
	legs := make([]*Leg, 0, len(cfg.Pairs))
	for _, pair := range cfg.Pairs {
		trading, err := exchange.NewClient(pair.Trading, logger)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", pair.Trading.Label, err)
		}
		leg := &Leg{
			Name:      pair.Trading.Label,
			Trading:   trading,
			TradingID: pair.Trading.TradingAccountID,
			MainID:    pair.MainAccountID,
			Threshold: pair.EquityThreshold,
		}
		if pair.Funding.Configured() {
			// The funding key signs with the funding account id in the
			// sub-account slot, same as the trading key does with its id.
			funding, err := exchange.NewClient(config.AccountConfig{
				Label:            pair.Trading.Label,
				APIKey:           pair.Funding.APIKey,
				PrivateKey:       pair.Funding.PrivateKey,
				TradingAccountID: pair.Funding.AccountID,
				Env:              pair.Trading.Env,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("funding account %s: %w", pair.Trading.Label, err)
			}
			leg.Funding = funding
			leg.Address = pair.Funding.Address
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

// NewPoller wires a poller over already-built legs.
func NewPoller(cfg *config.BalanceConfig, legs []*Leg, alerts Alerter, logger *logrus.Logger) *Poller {
	return &Poller{
		cfg:          cfg,
		legs:         legs,
		alerts:       alerts,
		logger:       logger.WithField("component", "balance"),
		clock:        time.Now,
		stepWait:     stepSettleWait,
		retryBackoff: retryInitialBackoff,
		lastTransfer: make(map[string]time.Time),
	}
}

// Run logs in every venue session and polls until the context ends.
func (p *Poller) Run(ctx context.Context) error {
	for _, leg := range p.legs {
		if err := leg.Trading.Login(ctx); err != nil {
			return fmt.Errorf("login %s: %w", leg.Name, err)
		}
		if leg.Funding != nil {
			if err := leg.Funding.Login(ctx); err != nil {
				return fmt.Errorf("login %s funding: %w", leg.Name, err)
			}
		}
	}
	p.logger.WithFields(logrus.Fields{
		"accounts": len(p.legs),
		"interval": p.cfg.PollInterval.String(),
	}).Info("balance polling started")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("balance polling stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	now := p.clock()
	states := make([]legState, len(p.legs))
	allNormal := true
	for i, leg := range p.legs {
		states[i] = p.inspect(ctx, leg)
		if !states[i].normal {
			allNormal = false
		}
	}
	p.autoBalance(ctx, now, states)
	if allNormal {
		p.dailySummary(ctx, now, states)
	}
}

// inspect reads one leg's balances, pages on a breached equity floor
// and sweeps any idle funding balance back into trading.
func (p *Poller) inspect(ctx context.Context, leg *Leg) legState {
	st := legState{}

	summary, err := leg.Trading.AccountSummary(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("account", leg.Name).Error("trading summary query failed")
		return st
	}
	st.ok = true
	st.normal = true
	st.equity = toDecimal(summary.TotalEquity)
	st.available = toDecimal(summary.AvailableBalance)
	st.maintenance = toDecimal(summary.MaintenanceMargin)
	st.mainID = summary.MainAccountID
	if st.mainID == "" && leg.MainID != "" {
		st.mainID = leg.MainID
		p.logger.WithField("account", leg.Name).Warn("venue omitted the main account id, using the configured one")
	}

	p.logger.WithFields(logrus.Fields{
		"account":   leg.Name,
		"equity":    st.equity.StringFixed(2),
		"available": st.available.StringFixed(2),
	}).Info("trading balance")

	if leg.Threshold.Sign() > 0 && st.equity.LessThan(leg.Threshold) {
		st.normal = false
		p.alerts.Notify(ctx, "balance:"+string(leg.Name), lowBalanceCooldown,
			fmt.Sprintf("GRVT %s equity %s below threshold %s", leg.Name, st.equity.StringFixed(2), leg.Threshold.StringFixed(2)),
			fmt.Sprintf("available=%s maintenance=%s", st.available.StringFixed(2), st.maintenance.StringFixed(2)))
	}

	if leg.Funding == nil {
		return st
	}
	fsum, err := leg.Funding.FundingSummary(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("account", leg.Name).Error("funding summary query failed")
		st.normal = false
		return st
	}
	fequity := toDecimal(fsum.TotalEquity)
	p.logger.WithFields(logrus.Fields{
		"account":        leg.Name,
		"funding_equity": fequity.StringFixed(2),
	}).Info("funding balance")

	if fequity.GreaterThan(p.cfg.SweepThreshold) {
		p.sweep(ctx, leg, st.mainID, fequity)
	}
	return st
}

// sweep returns the whole funding balance to the trading account so
// margin does not sit idle.
func (p *Poller) sweep(ctx context.Context, leg *Leg, mainID string, amount decimal.Decimal) {
	if mainID == "" {
		p.logger.WithField("account", leg.Name).Error("funding sweep skipped, main account id unknown")
		return
	}
	p.logger.WithFields(logrus.Fields{
		"account":   leg.Name,
		"amount":    amount.StringFixed(2),
		"threshold": p.cfg.SweepThreshold.String(),
	}).Info("funding balance above threshold, sweeping to trading")

	if err := p.transferWithRetry(ctx, leg.Funding, leg.Name, fundingToTrading(mainID, leg.TradingID, amount)); err != nil {
		p.logger.WithError(err).WithField("account", leg.Name).Error("funding sweep failed")
		return
	}
	p.logger.WithField("account", leg.Name).Info("funding sweep completed")
}

// autoBalance moves funds toward whichever account's share of combined
// equity fell below the threshold. One direction at a time, with a
// cooldown so a transfer can land before the shares are re-read.
func (p *Poller) autoBalance(ctx context.Context, now time.Time, states []legState) {
	a, b := states[0], states[1]
	if !a.ok || !b.ok {
		return
	}
	total := a.equity.Add(b.equity)
	if total.Sign() <= 0 {
		return
	}
	hundred := decimal.NewFromInt(100)
	shareA := a.equity.Div(total).Mul(hundred)
	shareB := b.equity.Div(total).Mul(hundred)

	var from, to int
	switch {
	case shareA.LessThan(p.cfg.ThresholdPercent):
		from, to = 1, 0
	case shareB.LessThan(p.cfg.ThresholdPercent):
		from, to = 0, 1
	default:
		return
	}
	donor, lag := states[from], states[to]

	needed := total.Mul(p.cfg.TargetPercent).Div(hundred).Sub(lag.equity)
	amount := safeTransferAmount(donor.equity, donor.available, donor.maintenance, needed)
	if amount.Sign() <= 0 {
		p.logger.WithFields(logrus.Fields{
			"from":      p.legs[from].Name,
			"needed":    needed.StringFixed(2),
			"available": donor.available.StringFixed(2),
		}).Warn("auto-balance blocked, donor cannot safely cover the transfer")
		return
	}

	direction := string(p.legs[from].Name) + "_to_" + string(p.legs[to].Name)
	if last, ok := p.lastTransfer[direction]; ok && now.Sub(last) < transferCooldown {
		p.logger.WithField("direction", direction).Info("auto-balance skipped, cooling down")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"from":       p.legs[from].Name,
		"to":         p.legs[to].Name,
		"amount":     amount.StringFixed(2),
		"from_share": shareOf(from, shareA, shareB).StringFixed(1),
		"to_share":   shareOf(to, shareA, shareB).StringFixed(1),
	}).Info("equity share below threshold, rebalancing")

	if err := p.moveFunds(ctx, p.legs[from], p.legs[to], donor.mainID, lag.mainID, amount); err != nil {
		p.logger.WithError(err).Error("auto-balance transfer failed")
		return
	}
	p.lastTransfer[direction] = now
}

func shareOf(i int, shareA, shareB decimal.Decimal) decimal.Decimal {
	if i == 0 {
		return shareA
	}
	return shareB
}

// dailySummary sends an all-clear once per UTC+8 day inside the
// configured minute. Only clean polls count: a degraded account
// suppresses the all-clear rather than lying about it.
func (p *Poller) dailySummary(ctx context.Context, now time.Time, states []legState) {
	local := now.In(beijing)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, beijing)
	offset := local.Sub(midnight)
	if offset < p.cfg.SummaryAt || offset >= p.cfg.SummaryAt+time.Minute {
		return
	}
	day := local.Format("2006-01-02")
	if p.lastSummary == day {
		return
	}
	p.lastSummary = day

	parts := make([]string, len(p.legs))
	for i, leg := range p.legs {
		parts[i] = fmt.Sprintf("[%s] %s", leg.Name, states[i].equity.StringFixed(2))
	}
	p.alerts.Notify(ctx, "daily_balance_summary", 0, "GRVT balances normal", strings.Join(parts, ", "))
}

func toDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
