// Package risk watches account health and unhedged exposure, and owns
// the process-wide alert state.
//
// Every operator alert flows through Manager.Notify, which deduplicates
// by alert key with a per-key cooldown so a condition that persists
// across ticks pages once, not every two seconds. On top of that the
// manager implements the two standing checks: the margin-ratio alarm
// per account and the stuck-hedge watch per instrument, with a daily
// roll-up of everything that stayed unhedged.
package risk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/config"
	"grvt-hedge/pkg/types"
)

// Alert cooldowns. MMR re-pages every 30 minutes while the ratio stays
// high, stuck hedges every hour per instrument.
const (
	mmrCooldown   = 30 * time.Minute
	stuckCooldown = time.Hour
)

// beijing anchors the daily report: ops reads it in UTC+8 regardless of
// where the process runs.
var beijing = time.FixedZone("UTC+8", 8*60*60)

// Sender delivers one rendered alert text to the operator channel.
type Sender interface {
	Send(ctx context.Context, text string)
}

// Options are the manager's thresholds.
type Options struct {
	MMRAlertThreshold decimal.Decimal // maintenance margin / equity ratio that pages
	StuckAfter        time.Duration   // unmatched-lot age that counts as stuck
	DailyReportAt     time.Duration   // UTC+8 wall clock for the daily report
}

// OptionsFromConfig extracts the risk thresholds.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		MMRAlertThreshold: c.MMRAlertThreshold,
		StuckAfter:        c.StuckThreshold,
		DailyReportAt:     c.DailyReportAt,
	}
}

// Manager deduplicates alerts and runs the standing risk checks. Safe
// for concurrent use.
type Manager struct {
	opts   Options
	sender Sender
	logger *logrus.Entry
	clock  func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time // alert key -> last delivery
	stuck    map[string]time.Time // instrument -> earliest unmatched lot
	lastDay  string               // UTC+8 day of the last daily report
}

// NewManager wires the alert state around a sender.
func NewManager(opts Options, sender Sender, logger *logrus.Logger) *Manager {
	return &Manager{
		opts:     opts,
		sender:   sender,
		logger:   logger.WithField("component", "risk"),
		clock:    time.Now,
		lastSent: make(map[string]time.Time),
		stuck:    make(map[string]time.Time),
	}
}

// Notify sends title and message to the operator channel unless the key
// fired within its cooldown. Every delivered alert is also written to
// the log, so the file carries the history even when the channel is
// down.
func (m *Manager) Notify(ctx context.Context, key string, cooldown time.Duration, title, message string) {
	now := m.clock()
	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < cooldown {
		m.mu.Unlock()
		return
	}
	m.lastSent[key] = now
	m.mu.Unlock()

	m.logger.WithField("alert_key", key).Warnf("%s | %s", title, message)
	m.sender.Send(ctx, title+"\n"+message)
}

// CheckMMR pages when maintenance margin consumes too much of the
// account's equity. Zero or negative equity with live margin is itself
// a breach.
func (m *Manager) CheckMMR(ctx context.Context, account types.AccountLabel, summary types.AccountSummary) {
	equity := toDecimal(summary.TotalEquity)
	maintenance := toDecimal(summary.MaintenanceMargin)
	if maintenance.Sign() <= 0 {
		return
	}

	hundred := decimal.NewFromInt(100)
	ratioPct := hundred
	if equity.Sign() > 0 {
		ratio := maintenance.Div(equity)
		if ratio.LessThan(m.opts.MMRAlertThreshold) {
			return
		}
		ratioPct = ratio.Mul(hundred)
	}

	m.Notify(ctx,
		"mmr:"+string(account),
		mmrCooldown,
		fmt.Sprintf("GRVT %s MMR ALERT %s%%", account, ratioPct.StringFixed(2)),
		fmt.Sprintf("maintenance=%s equity=%s threshold=%s",
			maintenance.String(), equity.String(), m.opts.MMRAlertThreshold.String()),
	)
}

// ObserveLots records one instrument's earliest unmatched fill after a
// tick. ok=false means the ledger is clean and clears the instrument
// from the daily accumulator. A lot older than the stuck threshold
// pages immediately and stays accumulated for the daily report.
func (m *Manager) ObserveLots(ctx context.Context, now time.Time, instrument string, earliest time.Time, ok bool) {
	m.mu.Lock()
	if !ok {
		delete(m.stuck, instrument)
		m.mu.Unlock()
		return
	}
	m.stuck[instrument] = earliest
	m.mu.Unlock()

	age := now.Sub(earliest)
	if age < m.opts.StuckAfter {
		return
	}
	m.Notify(ctx,
		"stuck:"+instrument,
		stuckCooldown,
		fmt.Sprintf("GRVT unhedged>%dh %s", int(m.opts.StuckAfter.Hours()), instrument),
		fmt.Sprintf("oldest unmatched fill is %.1fh old", age.Hours()),
	)
}

// DailyReport sends the stuck-hedge roll-up once per UTC+8 day, on the
// first call at or past the configured wall-clock time. Days with a
// clean ledger produce no report.
func (m *Manager) DailyReport(ctx context.Context, now time.Time) {
	local := now.In(beijing)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, beijing)
	if local.Sub(midnight) < m.opts.DailyReportAt {
		return
	}
	day := local.Format("2006-01-02")

	m.mu.Lock()
	if m.lastDay == day {
		m.mu.Unlock()
		return
	}
	m.lastDay = day
	lines := make([]string, 0, len(m.stuck))
	for instrument, earliest := range m.stuck {
		lines = append(lines, fmt.Sprintf("%s: unhedged %.2fh", instrument, now.Sub(earliest).Hours()))
	}
	m.mu.Unlock()

	if len(lines) == 0 {
		return
	}
	sort.Strings(lines)
	body := "Daily stuck hedge report:\n" + strings.Join(lines, "\n")
	m.logger.Warn(body)
	m.sender.Send(ctx, body)
}

func toDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
