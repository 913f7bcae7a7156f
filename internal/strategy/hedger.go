// Package strategy implements the dual-account maker-only hedge for one
// instrument: two accounts quote opposing post-only orders, every fill is
// recorded as a price-guarded lot, and lots from the two accounts cancel
// each other out once the guards allow it.
//
// Per-tick flow (driven by the engine):
//  1. Reconcile the managed-order table against both accounts' open
//     orders; new fill deltas become ledger lots and the matcher runs.
//  2. Enforce the per-account activity cap (tightened to one order when
//     the books are nearly level), cancelling the oldest overflow.
//  3. When the books are level, seed one maker order per account; when
//     they diverge, only the smaller book quotes, sided and guarded by
//     the oldest unmatched lot of the other account.
//  4. Price at the touch but never across the guard, shrink the notional
//     into the remaining gap and the total-position bound, and place with
//     post-only retry. Retry exhaustion freezes the symbol for a cooldown.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/config"
	"grvt-hedge/internal/exchange"
	"grvt-hedge/internal/market"
	"grvt-hedge/pkg/types"
)

// Gateway is the slice of the venue client the hedger needs.
type Gateway interface {
	PlacePostOnly(ctx context.Context, inst types.Instrument, side types.Side, price, size decimal.Decimal, clientOrderID uint64) (types.Order, error)
	CancelOrder(ctx context.Context, orderID, clientOrderID string) error
	GetOrder(ctx context.Context, orderID, clientOrderID string) (types.Order, error)
}

// TopSource serves top-of-book quotes for pricing.
type TopSource interface {
	Top(ctx context.Context, instrument string) (market.Top, error)
	Refresh(ctx context.Context, instrument string) (market.Top, error)
}

// Alerter pushes deduplicated operator alerts. Implementations must be
// safe for concurrent use.
type Alerter interface {
	Notify(ctx context.Context, key string, cooldown time.Duration, title, message string)
}

// Params are the engine-wide tunables shared by every symbol.
type Params struct {
	DiffThresholdUSDT  decimal.Decimal
	PostOnlyMaxRetry   int
	PostOnlyCooldown   time.Duration
	PartialFillTimeout time.Duration
}

// ParamsFromConfig extracts the hedger tunables.
func ParamsFromConfig(c *config.Config) Params {
	return Params{
		DiffThresholdUSDT:  c.DiffThresholdUSDT,
		PostOnlyMaxRetry:   c.PostOnlyMaxRetry,
		PostOnlyCooldown:   c.PostOnlyCooldown,
		PartialFillTimeout: c.PartialFillTimeout,
	}
}

// PositionView is one account's position in the instrument. Notional
// terms use the mark price; the entry price doubles as the guard for
// synthetic startup lots.
type PositionView struct {
	Size           decimal.Decimal // base units, signed
	EntryPrice     decimal.Decimal
	MarkPrice      decimal.Decimal
	SignedNotional decimal.Decimal
	AbsNotional    decimal.Decimal
}

// NewPositionView parses a venue position row.
func NewPositionView(p types.Position) PositionView {
	size := toDecimal(p.Size)
	mark := toDecimal(p.MarkPrice)
	signed := types.RoundNotional(size.Mul(mark))
	return PositionView{
		Size:           size,
		EntryPrice:     toDecimal(p.EntryPrice),
		MarkPrice:      mark,
		SignedNotional: signed,
		AbsNotional:    signed.Abs(),
	}
}

// PairSnapshot is one tick's per-instrument view of both accounts.
type PairSnapshot struct {
	A, B    PositionView
	OrdersA []types.Order
	OrdersB []types.Order
}

func (s PairSnapshot) position(account types.AccountLabel) PositionView {
	if account == types.AccountA {
		return s.A
	}
	return s.B
}

func (s PairSnapshot) orders(account types.AccountLabel) []types.Order {
	if account == types.AccountA {
		return s.OrdersA
	}
	return s.OrdersB
}

// Hedger drives the hedge for a single instrument. All state is owned by
// the engine goroutine that calls Bootstrap and Tick; nothing here locks.
type Hedger struct {
	cfg    config.SymbolConfig
	meta   market.Meta
	params Params
	books  TopSource
	gws    map[types.AccountLabel]Gateway
	alerts Alerter
	logger *logrus.Entry

	ledger  *Ledger
	table   *Table
	foreign map[string]time.Time // foreign venue order id -> first sighting

	cooldownUntil time.Time
	retryPause    time.Duration
}

// NewHedger wires a hedger for one symbol.
func NewHedger(
	cfg config.SymbolConfig,
	meta market.Meta,
	books TopSource,
	gwA, gwB Gateway,
	alerts Alerter,
	params Params,
	logger *logrus.Logger,
) *Hedger {
	return &Hedger{
		cfg:    cfg,
		meta:   meta,
		params: params,
		books:  books,
		gws: map[types.AccountLabel]Gateway{
			types.AccountA: gwA,
			types.AccountB: gwB,
		},
		alerts: alerts,
		logger: logger.WithFields(logrus.Fields{
			"component":  "hedger",
			"instrument": cfg.Instrument,
		}),
		ledger:     NewLedger(),
		table:      NewTable(),
		foreign:    make(map[string]time.Time),
		retryPause: 200 * time.Millisecond,
	}
}

// Instrument returns the canonical instrument name.
func (h *Hedger) Instrument() string { return h.cfg.Instrument }

// Config returns the symbol configuration.
func (h *Hedger) Config() config.SymbolConfig { return h.cfg }

// EarliestUnmatched exposes the oldest live lot's timestamp for stuck
// detection and the daily report.
func (h *Hedger) EarliestUnmatched() (time.Time, bool) {
	return h.ledger.EarliestUnmatched()
}

func (h *Hedger) gw(account types.AccountLabel) Gateway { return h.gws[account] }

// Bootstrap seeds the ledger from live positions and adopts resting
// strategy orders before the first tick. A position that predates the
// process becomes a synthetic lot guarded at its entry price; two
// opposing startup positions cancel out immediately when the entries
// allow a lossless round trip.
func (h *Hedger) Bootstrap(ctx context.Context, now time.Time, snap PairSnapshot) {
	for _, account := range []types.AccountLabel{types.AccountA, types.AccountB} {
		pos := snap.position(account)
		if pos.AbsNotional.Sign() > 0 && pos.EntryPrice.Sign() > 0 {
			side := types.BUY
			if pos.Size.Sign() < 0 {
				side = types.SELL
			}
			matched := h.ledger.Add(FillLot{
				Account:    account,
				Side:       side,
				GuardPrice: pos.EntryPrice,
				Remaining:  pos.AbsNotional,
				CreatedAt:  now,
				Synthetic:  true,
			})
			h.logger.WithFields(logrus.Fields{
				"account":  account,
				"side":     side,
				"notional": pos.AbsNotional,
				"entry":    pos.EntryPrice,
				"matched":  matched,
			}).Info("seeded synthetic lot from startup position")
		}
		h.syncOrders(ctx, now, account, snap.orders(account))
	}
}

// syncOrders reconciles the table against one account's open-order
// snapshot: adopts strategy orders it has never seen, attaches real venue
// ids to placeholder ones, feeds fill deltas to the ledger, and closes
// orders the venue no longer knows.
func (h *Hedger) syncOrders(ctx context.Context, now time.Time, account types.AccountLabel, live []types.Order) {
	seen := make(map[string]bool, len(live))
	for _, o := range live {
		oid := strings.TrimSpace(o.OrderID)
		if oid == "" {
			continue
		}
		seen[oid] = true
		cid := o.Metadata.ClientOrderID
		if !IsStrategyOrderID(cid) {
			h.noteForeign(ctx, now, account, oid)
			continue
		}
		m := h.table.ByClientID(cid)
		if m == nil {
			m = &ManagedOrder{
				ClientOrderID: cid,
				Account:       account,
				Instrument:    h.cfg.Instrument,
				CreatedAt:     now,
				StrategyOwned: true,
			}
			h.table.Track(m)
			h.logger.WithFields(logrus.Fields{"account": account, "order_id": oid}).Info("adopted resting strategy order")
		}
		m.OrderID = oid
		m.LastSeenAt = now
		m.State = types.OrderStateOpen // the venue says it is live, whatever we thought
		m.Side = orderSide(o)
		m.Price = orderPrice(o)
		m.Size = orderSize(o)
		m.NotionalUSDT = types.RoundNotional(m.Size.Mul(m.Price))
		h.applyFillDelta(now, m, o)
		if !m.Terminal() {
			if traded := orderTraded(o); traded.Sign() > 0 && traded.LessThan(m.Size) {
				m.State = types.OrderStatePartial
			}
		}
	}

	for _, m := range h.table.ForAccount(account) {
		if m.Terminal() {
			continue
		}
		if IsPlaceholderOrderID(m.OrderID) {
			if now.Sub(m.CreatedAt) > provisionalWindow {
				m.close(types.OrderStateCancelled, closeProvisionalTimeout)
				h.logger.WithField("client_order_id", m.ClientOrderID).Warn("order never left the placeholder id, writing it off")
			}
			continue
		}
		if seen[m.OrderID] {
			continue
		}
		o, err := h.gw(account).GetOrder(ctx, m.OrderID, "")
		if err != nil {
			if exchange.OrderGone(err) {
				state := types.OrderStateCancelled
				if m.Size.Sign() > 0 && m.AppliedTraded.GreaterThanOrEqual(m.Size) {
					state = types.OrderStateFilled
				}
				m.close(state, string(state))
				continue
			}
			h.logger.WithError(err).WithField("order_id", m.OrderID).Debug("order poll failed, will retry next tick")
			continue
		}
		h.applyFillDelta(now, m, o)
		if st := terminalStateOf(orderStatus(o)); st != "" {
			m.close(st, string(st))
		}
	}
}

// applyFillDelta feeds newly observed fills into the ledger as lots
// guarded at the order's limit price (post-only fills execute at or
// better than limit, so the limit bounds the round trip). Partial fills
// on a still-open order sit out the partial-fill timeout before they
// hedge, so an order filling slowly is not chased tick by tick.
func (h *Hedger) applyFillDelta(now time.Time, m *ManagedOrder, o types.Order) {
	traded := orderTraded(o)
	if traded.Cmp(m.AppliedTraded) <= 0 {
		return
	}
	status := orderStatus(o)
	partialOpen := status == "OPEN" && orderBookSize(o).Sign() > 0 && traded.LessThan(m.Size)
	if partialOpen {
		if m.PartialSince.IsZero() {
			m.PartialSince = now
		}
		m.State = types.OrderStatePartial
		if now.Sub(m.PartialSince) < h.params.PartialFillTimeout {
			return
		}
	}
	delta := traded.Sub(m.AppliedTraded)
	if delta.Sign() > 0 && m.Price.Sign() > 0 {
		notional := types.RoundNotional(delta.Mul(m.Price))
		matched := h.ledger.Add(FillLot{
			Account:    m.Account,
			Side:       m.Side,
			GuardPrice: m.Price,
			Remaining:  notional,
			CreatedAt:  now,
		})
		h.logger.WithFields(logrus.Fields{
			"account":  m.Account,
			"side":     m.Side,
			"notional": notional,
			"guard":    m.Price,
			"matched":  matched,
		}).Info("recorded fill lot")
	}
	m.AppliedTraded = traded
	if st := terminalStateOf(status); st != "" {
		m.close(st, string(st))
	}
}

// noteForeign records an order the engine does not own. Foreign orders
// are never cancelled, only reported.
func (h *Hedger) noteForeign(ctx context.Context, now time.Time, account types.AccountLabel, orderID string) {
	if _, ok := h.foreign[orderID]; ok {
		return
	}
	h.foreign[orderID] = now
	h.alerts.Notify(ctx,
		fmt.Sprintf("non_strategy:%s:%s", h.cfg.Instrument, account),
		time.Hour,
		fmt.Sprintf("GRVT non-strategy order detected %s", h.cfg.Instrument),
		fmt.Sprintf("account=%s order_id=%s preserved and ignored by strategy", account, orderID),
	)
}

// enforceCap cancels the oldest strategy orders above the per-account
// activity cap, keeping the most recent intention.
func (h *Hedger) enforceCap(ctx context.Context, now time.Time, account types.AccountLabel, maxOrders int) {
	active := h.table.ActiveFor(now, account)
	if len(active) <= maxOrders {
		return
	}
	for _, m := range active[:len(active)-maxOrders] {
		entry := h.logger.WithFields(logrus.Fields{"account": account, "order_id": m.OrderID})
		if err := h.cancelManaged(ctx, m, closeCapOverflow); err != nil {
			entry.WithError(err).Warn("failed to cancel order over account cap")
			continue
		}
		entry.Info("cancelled extra strategy order over account cap")
	}
}

func (h *Hedger) cancelManaged(ctx context.Context, m *ManagedOrder, reason string) error {
	oid, cid := m.OrderID, ""
	if IsPlaceholderOrderID(oid) {
		oid, cid = "", m.ClientOrderID
	}
	if err := h.gw(m.Account).CancelOrder(ctx, oid, cid); err != nil {
		return err
	}
	m.close(types.OrderStateCancelled, reason)
	return nil
}
