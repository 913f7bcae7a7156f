package strategy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/exchange"
	"grvt-hedge/internal/market"
	"grvt-hedge/pkg/types"
)

// equalPositionDust is the |A|-|B| notional gap under which the books
// count as level. Notionals quantise to 6 dp, so one quantum of drift
// still reads as equal.
var equalPositionDust = decimal.New(1, -6)

// two scales the remaining gap into the last-lap order notional.
var two = decimal.NewFromInt(2)

// clipSteps is the resolution of the total-bound walk-down.
const clipSteps = 50

// Tick runs one decision pass for the instrument. Ordering within the
// tick is fixed: reconcile fills, enforce caps, evaluate bounds, then
// place at most one new order (one per account when the books are level).
func (h *Hedger) Tick(ctx context.Context, now time.Time, snap PairSnapshot) {
	if !h.cfg.Enabled {
		return
	}
	if now.Before(h.cooldownUntil) {
		return
	}
	h.syncOrders(ctx, now, types.AccountA, snap.OrdersA)
	h.syncOrders(ctx, now, types.AccountB, snap.OrdersB)

	absA, absB := snap.A.AbsNotional, snap.B.AbsNotional
	diff := absA.Sub(absB).Abs()
	maxOrders := 2
	if diff.LessThan(h.params.DiffThresholdUSDT) {
		maxOrders = 1
	}
	h.enforceCap(ctx, now, types.AccountA, maxOrders)
	h.enforceCap(ctx, now, types.AccountB, maxOrders)

	total := absA.Add(absB)
	increaseLimit := h.cfg.PositionMode == types.ModeIncrease && total.GreaterThanOrEqual(h.cfg.MaxTotalPositionUSDT)
	decreaseLimit := h.cfg.PositionMode == types.ModeDecrease && total.LessThanOrEqual(h.cfg.MinTotalPositionUSDT)
	if increaseLimit {
		h.alerts.Notify(ctx, "max_total:"+h.cfg.Instrument, 15*time.Minute,
			"GRVT max_total_position exceeded "+h.cfg.Instrument,
			fmt.Sprintf("mode=increase total=%s max=%s", total, h.cfg.MaxTotalPositionUSDT))
	}
	if decreaseLimit {
		h.alerts.Notify(ctx, "min_total:"+h.cfg.Instrument, 15*time.Minute,
			"GRVT min_total_position reached "+h.cfg.Instrument,
			fmt.Sprintf("mode=decrease total=%s min=%s", total, h.cfg.MinTotalPositionUSDT))
	}

	if diff.LessThanOrEqual(equalPositionDust) {
		// At a bound a level book stays level; re-seeding would push through it.
		if increaseLimit || decreaseLimit {
			return
		}
		h.seedEqualSides(ctx, now, snap, maxOrders)
		return
	}

	small := types.AccountA
	if absA.GreaterThanOrEqual(absB) {
		small = types.AccountB
	}
	smallPos := snap.position(small)
	largeAbs := decimal.Max(absA, absB)
	smallAbs := decimal.Min(absA, absB)

	side, guard, ok := h.hedgeDirection(small, snap)
	if !ok {
		return
	}

	activeSmall := len(h.table.ActiveFor(now, small))
	hedgeOpen := h.table.OpenHedgeNotional(small, side)
	gap := largeAbs.Sub(smallAbs.Add(hedgeOpen.Div(two)))
	if gap.Sign() <= 0 {
		return
	}
	// Inside the imbalance target there is no urgency: once hedge orders
	// rest and the account is at cap, let them work.
	if diff.LessThanOrEqual(h.cfg.ImbalanceLimitUSDT) && hedgeOpen.Sign() > 0 && activeSmall >= maxOrders {
		return
	}

	notional := decimal.Min(h.cfg.OrderNotionalUSDT, gap.Mul(two))
	if notional.Sign() <= 0 {
		return
	}
	signedSmall := smallPos.SignedNotional
	otherAbs := total.Sub(signedSmall.Abs())
	bound := h.cfg.MaxTotalPositionUSDT
	if h.cfg.PositionMode == types.ModeDecrease {
		bound = h.cfg.MinTotalPositionUSDT
	}
	notional = clipToTotalBound(side, notional, signedSmall, otherAbs, h.cfg.PositionMode, bound)
	if notional.Sign() <= 0 {
		return
	}
	if activeSmall >= maxOrders {
		return
	}
	h.placeWithRetry(ctx, now, small, side, guard, notional)
}

// seedEqualSides places the level-book pair: one maker on each account,
// opposing sides.
func (h *Hedger) seedEqualSides(ctx context.Context, now time.Time, snap PairSnapshot, maxOrders int) {
	sideA, ok := h.equalSideA(ctx, snap)
	if !ok {
		return
	}
	sideB := sideA.Opposite()
	if len(h.table.ActiveFor(now, types.AccountA)) < maxOrders {
		h.placeWithRetry(ctx, now, types.AccountA, sideA, decimal.Zero, h.cfg.OrderNotionalUSDT)
	}
	if len(h.table.ActiveFor(now, types.AccountB)) < maxOrders {
		h.placeWithRetry(ctx, now, types.AccountB, sideB, decimal.Zero, h.cfg.OrderNotionalUSDT)
	}
}

// equalSideA picks account A's side when the books are level. Increase
// mode uses the configured lean. Decrease mode leans against existing
// inventory, refuses to reopen a flat book, and falls back to the
// inverse of the configured lean when both accounts somehow point the
// same way.
func (h *Hedger) equalSideA(ctx context.Context, snap PairSnapshot) (types.Side, bool) {
	if h.cfg.PositionMode == types.ModeIncrease {
		return h.cfg.ASideWhenEqual, true
	}
	if snap.A.AbsNotional.Sign() == 0 && snap.B.AbsNotional.Sign() == 0 {
		return "", false
	}
	a, b := snap.A.Size.Sign(), snap.B.Size.Sign()
	switch {
	case a > 0 && b < 0:
		return types.SELL, true
	case a < 0 && b > 0:
		return types.BUY, true
	}
	if a != 0 && b != 0 && a == b {
		h.alerts.Notify(ctx, "decrease_direction_fallback:"+h.cfg.Instrument, 30*time.Minute,
			"GRVT decrease mode direction mismatch "+h.cfg.Instrument,
			fmt.Sprintf("A.size=%s B.size=%s, fallback to configured baseline", snap.A.Size, snap.B.Size))
	}
	return h.cfg.ASideWhenEqual.Opposite(), true
}

// hedgeDirection picks the side the lagging account must quote. The
// oldest unmatched lot from the other account fixes both side and guard;
// without one the direction mirrors the larger book and the guard falls
// back to its entry price. A non-positive guard means unguarded.
func (h *Hedger) hedgeDirection(small types.AccountLabel, snap PairSnapshot) (types.Side, decimal.Decimal, bool) {
	if side, guard, ok := h.ledger.OldestOpposing(small); ok {
		return side, guard, true
	}
	large := snap.A
	if snap.B.AbsNotional.GreaterThan(snap.A.AbsNotional) {
		large = snap.B
	}
	switch {
	case large.Size.Sign() > 0:
		return types.SELL, large.EntryPrice, true
	case large.Size.Sign() < 0:
		return types.BUY, large.EntryPrice, true
	}
	return "", decimal.Zero, false
}

// priceFor joins the touch without crossing the guard. Sell prices ceil
// to tick and buys floor, so rounding can only widen the protection.
func priceFor(side types.Side, top market.Top, guard, tick decimal.Decimal) decimal.Decimal {
	if side == types.SELL {
		raw := top.Ask
		if guard.Sign() > 0 && guard.GreaterThan(raw) {
			raw = guard
		}
		return types.CeilToTick(raw, tick)
	}
	raw := top.Bid
	if guard.Sign() > 0 && guard.LessThan(raw) {
		raw = guard
	}
	return types.FloorToTick(raw, tick)
}

// sizeForNotional converts a quote notional into a base size aligned to
// the instrument's step and decimals.
func sizeForNotional(notional, price decimal.Decimal, meta market.Meta) decimal.Decimal {
	if price.Sign() <= 0 || notional.Sign() <= 0 {
		return decimal.Zero
	}
	size := types.FloorToStep(notional.Div(price), meta.SizeStep)
	return size.RoundDown(meta.BaseDecimals)
}

// projectAbsNotional is the account's absolute notional if an order of
// this notional fills completely.
func projectAbsNotional(signed decimal.Decimal, side types.Side, orderNotional decimal.Decimal) decimal.Decimal {
	if side == types.BUY {
		return signed.Add(orderNotional).Abs()
	}
	return signed.Sub(orderNotional).Abs()
}

// clipToTotalBound walks the candidate notional down in fifty equal
// steps until the post-fill projected total respects the mode's bound
// (stay at or under the cap in increase mode, at or above the floor in
// decrease mode). Zero when no step fits.
func clipToTotalBound(side types.Side, notional, signed, otherAbs decimal.Decimal, mode types.PositionMode, bound decimal.Decimal) decimal.Decimal {
	if notional.Sign() <= 0 {
		return decimal.Zero
	}
	candidate := notional
	step := notional.Div(decimal.NewFromInt(clipSteps))
	if step.Sign() <= 0 {
		step = notional
	}
	for i := 0; i <= clipSteps; i++ {
		projected := otherAbs.Add(projectAbsNotional(signed, side, candidate))
		if mode == types.ModeIncrease {
			if projected.LessThanOrEqual(bound) {
				return candidate
			}
		} else if projected.GreaterThanOrEqual(bound) {
			return candidate
		}
		candidate = candidate.Sub(step)
		if candidate.Sign() <= 0 {
			return decimal.Zero
		}
	}
	return decimal.Zero
}

// placeWithRetry quotes at the touch, repricing on post-only rejection
// with a fresh book each attempt. The first attempt may use the warm
// book cache; every retry refetches over REST. Retry exhaustion freezes
// the symbol for the configured cooldown.
func (h *Hedger) placeWithRetry(ctx context.Context, now time.Time, account types.AccountLabel, side types.Side, guard, notional decimal.Decimal) bool {
	inst := h.cfg.Instrument
	for attempt := 1; attempt <= h.params.PostOnlyMaxRetry; attempt++ {
		var top market.Top
		var err error
		if attempt == 1 {
			top, err = h.books.Top(ctx, inst)
		} else {
			top, err = h.books.Refresh(ctx, inst)
		}
		if err != nil {
			h.logger.WithError(err).Debug("book unavailable before placement")
			h.pause()
			continue
		}

		price := priceFor(side, top, guard, h.meta.TickSize)
		if price.Sign() <= 0 {
			continue
		}
		size := sizeForNotional(notional, price, h.meta)
		if size.Sign() <= 0 || size.LessThan(h.meta.MinSize) {
			h.logger.WithFields(logrus.Fields{
				"account":  account,
				"side":     side,
				"notional": notional,
				"size":     size,
				"min_size": h.meta.MinSize,
			}).Debug("order below instrument minimum, skipping")
			return false
		}
		adjusted := types.RoundNotional(size.Mul(price))
		if adjusted.Sign() <= 0 {
			return false
		}

		clientID := NewClientOrderID(account, side)
		placed, err := h.gw(account).PlacePostOnly(ctx, h.meta.Instrument, side, price, size, clientID)
		if err != nil {
			if exchange.IsKind(err, exchange.KindPostOnlyRejected) {
				h.logger.WithFields(logrus.Fields{
					"attempt": attempt,
					"max":     h.params.PostOnlyMaxRetry,
				}).Debug("post-only rejected, repricing")
				h.pause()
				continue
			}
			h.alerts.Notify(ctx,
				fmt.Sprintf("order_failed:%s:%s:%s", inst, account, side),
				2*time.Minute,
				"GRVT hedge order failed "+inst,
				fmt.Sprintf("account=%s side=%s error=%v", account, side, err))
			return false
		}

		m := &ManagedOrder{
			OrderID:       placed.OrderID,
			ClientOrderID: strconv.FormatUint(clientID, 10),
			Account:       account,
			Instrument:    inst,
			Side:          side,
			Price:         price,
			Size:          size,
			NotionalUSDT:  adjusted,
			GuardPrice:    guard,
			CreatedAt:     now,
			StrategyOwned: true,
			State:         types.OrderStateOpen,
		}
		if IsPlaceholderOrderID(m.OrderID) {
			m.State = types.OrderStatePending
		}
		h.table.Track(m)
		h.logger.WithFields(logrus.Fields{
			"account":  account,
			"side":     side,
			"notional": adjusted,
			"price":    price,
			"order_id": m.OrderID,
		}).Info("placed hedge order")
		return true
	}

	h.cooldownUntil = now.Add(h.params.PostOnlyCooldown)
	h.alerts.Notify(ctx, "cooldown:"+inst, 2*time.Minute,
		"GRVT hedge cooldown "+inst,
		fmt.Sprintf("post-only failed after %d retries, cooldown %s", h.params.PostOnlyMaxRetry, h.params.PostOnlyCooldown))
	return false
}

func (h *Hedger) pause() {
	if h.retryPause > 0 {
		time.Sleep(h.retryPause)
	}
}
