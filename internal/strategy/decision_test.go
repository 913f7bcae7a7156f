package strategy

import (
	"context"
	"testing"
	"time"

	"grvt-hedge/internal/config"
	"grvt-hedge/internal/exchange"
	"grvt-hedge/pkg/types"
)

func postOnlyReject() error {
	return &exchange.Error{Op: "create_order", Kind: exchange.KindPostOnlyRejected, Message: "order would match resting liquidity"}
}

func TestTickSeedsLevelBooksOppositeSides(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)

	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{A: flat(t), B: flat(t)})

	if len(fix.gwA.placed) != 1 || len(fix.gwB.placed) != 1 {
		t.Fatalf("placed A=%d B=%d, want one each", len(fix.gwA.placed), len(fix.gwB.placed))
	}
	a, b := fix.gwA.placed[0], fix.gwB.placed[0]
	if a.side != types.BUY || b.side != types.SELL {
		t.Errorf("sides A=%s B=%s, want BUY/SELL", a.side, b.side)
	}
	if !a.price.Equal(dec(t, "50000")) {
		t.Errorf("A price = %s, want bid floored 50000", a.price)
	}
	if !a.size.Equal(dec(t, "0.02")) {
		t.Errorf("A size = %s, want 0.02", a.size)
	}
	if !b.price.Equal(dec(t, "50000.1")) {
		t.Errorf("B price = %s, want ask ceiled 50000.1", b.price)
	}
	if !b.size.Equal(dec(t, "0.019")) {
		t.Errorf("B size = %s, want 0.019", b.size)
	}
}

func TestTickDisabledSymbolDoesNothing(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) { c.Enabled = false })

	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{
		A: pos(t, "0.02", "50000", "50000"),
		B: flat(t),
	})

	if n := len(fix.gwA.placed) + len(fix.gwB.placed); n != 0 {
		t.Errorf("placed %d orders on a disabled symbol", n)
	}
}

func TestTickDecreaseFlatPlacesNothing(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) {
		c.PositionMode = types.ModeDecrease
		c.MinTotalPositionUSDT = dec(t, "500")
	})

	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{A: flat(t), B: flat(t)})

	if n := len(fix.gwA.placed) + len(fix.gwB.placed); n != 0 {
		t.Errorf("placed %d orders, decrease mode must not reopen a flat book", n)
	}
	if !fix.alerts.has("min_total:BTC_USDT_Perp") {
		t.Error("expected the min_total alert at the floor")
	}
}

func TestTickDecreaseLeansAgainstInventory(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) { c.PositionMode = types.ModeDecrease })

	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{
		A: pos(t, "0.02", "50000", "50000"),
		B: pos(t, "-0.02", "50000", "50000"),
	})

	if len(fix.gwA.placed) != 1 || len(fix.gwB.placed) != 1 {
		t.Fatalf("placed A=%d B=%d, want one each", len(fix.gwA.placed), len(fix.gwB.placed))
	}
	if fix.gwA.placed[0].side != types.SELL {
		t.Errorf("A side = %s, want SELL against its long", fix.gwA.placed[0].side)
	}
	if fix.gwB.placed[0].side != types.BUY {
		t.Errorf("B side = %s, want BUY against its short", fix.gwB.placed[0].side)
	}
}

func TestTickDecreaseSameDirectionFallsBack(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) { c.PositionMode = types.ModeDecrease })

	// Both accounts long: leaning against inventory is ambiguous.
	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{
		A: pos(t, "0.02", "50000", "50000"),
		B: pos(t, "0.02", "50000", "50000"),
	})

	if !fix.alerts.has("decrease_direction_fallback:BTC_USDT_Perp") {
		t.Error("expected the direction-mismatch alert")
	}
	if len(fix.gwA.placed) != 1 || fix.gwA.placed[0].side != types.SELL {
		t.Errorf("A = %+v, want the inverse of the configured buy lean", fix.gwA.placed)
	}
}

func TestTickQuotesOnlyTheSmallBook(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)

	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{
		A: pos(t, "0.04", "50000", "50000"),
		B: pos(t, "-0.02", "50000", "50000"),
	})

	if len(fix.gwA.placed) != 0 {
		t.Errorf("large book placed %d orders, want 0", len(fix.gwA.placed))
	}
	if len(fix.gwB.placed) != 1 {
		t.Fatalf("small book placed %d orders, want 1", len(fix.gwB.placed))
	}
	if got := fix.gwB.placed[0].side; got != types.SELL {
		t.Errorf("B side = %s, want SELL mirroring A's long", got)
	}
}

func TestTickSellPriceLiftsToGuard(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)
	now := time.Now()

	// A bought at 50500; hedging it below that price would lock a loss.
	fix.h.ledger.Add(lot(t, types.AccountA, types.BUY, "50500", "500", now))

	fix.h.Tick(context.Background(), now, PairSnapshot{
		A: pos(t, "0.01", "50000", "50000"),
		B: flat(t),
	})

	if len(fix.gwB.placed) != 1 {
		t.Fatalf("placed = %d, want 1", len(fix.gwB.placed))
	}
	got := fix.gwB.placed[0]
	if got.side != types.SELL || !got.price.Equal(dec(t, "50500")) {
		t.Errorf("placed %s @ %s, want SELL @ guard 50500 above the 50000.1 ask", got.side, got.price)
	}
}

func TestTickBuyPriceDropsToGuard(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)
	now := time.Now()

	// A sold at 49900; buying it back above that would lock a loss.
	fix.h.ledger.Add(lot(t, types.AccountA, types.SELL, "49900", "500", now))

	fix.h.Tick(context.Background(), now, PairSnapshot{
		A: pos(t, "-0.01", "50000", "50000"),
		B: flat(t),
	})

	if len(fix.gwB.placed) != 1 {
		t.Fatalf("placed = %d, want 1", len(fix.gwB.placed))
	}
	got := fix.gwB.placed[0]
	if got.side != types.BUY || !got.price.Equal(dec(t, "49900")) {
		t.Errorf("placed %s @ %s, want BUY @ guard 49900 below the 50000 bid", got.side, got.price)
	}
}

func TestTickLastLapShrinksNotional(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) {
		c.OrderNotionalUSDT = dec(t, "10000")
	})

	// Gap is 1000, so the order shrinks to 2x gap instead of the full
	// configured notional.
	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{
		A: pos(t, "0.02", "50000", "50000"),
		B: flat(t),
	})

	if len(fix.gwB.placed) != 1 {
		t.Fatalf("placed = %d, want 1", len(fix.gwB.placed))
	}
	if got := fix.gwB.placed[0].size; !got.Equal(dec(t, "0.039")) {
		t.Errorf("size = %s, want 0.039 (2000 USDT at 50000.1)", got)
	}
}

func TestTickRestingHedgeHalvesIntoGap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("partial cover shrinks the order", func(t *testing.T) {
		t.Parallel()
		fix := newTestHedger(t, nil)
		now := time.Now()

		// A 1600 USDT sell already rests on B.
		fix.h.Tick(ctx, now, PairSnapshot{
			A:       pos(t, "0.02", "50000", "50000"),
			B:       flat(t),
			OrdersB: []types.Order{wireOrder("b-1", strategyCID(types.AccountB, types.SELL), "0.032", "50000", false, nil)},
		})

		if len(fix.gwB.placed) != 1 {
			t.Fatalf("placed = %d, want 1", len(fix.gwB.placed))
		}
		// gap = 1000 - 1600/2 = 200, notional = min(1000, 2x200) = 400.
		if got := fix.gwB.placed[0].size; !got.Equal(dec(t, "0.007")) {
			t.Errorf("size = %s, want 0.007 (400 USDT at 50000.1)", got)
		}
	})

	t.Run("full cover places nothing", func(t *testing.T) {
		t.Parallel()
		fix := newTestHedger(t, nil)
		now := time.Now()

		fix.h.Tick(ctx, now, PairSnapshot{
			A:       pos(t, "0.02", "50000", "50000"),
			B:       flat(t),
			OrdersB: []types.Order{wireOrder("b-2", strategyCID(types.AccountB, types.SELL), "0.04", "50000", false, nil)},
		})

		if got := len(fix.gwB.placed); got != 0 {
			t.Errorf("placed = %d, want 0 with the gap already covered", got)
		}
	})
}

func TestTickActivityCapBlocksPlacement(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)
	now := time.Now()

	fix.h.Tick(context.Background(), now, PairSnapshot{
		A: pos(t, "0.04", "50000", "50000"),
		B: flat(t),
		OrdersB: []types.Order{
			wireOrder("b-1", strategyCID(types.AccountB, types.SELL), "0.002", "50000", false, nil),
			wireOrder("b-2", strategyCID(types.AccountB, types.SELL), "0.002", "50000", false, nil),
		},
	})

	if got := len(fix.gwB.placed); got != 0 {
		t.Errorf("placed = %d, want 0 at the two-order cap", got)
	}
	if got := len(fix.gwB.cancelled); got != 0 {
		t.Errorf("cancelled = %d, want 0 when within the cap", got)
	}
}

func TestTickLowDiffTightensCapToOne(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)
	now := time.Now()

	// Legacy-tagged client ids keep the adoption order deterministic.
	snap := PairSnapshot{
		A: pos(t, "0.0202", "50000", "50000"),
		B: pos(t, "-0.02", "50000", "50000"),
		OrdersB: []types.Order{
			wireOrder("b-1", "HEDGEV1_1", "0.01", "50000", false, nil),
			wireOrder("b-2", "HEDGEV1_2", "0.01", "50000", false, nil),
		},
	}

	// 1010 vs 1000: near-level books tolerate a single resting order.
	fix.h.Tick(context.Background(), now, snap)

	if len(fix.gwB.cancelled) != 1 || fix.gwB.cancelled[0] != "b-1/" {
		t.Fatalf("cancelled = %v, want only the older b-1", fix.gwB.cancelled)
	}
	if got := fix.h.table.ByClientID("HEDGEV1_2").State; got != types.OrderStateOpen {
		t.Errorf("newer order state = %s, want OPEN", got)
	}
	if got := len(fix.gwB.placed); got != 0 {
		t.Errorf("placed = %d, want 0 at the tightened cap", got)
	}
}

func TestTickMaxTotalBoundClipsNotional(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) {
		c.MaxTotalPositionUSDT = dec(t, "11500")
	})

	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{
		A: pos(t, "0.12", "50000", "50000"),
		B: pos(t, "-0.1", "50000", "50000"),
	})

	if len(fix.gwB.placed) != 1 {
		t.Fatalf("placed = %d, want 1 clipped order", len(fix.gwB.placed))
	}
	// Full 1000 would project 12000 total; 500 lands exactly on the cap.
	if got := fix.gwB.placed[0].size; !got.Equal(dec(t, "0.009")) {
		t.Errorf("size = %s, want 0.009 (500 USDT at 50000.1)", got)
	}
	if fix.alerts.has("max_total:BTC_USDT_Perp") {
		t.Error("bound alert fired below the cap")
	}
}

func TestTickAtMaxTotalAlertsAndStopsSeeding(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) {
		c.MaxTotalPositionUSDT = dec(t, "11000")
	})

	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{
		A: pos(t, "0.12", "50000", "50000"),
		B: pos(t, "-0.12", "50000", "50000"),
	})

	if !fix.alerts.has("max_total:BTC_USDT_Perp") {
		t.Error("expected the max_total alert")
	}
	if n := len(fix.gwA.placed) + len(fix.gwB.placed); n != 0 {
		t.Errorf("placed %d orders at the cap, want 0", n)
	}
}

func TestTickMinTotalBoundWalksOrderDown(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) {
		c.PositionMode = types.ModeDecrease
		c.MinTotalPositionUSDT = dec(t, "900")
	})
	now := time.Now()

	// A reduced 400 of its long; B buying the full 400 back would sink
	// the combined book through the 900 floor.
	fix.h.ledger.Add(lot(t, types.AccountA, types.SELL, "50000", "400", now))

	fix.h.Tick(context.Background(), now, PairSnapshot{
		A: pos(t, "0.012", "50000", "50000"),
		B: pos(t, "-0.008", "50000", "50000"),
	})

	if len(fix.gwB.placed) != 1 {
		t.Fatalf("placed = %d, want 1", len(fix.gwB.placed))
	}
	got := fix.gwB.placed[0]
	if got.side != types.BUY || !got.price.Equal(dec(t, "50000")) {
		t.Errorf("placed %s @ %s, want BUY @ 50000", got.side, got.price)
	}
	if !got.size.Equal(dec(t, "0.001")) {
		t.Errorf("size = %s, want 0.001 (walked down to 96 USDT)", got.size)
	}
}

func TestTickPostOnlyRetryThenCooldown(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)
	now := time.Now()
	ctx := context.Background()
	fix.gwB.placeErrs = []error{
		postOnlyReject(), postOnlyReject(), postOnlyReject(), postOnlyReject(), postOnlyReject(),
	}
	snap := PairSnapshot{A: pos(t, "0.02", "50000", "50000"), B: flat(t)}

	fix.h.Tick(ctx, now, snap)

	if got := len(fix.gwB.placed); got != 5 {
		t.Fatalf("attempts = %d, want the full retry budget of 5", got)
	}
	if fix.books.refreshes != 4 {
		t.Errorf("book refreshes = %d, want 4 (every retry refetches)", fix.books.refreshes)
	}
	if !fix.alerts.has("cooldown:BTC_USDT_Perp") {
		t.Error("expected the cooldown alert after retry exhaustion")
	}

	// Frozen: the next tick does not even reconcile.
	fix.h.Tick(ctx, now.Add(time.Minute), snap)
	if got := len(fix.gwB.placed); got != 5 {
		t.Errorf("attempts during cooldown = %d, want still 5", got)
	}

	// Thawed after the configured cooldown.
	fix.h.Tick(ctx, now.Add(6*time.Minute), snap)
	if got := len(fix.gwB.placed); got != 6 {
		t.Errorf("attempts after cooldown = %d, want 6", got)
	}
}

func TestTickPostOnlyRecoversMidRetry(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)
	now := time.Now()
	fix.gwB.placeErrs = []error{postOnlyReject(), nil}

	fix.h.Tick(context.Background(), now, PairSnapshot{
		A: pos(t, "0.02", "50000", "50000"),
		B: flat(t),
	})

	if got := len(fix.gwB.placed); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if got := len(fix.h.table.ActiveFor(now, types.AccountB)); got != 1 {
		t.Errorf("active orders = %d, want the recovered placement tracked", got)
	}
	if len(fix.alerts.keys) != 0 {
		t.Errorf("alerts = %v, want none on recovery", fix.alerts.keys)
	}
}

func TestTickPlacementFailureAlertsWithoutRetry(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)
	now := time.Now()
	fix.gwB.placeErrs = []error{
		&exchange.Error{Op: "create_order", Kind: exchange.KindInsufficientSize, Message: "insufficient balance"},
	}

	fix.h.Tick(context.Background(), now, PairSnapshot{
		A: pos(t, "0.02", "50000", "50000"),
		B: flat(t),
	})

	if got := len(fix.gwB.placed); got != 1 {
		t.Fatalf("attempts = %d, want 1 (only post-only rejections retry)", got)
	}
	if !fix.alerts.has("order_failed:BTC_USDT_Perp:B:SELL") {
		t.Errorf("alerts = %v, want the order_failed key", fix.alerts.keys)
	}
	if got := len(fix.h.table.ActiveFor(now, types.AccountB)); got != 0 {
		t.Errorf("active orders = %d, want 0", got)
	}
}

func TestTickSkipsDustNotional(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, func(c *config.SymbolConfig) {
		c.OrderNotionalUSDT = dec(t, "10")
	})

	// 10 USDT at 50000 is below the 0.001 base minimum.
	fix.h.Tick(context.Background(), time.Now(), PairSnapshot{A: flat(t), B: flat(t)})

	if n := len(fix.gwA.placed) + len(fix.gwB.placed); n != 0 {
		t.Errorf("placed %d orders below the instrument minimum", n)
	}
}

func TestTickPlaceholderPlacementStaysPending(t *testing.T) {
	t.Parallel()
	fix := newTestHedger(t, nil)
	now := time.Now()
	fix.gwB.placeholderIDs = true

	fix.h.Tick(context.Background(), now, PairSnapshot{
		A: pos(t, "0.02", "50000", "50000"),
		B: flat(t),
	})

	active := fix.h.table.ActiveFor(now, types.AccountB)
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	if active[0].State != types.OrderStatePending {
		t.Errorf("state = %s, want PENDING until the venue assigns a real id", active[0].State)
	}
}
