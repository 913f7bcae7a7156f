package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grvt-hedge/pkg/types"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func lot(t *testing.T, account types.AccountLabel, side types.Side, guard, remaining string, at time.Time) FillLot {
	t.Helper()
	return FillLot{
		Account:    account,
		Side:       side,
		GuardPrice: dec(t, guard),
		Remaining:  dec(t, remaining),
		CreatedAt:  at,
	}
}

func TestLedgerMatchesOpposingAccounts(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	if matched := l.Add(lot(t, types.AccountA, types.BUY, "50000", "1000", now)); matched.Sign() != 0 {
		t.Fatalf("lone lot matched %s, want 0", matched)
	}
	matched := l.Add(lot(t, types.AccountB, types.SELL, "50100", "1000", now.Add(time.Second)))
	if !matched.Equal(dec(t, "1000")) {
		t.Fatalf("matched = %s, want 1000", matched)
	}
	if got := l.UnmatchedNotional(); got.Sign() != 0 {
		t.Errorf("UnmatchedNotional = %s, want 0", got)
	}
}

func TestLedgerGuardInequalityBlocksMatch(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	l.Add(lot(t, types.AccountA, types.BUY, "50000", "1000", now))
	// Selling below the buy lot's guard would lock in a loss.
	matched := l.Add(lot(t, types.AccountB, types.SELL, "49900", "1000", now))
	if matched.Sign() != 0 {
		t.Fatalf("matched = %s, want 0", matched)
	}
	if got := l.UnmatchedNotional(); !got.Equal(dec(t, "2000")) {
		t.Errorf("UnmatchedNotional = %s, want 2000", got)
	}
}

func TestLedgerEqualGuardsMatch(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	l.Add(lot(t, types.AccountA, types.BUY, "50000", "1000", now))
	matched := l.Add(lot(t, types.AccountB, types.SELL, "50000", "1000", now))
	if !matched.Equal(dec(t, "1000")) {
		t.Fatalf("matched = %s, want 1000 at equal guards", matched)
	}
}

func TestLedgerNeverMatchesSameAccount(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	l.Add(lot(t, types.AccountA, types.BUY, "50000", "1000", now))
	matched := l.Add(lot(t, types.AccountA, types.SELL, "50100", "1000", now))
	if matched.Sign() != 0 {
		t.Fatalf("matched = %s, want 0 for same-account lots", matched)
	}
}

func TestLedgerNeverMatchesSameSide(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	l.Add(lot(t, types.AccountA, types.BUY, "50000", "1000", now))
	matched := l.Add(lot(t, types.AccountB, types.BUY, "50100", "1000", now))
	if matched.Sign() != 0 {
		t.Fatalf("matched = %s, want 0 for same-side lots", matched)
	}
}

func TestLedgerPartialMatchLeavesRemainder(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	l.Add(lot(t, types.AccountA, types.BUY, "50000", "1000", now))
	matched := l.Add(lot(t, types.AccountB, types.SELL, "50100", "400", now))
	if !matched.Equal(dec(t, "400")) {
		t.Fatalf("matched = %s, want 400", matched)
	}

	lots := l.Lots()
	if len(lots) != 1 {
		t.Fatalf("live lots = %d, want 1", len(lots))
	}
	if lots[0].Account != types.AccountA || !lots[0].Remaining.Equal(dec(t, "600")) {
		t.Errorf("remainder = %s on %s, want 600 on A", lots[0].Remaining, lots[0].Account)
	}
}

func TestLedgerConsumesOldestFirst(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	l.Add(lot(t, types.AccountB, types.SELL, "50200", "300", now))
	l.Add(lot(t, types.AccountB, types.SELL, "50500", "300", now.Add(time.Second)))
	l.Add(lot(t, types.AccountA, types.BUY, "50000", "300", now.Add(2*time.Second)))

	lots := l.Lots()
	if len(lots) != 1 {
		t.Fatalf("live lots = %d, want 1", len(lots))
	}
	if !lots[0].GuardPrice.Equal(dec(t, "50500")) {
		t.Errorf("surviving guard = %s, want the newer 50500", lots[0].GuardPrice)
	}
}

func TestLedgerSkipsInadmissibleOlderLot(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	// The older sell cannot hedge the buy (guard below), the newer can.
	l.Add(lot(t, types.AccountB, types.SELL, "49000", "300", now))
	l.Add(lot(t, types.AccountB, types.SELL, "50500", "300", now.Add(time.Second)))
	matched := l.Add(lot(t, types.AccountA, types.BUY, "50000", "300", now.Add(2*time.Second)))

	if !matched.Equal(dec(t, "300")) {
		t.Fatalf("matched = %s, want 300", matched)
	}
	lots := l.Lots()
	if len(lots) != 1 || !lots[0].GuardPrice.Equal(dec(t, "49000")) {
		t.Fatalf("surviving lots = %+v, want only the inadmissible 49000 sell", lots)
	}
}

func TestLedgerEqualAgePrefersWiderMargin(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	l.Add(lot(t, types.AccountB, types.SELL, "50100", "300", now))
	l.Add(lot(t, types.AccountB, types.SELL, "50400", "300", now))
	l.Add(lot(t, types.AccountA, types.BUY, "50000", "300", now.Add(time.Second)))

	lots := l.Lots()
	if len(lots) != 1 {
		t.Fatalf("live lots = %d, want 1", len(lots))
	}
	if !lots[0].GuardPrice.Equal(dec(t, "50100")) {
		t.Errorf("surviving guard = %s, want 50100 (wider-margin 50400 consumed)", lots[0].GuardPrice)
	}
}

func TestLedgerDrainsAcrossSeveralLots(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	l.Add(lot(t, types.AccountB, types.SELL, "50100", "300", now))
	l.Add(lot(t, types.AccountB, types.SELL, "50200", "300", now.Add(time.Second)))
	matched := l.Add(lot(t, types.AccountA, types.BUY, "50000", "500", now.Add(2*time.Second)))

	if !matched.Equal(dec(t, "500")) {
		t.Fatalf("matched = %s, want 500", matched)
	}
	lots := l.Lots()
	if len(lots) != 1 || !lots[0].Remaining.Equal(dec(t, "100")) {
		t.Fatalf("surviving lots = %+v, want a single 100 remainder", lots)
	}
}

func TestLedgerDropsNonPositiveLots(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	l.Add(lot(t, types.AccountA, types.BUY, "50000", "0", time.Now()))
	if got := l.UnmatchedNotional(); got.Sign() != 0 {
		t.Errorf("UnmatchedNotional = %s, want 0", got)
	}
	if _, ok := l.EarliestUnmatched(); ok {
		t.Error("EarliestUnmatched should report nothing")
	}
}

func TestLedgerOldestOpposing(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	if _, _, ok := l.OldestOpposing(types.AccountA); ok {
		t.Fatal("empty ledger should have no opposing lot")
	}

	// Guards are chosen so nothing is mutually admissible and all three
	// lots stay live.
	l.Add(lot(t, types.AccountA, types.BUY, "48000", "100", now.Add(-time.Hour)))
	l.Add(lot(t, types.AccountB, types.SELL, "47000", "200", now))
	l.Add(lot(t, types.AccountB, types.BUY, "49000", "200", now.Add(time.Minute)))

	side, guard, ok := l.OldestOpposing(types.AccountA)
	if !ok {
		t.Fatal("expected an opposing lot for A")
	}
	if side != types.BUY || !guard.Equal(dec(t, "47000")) {
		t.Errorf("opposing = %s @ %s, want BUY @ 47000 (hedging B's oldest sell)", side, guard)
	}

	// B's own lots never steer B; only A's lot counts.
	side, guard, ok = l.OldestOpposing(types.AccountB)
	if !ok || side != types.SELL || !guard.Equal(dec(t, "48000")) {
		t.Errorf("opposing for B = %s @ %s (ok=%v), want SELL @ 48000", side, guard, ok)
	}
}

func TestLedgerEarliestUnmatched(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()
	oldest := now.Add(-2 * time.Hour)

	l.Add(lot(t, types.AccountA, types.BUY, "50000", "100", oldest))
	l.Add(lot(t, types.AccountB, types.BUY, "50000", "100", now))

	got, ok := l.EarliestUnmatched()
	if !ok || !got.Equal(oldest) {
		t.Errorf("EarliestUnmatched = %v (ok=%v), want %v", got, ok, oldest)
	}
}

func TestLedgerSyntheticStartupPairCancelsOut(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	now := time.Now()

	a := lot(t, types.AccountA, types.BUY, "50000", "1500", now)
	a.Synthetic = true
	b := lot(t, types.AccountB, types.SELL, "50000", "1500", now)
	b.Synthetic = true

	l.Add(a)
	matched := l.Add(b)
	if !matched.Equal(dec(t, "1500")) {
		t.Fatalf("matched = %s, want 1500", matched)
	}
	if got := l.UnmatchedNotional(); got.Sign() != 0 {
		t.Errorf("UnmatchedNotional = %s, want 0", got)
	}
}
