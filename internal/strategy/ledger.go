package strategy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"grvt-hedge/pkg/types"
)

// FillLot is one executed slice of exposure still waiting for its hedge
// on the paired account. Remaining is USDT notional. GuardPrice is the
// protected execution price: the hedge for a buy lot must sell at or
// above it, the hedge for a sell lot must buy at or below it.
type FillLot struct {
	Account    types.AccountLabel
	Side       types.Side
	GuardPrice decimal.Decimal
	Remaining  decimal.Decimal
	CreatedAt  time.Time
	Synthetic  bool // seeded from a pre-existing position, not an observed fill
}

type lotKey struct {
	account types.AccountLabel
	side    types.Side
}

// Ledger holds an instrument's unmatched fill lots in four FIFO queues
// keyed by (account, side). Adding a lot immediately runs the matcher,
// so at rest no two lots that could legally hedge each other coexist.
//
// Not safe for concurrent use; each instrument's hedger owns exactly one.
type Ledger struct {
	queues map[lotKey][]*FillLot
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{queues: make(map[lotKey][]*FillLot)}
}

// Add appends a lot to its (account, side) queue and settles the ledger.
// Returns the notional matched as a consequence. Lots without positive
// remaining notional are dropped.
func (l *Ledger) Add(lot FillLot) decimal.Decimal {
	if lot.Remaining.Sign() <= 0 {
		return decimal.Zero
	}
	cp := lot
	k := lotKey{account: lot.Account, side: lot.Side}
	l.queues[k] = append(l.queues[k], &cp)
	return l.settle()
}

// settle pairs admissible lots until none remain. A buy lot on one
// account pairs with a sell lot on the other when the sell's guard price
// is at or above the buy's, so the round trip can never lock in a loss.
func (l *Ledger) settle() decimal.Decimal {
	total := decimal.Zero
	for {
		matched := l.matchPass()
		if matched.Sign() == 0 {
			break
		}
		total = total.Add(matched)
	}
	return total
}

func (l *Ledger) matchPass() decimal.Decimal {
	total := decimal.Zero
	pairings := [2][2]types.AccountLabel{
		{types.AccountA, types.AccountB},
		{types.AccountB, types.AccountA},
	}
	for _, p := range pairings {
		buys := l.queues[lotKey{account: p[0], side: types.BUY}]
		sells := l.queues[lotKey{account: p[1], side: types.SELL}]
		for _, buy := range buys {
			for buy.Remaining.Sign() > 0 {
				sell := pickHedge(sells, buy)
				if sell == nil {
					break
				}
				matched := decimal.Min(buy.Remaining, sell.Remaining)
				buy.Remaining = buy.Remaining.Sub(matched)
				sell.Remaining = sell.Remaining.Sub(matched)
				total = total.Add(matched)
			}
		}
	}
	if total.Sign() > 0 {
		l.compact()
	}
	return total
}

// pickHedge selects the sell lot to pair with buy: oldest admissible
// first, equal ages broken by the wider protection margin.
func pickHedge(sells []*FillLot, buy *FillLot) *FillLot {
	var best *FillLot
	for _, s := range sells {
		if s.Remaining.Sign() <= 0 {
			continue
		}
		if s.GuardPrice.LessThan(buy.GuardPrice) {
			continue
		}
		switch {
		case best == nil:
			best = s
		case s.CreatedAt.Before(best.CreatedAt):
			best = s
		case s.CreatedAt.Equal(best.CreatedAt) && s.GuardPrice.GreaterThan(best.GuardPrice):
			best = s
		}
	}
	return best
}

func (l *Ledger) compact() {
	for k, q := range l.queues {
		live := q[:0]
		for _, lot := range q {
			if lot.Remaining.Sign() > 0 {
				live = append(live, lot)
			}
		}
		l.queues[k] = live
	}
}

// OldestOpposing returns the hedge side and guard price implied by the
// oldest unmatched lot owned by the other account: hedging a buy lot
// means selling at or above its guard, and vice versa.
func (l *Ledger) OldestOpposing(target types.AccountLabel) (types.Side, decimal.Decimal, bool) {
	other := target.Other()
	var oldest *FillLot
	for _, side := range []types.Side{types.BUY, types.SELL} {
		for _, lot := range l.queues[lotKey{account: other, side: side}] {
			if lot.Remaining.Sign() <= 0 {
				continue
			}
			if oldest == nil || lot.CreatedAt.Before(oldest.CreatedAt) {
				oldest = lot
			}
			break // queues are FIFO, the first live lot is the queue's oldest
		}
	}
	if oldest == nil {
		return "", decimal.Zero, false
	}
	return oldest.Side.Opposite(), oldest.GuardPrice, true
}

// EarliestUnmatched returns the creation time of the oldest live lot.
func (l *Ledger) EarliestUnmatched() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, q := range l.queues {
		for _, lot := range q {
			if lot.Remaining.Sign() <= 0 {
				continue
			}
			if !found || lot.CreatedAt.Before(earliest) {
				earliest = lot.CreatedAt
				found = true
			}
			break
		}
	}
	return earliest, found
}

// UnmatchedNotional sums the live remaining notional across all queues.
func (l *Ledger) UnmatchedNotional() decimal.Decimal {
	total := decimal.Zero
	for _, q := range l.queues {
		for _, lot := range q {
			total = total.Add(lot.Remaining)
		}
	}
	return total
}

// Lots returns copies of the live lots, oldest first.
func (l *Ledger) Lots() []FillLot {
	var out []FillLot
	for _, q := range l.queues {
		for _, lot := range q {
			if lot.Remaining.Sign() > 0 {
				out = append(out, *lot)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
