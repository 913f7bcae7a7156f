package strategy

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grvt-hedge/pkg/types"
)

// Client order ids mint into a dedicated numeric namespace so the engine
// can recognise its own orders across restarts: top nibble 0xE, account
// bit 59, side bit 58, 58 bits of entropy. Earlier deployments tagged
// orders with a string prefix instead; those still classify as ours.
const (
	orderIDPrefix uint64 = 0xE000000000000000
	orderIDMask   uint64 = 0xF000000000000000
	entropyBits          = 58

	legacyOrderPrefix = "HEDGEV1_"
)

// Close reasons recorded on locally cancelled orders.
const (
	closeProvisionalTimeout = "PROVISIONAL_TIMEOUT"
	closeCapOverflow        = "low_diff_account_order_cap"
	closeStopCleanup        = "stop_cleanup"
)

// Windows after which an order stops counting toward activity caps:
// orders unseen in any snapshot for an hour are presumed gone even
// without a terminal status, and never-seen orders get ten minutes to
// show up before they are ignored.
const (
	activeSeenWindow    = time.Hour
	activeCreatedWindow = 10 * time.Minute

	// provisionalWindow bounds how long an order may keep a placeholder
	// exchange id before it is written off.
	provisionalWindow = time.Minute
)

// NewClientOrderID mints a strategy client order id for the account/side.
func NewClientOrderID(account types.AccountLabel, side types.Side) uint64 {
	var accBit, sideBit uint64
	if account == types.AccountB {
		accBit = 1
	}
	if side == types.SELL {
		sideBit = 1
	}
	entropy := (uint64(time.Now().UnixNano()) ^ rand.Uint64()) & (1<<entropyBits - 1)
	return orderIDPrefix | accBit<<59 | sideBit<<58 | entropy
}

// IsStrategyOrderID reports whether a client order id belongs to this
// engine, by namespace bits or by the legacy string prefix.
func IsStrategyOrderID(clientOrderID string) bool {
	if strings.HasPrefix(clientOrderID, legacyOrderPrefix) {
		return true
	}
	v, err := strconv.ParseUint(clientOrderID, 10, 64)
	if err != nil {
		return false
	}
	return v&orderIDMask == orderIDPrefix
}

// IsPlaceholderOrderID reports whether an exchange order id is a sentinel
// the venue hands out before the matching engine assigns the real one.
func IsPlaceholderOrderID(orderID string) bool {
	oid := strings.ToLower(strings.TrimSpace(orderID))
	switch oid {
	case "", "0", "0x0", "0x00":
		return true
	}
	return strings.HasPrefix(oid, "0x00")
}

// ManagedOrder tracks one order the engine placed (or adopted after a
// restart) from submission to terminal state.
type ManagedOrder struct {
	OrderID       string // venue id, possibly a placeholder sentinel at first
	ClientOrderID string
	Account       types.AccountLabel
	Instrument    string
	Side          types.Side
	Price         decimal.Decimal // limit price, also the lot guard for its fills
	Size          decimal.Decimal // base units
	NotionalUSDT  decimal.Decimal
	GuardPrice    decimal.Decimal // guard that motivated the placement, zero if none
	CreatedAt     time.Time
	LastSeenAt    time.Time
	AppliedTraded decimal.Decimal // traded size already pushed into the ledger
	PartialSince  time.Time
	StrategyOwned bool
	State         types.OrderState
	CloseReason   string
}

// Terminal reports whether the order reached a final state.
func (m *ManagedOrder) Terminal() bool { return m.State.IsTerminal() }

// ActiveAt reports whether the order still counts toward activity caps.
func (m *ManagedOrder) ActiveAt(now time.Time) bool {
	if !m.StrategyOwned || m.Terminal() {
		return false
	}
	if !m.LastSeenAt.IsZero() {
		return now.Sub(m.LastSeenAt) <= activeSeenWindow
	}
	return now.Sub(m.CreatedAt) <= activeCreatedWindow
}

func (m *ManagedOrder) close(state types.OrderState, reason string) {
	m.State = state
	m.CloseReason = reason
}

// Table indexes one instrument's managed orders by client order id. The
// client id is the only identifier that survives the venue's placeholder
// period, so it is the primary key; venue ids are attached as they appear.
//
// Not safe for concurrent use; owned by the instrument's hedger.
type Table struct {
	orders map[string]*ManagedOrder
}

// NewTable creates an empty order table.
func NewTable() *Table {
	return &Table{orders: make(map[string]*ManagedOrder)}
}

// Track registers an order. Existing entries with the same client id are
// replaced.
func (t *Table) Track(m *ManagedOrder) {
	t.orders[m.ClientOrderID] = m
}

// ByClientID returns the order with this client id, or nil.
func (t *Table) ByClientID(clientOrderID string) *ManagedOrder {
	return t.orders[clientOrderID]
}

// ForAccount returns the account's orders, oldest first, in any state.
func (t *Table) ForAccount(account types.AccountLabel) []*ManagedOrder {
	var out []*ManagedOrder
	for _, m := range t.orders {
		if m.Account == account {
			out = append(out, m)
		}
	}
	sortByAge(out)
	return out
}

// ActiveFor returns the account's live strategy orders, oldest first.
func (t *Table) ActiveFor(now time.Time, account types.AccountLabel) []*ManagedOrder {
	var out []*ManagedOrder
	for _, m := range t.orders {
		if m.Account == account && m.ActiveAt(now) {
			out = append(out, m)
		}
	}
	sortByAge(out)
	return out
}

// OpenHedgeNotional sums the resting strategy notional on the account's
// given side. Unlike the activity cap this has no recency window: an
// order is in flight until a terminal state says otherwise.
func (t *Table) OpenHedgeNotional(account types.AccountLabel, side types.Side) decimal.Decimal {
	total := decimal.Zero
	for _, m := range t.orders {
		if m.Account != account || !m.StrategyOwned || m.Terminal() || m.Side != side {
			continue
		}
		total = total.Add(m.NotionalUSDT)
	}
	return total
}

func sortByAge(orders []*ManagedOrder) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ClientOrderID < orders[j].ClientOrderID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

// ————————————————————————————————————————————————————————————————————————
// Wire order helpers
// ————————————————————————————————————————————————————————————————————————

func toDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func orderSide(o types.Order) types.Side {
	if len(o.Legs) > 0 && !o.Legs[0].IsBuyingAsset {
		return types.SELL
	}
	return types.BUY
}

func orderPrice(o types.Order) decimal.Decimal {
	if len(o.Legs) == 0 {
		return decimal.Zero
	}
	return toDecimal(o.Legs[0].LimitPrice)
}

func orderSize(o types.Order) decimal.Decimal {
	if len(o.Legs) == 0 {
		return decimal.Zero
	}
	return toDecimal(o.Legs[0].Size)
}

// orderStatus returns the venue status string, defaulting to OPEN when
// the state block is absent (create responses omit it).
func orderStatus(o types.Order) string {
	if o.State == nil || o.State.Status == "" {
		return "OPEN"
	}
	return strings.ToUpper(o.State.Status)
}

func orderTraded(o types.Order) decimal.Decimal {
	if o.State == nil || len(o.State.TradedSize) == 0 {
		return decimal.Zero
	}
	return toDecimal(o.State.TradedSize[0])
}

func orderBookSize(o types.Order) decimal.Decimal {
	if o.State == nil || len(o.State.BookSize) == 0 {
		return decimal.Zero
	}
	return toDecimal(o.State.BookSize[0])
}

// terminalStateOf maps a venue status to the engine's terminal states,
// or "" when the order is still live.
func terminalStateOf(status string) types.OrderState {
	switch status {
	case "FILLED":
		return types.OrderStateFilled
	case "CANCELLED", "CANCELED":
		return types.OrderStateCancelled
	case "REJECTED":
		return types.OrderStateRejected
	}
	return ""
}
