// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — sides, order
// states, venue environments, wire payloads for the GRVT REST/WS API, and
// decimal rounding helpers. It has no dependencies on internal packages,
// so it can be imported by any layer.
package types

import (
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// IsBuy reports whether the side is BUY.
func (s Side) IsBuy() bool { return s == BUY }

// AccountLabel identifies one of the two paired trading accounts.
type AccountLabel string

const (
	AccountA AccountLabel = "A"
	AccountB AccountLabel = "B"
)

// Other returns the paired account.
func (a AccountLabel) Other() AccountLabel {
	if a == AccountA {
		return AccountB
	}
	return AccountA
}

// PositionMode selects how a symbol's equal-position seeding leans:
// increase grows the pair from zero, decrease works existing inventory
// down.
type PositionMode string

const (
	ModeIncrease PositionMode = "increase"
	ModeDecrease PositionMode = "decrease"
)

// OrderState is the lifecycle state of a managed order.
// PENDING means the create call returned a placeholder exchange ID and the
// real ID has not been observed in an open-orders sync yet.
type OrderState string

const (
	OrderStatePending   OrderState = "PENDING"
	OrderStateOpen      OrderState = "OPEN"
	OrderStatePartial   OrderState = "PARTIAL"
	OrderStateFilled    OrderState = "FILLED"
	OrderStateCancelled OrderState = "CANCELLED"
	OrderStateRejected  OrderState = "REJECTED"
)

// IsTerminal reports whether the state is final. Terminal orders never
// transition again.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	}
	return false
}

// TimeInForce values accepted by the venue. The engine only ever submits
// GOOD_TILL_TIME post-only limit orders.
type TimeInForce string

const (
	TifGoodTillTime TimeInForce = "GOOD_TILL_TIME"
)

// ————————————————————————————————————————————————————————————————————————
// Venue environments
// ————————————————————————————————————————————————————————————————————————

// Environment selects the GRVT deployment to trade against.
type Environment string

const (
	EnvProd    Environment = "prod"
	EnvTestnet Environment = "testnet"
	EnvStaging Environment = "staging"
	EnvDev     Environment = "dev"
)

// Hosts are the per-environment API endpoints: Edge serves auth, Trades
// serves the trading data gateway, MarketData serves books and instrument
// metadata, WS is the market-data stream.
type Hosts struct {
	Edge       string
	Trades     string
	MarketData string
	WS         string
}

// Hosts returns the endpoints for the environment. Unknown environments
// fall back to prod.
func (e Environment) Hosts() Hosts {
	switch e {
	case EnvTestnet:
		return Hosts{
			Edge:       "https://edge.testnet.grvt.io",
			Trades:     "https://trades.testnet.grvt.io",
			MarketData: "https://market-data.testnet.grvt.io",
			WS:         "wss://market-data.testnet.grvt.io/ws",
		}
	case EnvStaging:
		return Hosts{
			Edge:       "https://edge.staging.gravitymarkets.io",
			Trades:     "https://trades.staging.gravitymarkets.io",
			MarketData: "https://market-data.staging.gravitymarkets.io",
			WS:         "wss://market-data.staging.gravitymarkets.io/ws",
		}
	case EnvDev:
		return Hosts{
			Edge:       "https://edge.dev.gravitymarkets.io",
			Trades:     "https://trades.dev.gravitymarkets.io",
			MarketData: "https://market-data.dev.gravitymarkets.io",
			WS:         "wss://market-data.dev.gravitymarkets.io/ws",
		}
	default:
		return Hosts{
			Edge:       "https://edge.grvt.io",
			Trades:     "https://trades.grvt.io",
			MarketData: "https://market-data.grvt.io",
			WS:         "wss://market-data.grvt.io/ws",
		}
	}
}

// ChainID returns the EIP-712 signing domain chain ID for the environment.
func (e Environment) ChainID() int64 {
	switch e {
	case EnvTestnet:
		return 326
	case EnvStaging:
		return 327
	case EnvDev:
		return 328
	default:
		return 325
	}
}

// ————————————————————————————————————————————————————————————————————————
// Instrument metadata
// ————————————————————————————————————————————————————————————————————————

// Instrument is the venue's perpetual contract definition. Numeric fields
// arrive as decimal strings to preserve precision; InstrumentHash is the
// uint256 asset ID used in order signing.
type Instrument struct {
	Instrument     string `json:"instrument"`      // canonical name, e.g. "BTC_USDT_Perp"
	InstrumentHash string `json:"instrument_hash"` // signing asset ID (hex or decimal string)
	Base           string `json:"base"`
	Quote          string `json:"quote"`
	Kind           string `json:"kind"` // "PERPETUAL"
	TickSize       string `json:"tick_size"`
	MinSize        string `json:"min_size"`
	BaseDecimals   int    `json:"base_decimals"`
	QuoteDecimals  int    `json:"quote_decimals"`
	IsActive       bool   `json:"is_active"`
}

// GetInstrumentRequest fetches a single instrument definition by name.
type GetInstrumentRequest struct {
	Instrument string `json:"instrument"`
}

// GetInstrumentResponse wraps a single instrument result.
type GetInstrumentResponse struct {
	Result Instrument `json:"result"`
}

// GetInstrumentsRequest lists instrument definitions, optionally filtered.
type GetInstrumentsRequest struct {
	Kind     []string `json:"kind,omitempty"`
	IsActive bool     `json:"is_active"`
}

// GetInstrumentsResponse wraps the instrument list result.
type GetInstrumentsResponse struct {
	Result []Instrument `json:"result"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderLeg is one leg of a venue order. The engine always submits single-leg
// orders. Size and LimitPrice are decimal strings.
type OrderLeg struct {
	Instrument    string `json:"instrument"`
	Size          string `json:"size"`
	LimitPrice    string `json:"limit_price"`
	IsBuyingAsset bool   `json:"is_buying_asset"`
}

// OrderSignature carries the EIP-712 signature over the order payload.
type OrderSignature struct {
	Signer     string `json:"signer"`
	R          string `json:"r"`
	S          string `json:"s"`
	V          int    `json:"v"`
	Expiration string `json:"expiration"` // nanosecond timestamp as string
	Nonce      uint32 `json:"nonce"`
}

// OrderMetadata carries exchange-opaque fields; ClientOrderID is the
// engine's numeric tag used to recognise its own orders after restarts.
type OrderMetadata struct {
	ClientOrderID string `json:"client_order_id"`
	CreateTime    string `json:"create_time,omitempty"` // set by the venue
}

// Order is the venue order representation used both for create requests
// and for open-order / get-order results.
type Order struct {
	OrderID      string          `json:"order_id,omitempty"` // venue-assigned, absent on create
	SubAccountID string          `json:"sub_account_id"`
	IsMarket     bool            `json:"is_market"`
	TimeInForce  TimeInForce     `json:"time_in_force"`
	PostOnly     bool            `json:"post_only"`
	ReduceOnly   bool            `json:"reduce_only"`
	Legs         []OrderLeg      `json:"legs"`
	Signature    OrderSignature  `json:"signature"`
	Metadata     OrderMetadata   `json:"metadata"`
	State        *OrderWireState `json:"state,omitempty"` // present on reads
}

// OrderWireState is the venue-reported execution state of an order.
type OrderWireState struct {
	Status       string   `json:"status"` // OPEN, FILLED, CANCELLED, REJECTED...
	RejectReason string   `json:"reject_reason,omitempty"`
	BookSize     []string `json:"book_size"`   // remaining size per leg
	TradedSize   []string `json:"traded_size"` // cumulative filled size per leg
	AvgFillPrice []string `json:"avg_fill_price"`
	UpdateTime   string   `json:"update_time,omitempty"`
}

// CreateOrderRequest submits one signed order.
type CreateOrderRequest struct {
	Order Order `json:"order"`
}

// CreateOrderResponse wraps the accepted order, which may still carry a
// placeholder order_id until the matching engine assigns the real one.
type CreateOrderResponse struct {
	Result Order `json:"result"`
}

// CancelOrderRequest cancels by venue order ID or client order ID.
type CancelOrderRequest struct {
	SubAccountID  string `json:"sub_account_id"`
	OrderID       string `json:"order_id,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Ack is the generic success payload for mutating calls.
type Ack struct {
	Ack bool `json:"ack"`
}

// AckResponse wraps an Ack result.
type AckResponse struct {
	Result Ack `json:"result"`
}

// OpenOrdersRequest lists resting orders for a sub-account.
type OpenOrdersRequest struct {
	SubAccountID string   `json:"sub_account_id"`
	Kind         []string `json:"kind,omitempty"`
}

// OpenOrdersResponse wraps the open-orders result.
type OpenOrdersResponse struct {
	Result []Order `json:"result"`
}

// GetOrderRequest fetches one order by venue or client order ID.
type GetOrderRequest struct {
	SubAccountID  string `json:"sub_account_id"`
	OrderID       string `json:"order_id,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// GetOrderResponse wraps a single order result.
type GetOrderResponse struct {
	Result Order `json:"result"`
}

// ————————————————————————————————————————————————————————————————————————
// Positions and account summaries
// ————————————————————————————————————————————————————————————————————————

// Position is one perpetual position row. Size is signed (negative =
// short); prices are decimal strings.
type Position struct {
	SubAccountID  string `json:"sub_account_id"`
	Instrument    string `json:"instrument"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entry_price"`
	MarkPrice     string `json:"mark_price"`
	UnrealizedPnl string `json:"unrealized_pnl,omitempty"`
}

// PositionsRequest lists positions for a sub-account.
type PositionsRequest struct {
	SubAccountID string   `json:"sub_account_id"`
	Kind         []string `json:"kind,omitempty"`
}

// PositionsResponse wraps the positions result.
type PositionsResponse struct {
	Result []Position `json:"result"`
}

// SpotBalance is one currency balance row inside an account summary.
type SpotBalance struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

// AccountSummary is the shared shape of aggregated (trading) and funding
// account summaries. MainAccountID links a trading sub-account back to the
// on-chain main account used for transfers.
type AccountSummary struct {
	MainAccountID     string        `json:"main_account_id"`
	TotalEquity       string        `json:"total_equity"`
	MaintenanceMargin string        `json:"maintenance_margin,omitempty"`
	AvailableBalance  string        `json:"available_balance,omitempty"`
	SpotBalances      []SpotBalance `json:"spot_balances,omitempty"`
}

// AccountSummaryResponse wraps an account summary result.
type AccountSummaryResponse struct {
	Result AccountSummary `json:"result"`
}

// ————————————————————————————————————————————————————————————————————————
// Transfers
// ————————————————————————————————————————————————————————————————————————

// TransferSignature carries the EIP-712 signature over a transfer.
type TransferSignature struct {
	Signer     string `json:"signer"`
	R          string `json:"r"`
	S          string `json:"s"`
	V          int    `json:"v"`
	Expiration string `json:"expiration"`
	Nonce      uint32 `json:"nonce"`
}

// TransferRequest moves currency between main/sub account pairs.
// TransferType is "STANDARD" for ordinary balance moves.
type TransferRequest struct {
	FromAccountID    string            `json:"from_account_id"`
	FromSubAccountID string            `json:"from_sub_account_id"`
	ToAccountID      string            `json:"to_account_id"`
	ToSubAccountID   string            `json:"to_sub_account_id"`
	Currency         string            `json:"currency"`
	NumTokens        string            `json:"num_tokens"`
	Signature        TransferSignature `json:"signature"`
	TransferType     string            `json:"transfer_type"`
	TransferMetadata string            `json:"transfer_metadata"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// BookLevel is a single bid or ask level. Price and Size are strings
// because the venue returns them as decimal strings to preserve precision.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderbookRequest fetches an L2 snapshot with the given depth.
type OrderbookRequest struct {
	Instrument string `json:"instrument"`
	Depth      int    `json:"depth"`
}

// OrderbookSnapshot is a point-in-time book view. Bids sort descending,
// asks ascending.
type OrderbookSnapshot struct {
	Instrument string      `json:"instrument"`
	Bids       []BookLevel `json:"bids"`
	Asks       []BookLevel `json:"asks"`
	EventTime  string      `json:"event_time,omitempty"`
}

// OrderbookResponse wraps the snapshot result.
type OrderbookResponse struct {
	Result OrderbookSnapshot `json:"result"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket stream
// ————————————————————————————————————————————————————————————————————————

// WSRequest is the JSON-RPC subscribe/unsubscribe frame for the
// market-data stream.
type WSRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  WSParams `json:"params"`
	ID      int      `json:"id"`
}

// WSParams selects a stream and its instrument selectors, e.g. stream
// "v1.book.s" with selector "BTC_USDT_Perp@500-10".
type WSParams struct {
	Stream    string   `json:"stream"`
	Selectors []string `json:"selectors"`
}

// WSBookFeed is a book snapshot frame pushed on the v1.book.s stream.
type WSBookFeed struct {
	Stream         string            `json:"stream"`
	Selector       string            `json:"selector"`
	SequenceNumber string            `json:"sequence_number"`
	Feed           OrderbookSnapshot `json:"feed"`
}

// ————————————————————————————————————————————————————————————————————————
// Errors
// ————————————————————————————————————————————————————————————————————————

// APIError is the venue's error envelope. Code is the venue-specific
// numeric code (1000 = unauthenticated, 1006 = rate limited).
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Decimal rounding
// ————————————————————————————————————————————————————————————————————————

// notionalPlaces is the quantum for USDT notional arithmetic. All
// notionals round down to this precision before comparison so that lot
// matching and gap math stay exact.
const notionalPlaces = 6

// CeilToTick rounds a price up to the next multiple of tick. Zero or
// negative ticks leave the price untouched.
func CeilToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return price
	}
	return price.Div(tick).Ceil().Mul(tick)
}

// FloorToTick rounds a price down to the previous multiple of tick.
func FloorToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

// FloorToStep rounds a base size down to a multiple of the instrument's
// size step.
func FloorToStep(size, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return size
	}
	return size.Div(step).Floor().Mul(step)
}

// RoundNotional quantises a USDT notional to 6 decimal places, rounding
// toward zero.
func RoundNotional(n decimal.Decimal) decimal.Decimal {
	return n.RoundDown(notionalPlaces)
}
