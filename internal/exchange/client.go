// Package exchange implements the venue REST gateway and market-data feed.
//
// The REST client (Client) is a typed facade over the venue's JSON API,
// one instance per trading account:
//
//   - PlacePostOnly:  POST /full/v1/create_order   — signed post-only limit order
//   - CancelOrder:    POST /full/v1/cancel_order   — cancel by venue or client id
//   - OpenOrders:     POST /full/v1/open_orders    — resting orders for the sub-account
//   - GetOrder:       POST /full/v1/order          — single order lookup
//   - Positions:      POST /full/v1/positions      — perpetual positions
//   - AccountSummary: POST /full/v1/aggregated_account_summary
//   - FundingSummary: POST /full/v1/funding_account_summary
//   - Transfer:       POST /full/v1/transfer       — signed balance move
//   - Orderbook:      POST /full/v1/book           — L2 snapshot (market-data host)
//   - Instrument(s):  POST /full/v1/instrument(s)  — contract metadata
//
// Every call waits on a per-category token bucket and retries 5xx via
// resty. Authenticated calls attach the session cookie; when the venue
// rejects a session mid-flight the client logs in again exactly once and
// replays the call. Mutating calls are serialised per account.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/config"
	"grvt-hedge/pkg/types"
)

// Client is the venue REST API client for a single trading account.
type Client struct {
	label types.AccountLabel
	subID string // trading sub-account id

	edge   *resty.Client // auth host
	trades *resty.Client // trading data gateway
	market *resty.Client // market-data host (public)

	auth   *Auth
	rl     *RateLimiter
	logger *logrus.Entry

	writeMu sync.Mutex // serialises mutating calls per account
}

// NewClient creates a REST client for one account.
func NewClient(acct config.AccountConfig, logger *logrus.Logger) (*Client, error) {
	auth, err := NewAuth(acct)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", acct.Label, err)
	}

	hosts := acct.Env.Hosts()
	return &Client{
		label:  acct.Label,
		subID:  acct.TradingAccountID,
		edge:   newHTTPClient(hosts.Edge),
		trades: newHTTPClient(hosts.Trades),
		market: newHTTPClient(hosts.MarketData),
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.WithFields(logrus.Fields{
			"component": "exchange",
			"account":   string(acct.Label),
		}),
	}, nil
}

func newHTTPClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
}

// Label returns the account label this client trades for.
func (c *Client) Label() types.AccountLabel { return c.label }

// SubAccountID returns the trading sub-account id.
func (c *Client) SubAccountID() string { return c.subID }

// MainAccountID returns the main account id from the last login, or ""
// before the first.
func (c *Client) MainAccountID() string { return c.auth.MainAccountID() }

// Login forces a fresh session. Called once at startup so credential
// problems fail fast instead of surfacing mid-tick.
func (c *Client) Login(ctx context.Context) error {
	if err := c.auth.Login(ctx, c.edge); err != nil {
		return fmt.Errorf("account %s: %w", c.label, err)
	}
	c.logger.WithField("main_account", c.auth.MainAccountID()).Info("session established")
	return nil
}

// PlacePostOnly submits a signed post-only good-till-time limit order.
// Every strategy placement goes through here; the order is never market,
// never taker, never reduce-only. The returned order may still carry a
// placeholder order id when the venue has not assigned the real one yet.
func (c *Client) PlacePostOnly(ctx context.Context, inst types.Instrument, side types.Side, price, size decimal.Decimal, clientOrderID uint64) (types.Order, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	order := types.Order{
		SubAccountID: c.subID,
		IsMarket:     false,
		TimeInForce:  types.TifGoodTillTime,
		PostOnly:     true,
		ReduceOnly:   false,
		Legs: []types.OrderLeg{{
			Instrument:    inst.Instrument,
			Size:          size.String(),
			LimitPrice:    price.String(),
			IsBuyingAsset: side.IsBuy(),
		}},
		Metadata: types.OrderMetadata{
			ClientOrderID: fmt.Sprintf("%d", clientOrderID),
		},
	}
	if err := c.auth.SignOrder(&order, inst); err != nil {
		return types.Order{}, err
	}

	var result types.CreateOrderResponse
	if err := c.call(ctx, "create_order", "/full/v1/create_order", types.CreateOrderRequest{Order: order}, &result); err != nil {
		return types.Order{}, err
	}

	c.logger.WithFields(logrus.Fields{
		"instrument": inst.Instrument,
		"side":       string(side),
		"price":      price.String(),
		"size":       size.String(),
		"client_id":  clientOrderID,
		"order_id":   result.Result.OrderID,
	}).Info("order placed")
	return result.Result, nil
}

// CancelOrder cancels by venue order id or client order id (either may be
// empty). A venue reply saying the order is already gone counts as
// success.
func (c *Client) CancelOrder(ctx context.Context, orderID string, clientOrderID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	req := types.CancelOrderRequest{
		SubAccountID:  c.subID,
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
	}
	var result types.AckResponse
	if err := c.call(ctx, "cancel_order", "/full/v1/cancel_order", req, &result); err != nil {
		if OrderGone(err) {
			c.logger.WithField("order_id", orderID).Debug("cancel target already gone")
			return nil
		}
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":  orderID,
		"client_id": clientOrderID,
	}).Info("order cancelled")
	return nil
}

// OpenOrders lists resting perpetual orders for the sub-account.
func (c *Client) OpenOrders(ctx context.Context) ([]types.Order, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	req := types.OpenOrdersRequest{SubAccountID: c.subID, Kind: []string{"PERPETUAL"}}
	var result types.OpenOrdersResponse
	if err := c.call(ctx, "open_orders", "/full/v1/open_orders", req, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// GetOrder fetches a single order by venue order id or client order id.
func (c *Client) GetOrder(ctx context.Context, orderID string, clientOrderID string) (types.Order, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	req := types.GetOrderRequest{
		SubAccountID:  c.subID,
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
	}
	var result types.GetOrderResponse
	if err := c.call(ctx, "order", "/full/v1/order", req, &result); err != nil {
		return types.Order{}, err
	}
	return result.Result, nil
}

// Positions lists the sub-account's perpetual positions.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	req := types.PositionsRequest{SubAccountID: c.subID, Kind: []string{"PERPETUAL"}}
	var result types.PositionsResponse
	if err := c.call(ctx, "positions", "/full/v1/positions", req, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// AccountSummary fetches the aggregated (trading) account summary: total
// equity, maintenance margin, available balance, and the main account id.
func (c *Client) AccountSummary(ctx context.Context) (types.AccountSummary, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return types.AccountSummary{}, err
	}

	var result types.AccountSummaryResponse
	if err := c.call(ctx, "aggregated_account_summary", "/full/v1/aggregated_account_summary", struct{}{}, &result); err != nil {
		return types.AccountSummary{}, err
	}
	return result.Result, nil
}

// FundingSummary fetches the funding account summary.
func (c *Client) FundingSummary(ctx context.Context) (types.AccountSummary, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return types.AccountSummary{}, err
	}

	var result types.AccountSummaryResponse
	if err := c.call(ctx, "funding_account_summary", "/full/v1/funding_account_summary", struct{}{}, &result); err != nil {
		return types.AccountSummary{}, err
	}
	return result.Result, nil
}

// Transfer signs and submits a balance move. The request's signature field
// is filled in here.
func (c *Client) Transfer(ctx context.Context, req types.TransferRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}
	if err := c.auth.SignTransfer(&req); err != nil {
		return err
	}

	var result types.AckResponse
	if err := c.call(ctx, "transfer", "/full/v1/transfer", req, &result); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"from_sub": req.FromSubAccountID,
		"to_sub":   req.ToSubAccountID,
		"amount":   req.NumTokens,
		"currency": req.Currency,
	}).Info("transfer submitted")
	return nil
}

// Orderbook fetches an L2 snapshot from the market-data host.
func (c *Client) Orderbook(ctx context.Context, instrument string, depth int) (types.OrderbookSnapshot, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.OrderbookSnapshot{}, err
	}

	req := types.OrderbookRequest{Instrument: instrument, Depth: depth}
	var result types.OrderbookResponse
	if err := c.callPublic(ctx, "book", "/full/v1/book", req, &result); err != nil {
		return types.OrderbookSnapshot{}, err
	}
	return result.Result, nil
}

// Instrument fetches one contract definition by canonical name.
func (c *Client) Instrument(ctx context.Context, name string) (types.Instrument, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.Instrument{}, err
	}

	req := types.GetInstrumentRequest{Instrument: name}
	var result types.GetInstrumentResponse
	if err := c.callPublic(ctx, "instrument", "/full/v1/instrument", req, &result); err != nil {
		return types.Instrument{}, err
	}
	return result.Result, nil
}

// Instruments lists the venue's active perpetual contracts.
func (c *Client) Instruments(ctx context.Context) ([]types.Instrument, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	req := types.GetInstrumentsRequest{Kind: []string{"PERPETUAL"}, IsActive: true}
	var result types.GetInstrumentsResponse
	if err := c.callPublic(ctx, "instruments", "/full/v1/instruments", req, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// call posts one authenticated request to the trades host. A session
// rejection triggers exactly one re-login and replay; persistent auth
// failure surfaces to the caller.
func (c *Client) call(ctx context.Context, op, path string, body, out interface{}) error {
	for attempt := 0; ; attempt++ {
		if !c.auth.SessionValid() {
			if err := c.auth.Login(ctx, c.edge); err != nil {
				return err
			}
		}

		resp, err := c.trades.R().
			SetContext(ctx).
			SetHeaders(c.auth.SessionHeaders()).
			SetBody(body).
			SetResult(out).
			Post(path)
		if err != nil {
			return transportError(op, err)
		}

		if apiErr := decodeError(op, resp); apiErr != nil {
			if apiErr.Kind == KindAuth && attempt == 0 {
				c.logger.WithField("op", op).Warn("session rejected, re-authenticating")
				c.auth.Invalidate()
				continue
			}
			return apiErr
		}
		return nil
	}
}

// callPublic posts one request to the market-data host. No session.
func (c *Client) callPublic(ctx context.Context, op, path string, body, out interface{}) error {
	resp, err := c.market.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post(path)
	if err != nil {
		return transportError(op, err)
	}
	if apiErr := decodeError(op, resp); apiErr != nil {
		return apiErr
	}
	return nil
}

// decodeError inspects a completed response for failure. The venue signals
// errors both with non-200 statuses and with a 200 carrying an error
// envelope instead of a result, so both are checked.
func decodeError(op string, resp *resty.Response) *Error {
	var envelope types.APIError
	if err := json.Unmarshal(resp.Body(), &envelope); err == nil && envelope.Code != 0 {
		status := envelope.Status
		if status == 0 {
			status = resp.StatusCode()
			if status == http.StatusOK {
				status = 0
			}
		}
		return classify(op, status, envelope.Code, envelope.Message)
	}
	if resp.StatusCode() != http.StatusOK {
		return classify(op, resp.StatusCode(), 0, resp.String())
	}
	return nil
}
