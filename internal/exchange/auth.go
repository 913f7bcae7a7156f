package exchange

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"grvt-hedge/internal/config"
	"grvt-hedge/pkg/types"
)

const (
	// sessionCookie is the name of the venue session cookie returned by
	// the login endpoint.
	sessionCookie = "gravity"

	// accountIDHeader carries the main account id on login responses and
	// must be echoed on every authenticated call.
	accountIDHeader = "X-Grvt-Account-Id"

	// sessionMargin re-logs-in this long before the cookie actually
	// expires so in-flight calls never race the cutoff.
	sessionMargin = 30 * time.Second

	// fallbackSessionTTL is assumed when the venue omits the cookie
	// expiry.
	fallbackSessionTTL = 5 * time.Minute

	// signatureTTL bounds how long a signed payload stays valid.
	signatureTTL = 15 * time.Minute

	// priceDecimals is the venue's fixed-point price scale for signing.
	priceDecimals = 9
)

// timeInForceCode maps the wire time-in-force onto the venue's signing
// enum.
var timeInForceCode = map[types.TimeInForce]string{
	types.TifGoodTillTime: "1",
}

// currencyCode maps settlement currencies onto the venue's signing enum.
var currencyCode = map[string]string{
	"USD":  "1",
	"USDC": "2",
	"USDT": "3",
}

// Auth handles the two authentication layers of the venue:
//
//   - Session: POST /auth/api_key/login on the edge host exchanges the API
//     key for a short-lived session cookie plus the main-account-id header.
//     Both must accompany every trading call. Sessions are refreshed before
//     expiry and rebuilt once when the venue rejects one mid-flight.
//
//   - Signing: orders and transfers carry EIP-712 typed-data signatures
//     over the venue's exchange domain, produced with the account's
//     private key. Prices, sizes, and token amounts are scaled to the
//     venue's integer units before hashing.
type Auth struct {
	apiKey     string
	privateKey *ecdsa.PrivateKey
	address    common.Address // signer address derived from privateKey
	chainID    *big.Int
	subAccount string // trading sub-account id (decimal string)

	mu      sync.Mutex
	cookie  string
	mainID  string // main account id reported at login
	expires time.Time
}

// NewAuth creates an Auth from one account's credentials.
func NewAuth(acct config.AccountConfig) (*Auth, error) {
	keyHex := acct.PrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Auth{
		apiKey:     acct.APIKey,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(acct.Env.ChainID()),
		subAccount: acct.TradingAccountID,
	}, nil
}

// Address returns the signer's address.
func (a *Auth) Address() common.Address { return a.address }

// SubAccountID returns the trading sub-account id.
func (a *Auth) SubAccountID() string { return a.subAccount }

// MainAccountID returns the main account id reported by the last login,
// or "" before the first one.
func (a *Auth) MainAccountID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mainID
}

// SessionValid reports whether the current session cookie is still safely
// inside its lifetime.
func (a *Auth) SessionValid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cookie != "" && time.Now().Before(a.expires.Add(-sessionMargin))
}

// Invalidate drops the session so the next call logs in again. Used when
// the venue rejects a cookie it previously issued.
func (a *Auth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cookie = ""
	a.expires = time.Time{}
}

// SessionHeaders returns the cookie and account-id headers for an
// authenticated call.
func (a *Auth) SessionHeaders() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]string{
		"Cookie":        sessionCookie + "=" + a.cookie,
		accountIDHeader: a.mainID,
	}
}

// Login exchanges the API key for a fresh session cookie on the edge host.
func (a *Auth) Login(ctx context.Context, edge *resty.Client) error {
	resp, err := edge.R().
		SetContext(ctx).
		SetBody(map[string]string{"api_key": a.apiKey}).
		Post("/auth/api_key/login")
	if err != nil {
		return transportError("login", err)
	}
	if resp.StatusCode() != 200 {
		return classify("login", resp.StatusCode(), 0, resp.String())
	}

	var cookie string
	expires := time.Now().Add(fallbackSessionTTL)
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c.Value
			if !c.Expires.IsZero() {
				expires = c.Expires
			}
		}
	}
	if cookie == "" {
		return classify("login", resp.StatusCode(), 0, "login response missing session cookie")
	}

	a.mu.Lock()
	a.cookie = cookie
	a.expires = expires
	if id := resp.Header().Get(accountIDHeader); id != "" {
		a.mainID = id
	}
	a.mu.Unlock()
	return nil
}

// SignOrder fills in the order's EIP-712 signature. The single leg's size
// and limit price are scaled to integer units using the instrument's base
// decimals and the venue's fixed price scale.
func (a *Auth) SignOrder(order *types.Order, inst types.Instrument) error {
	if len(order.Legs) != 1 {
		return fmt.Errorf("sign order: expected 1 leg, got %d", len(order.Legs))
	}
	leg := order.Legs[0]

	assetID, err := parseAssetID(inst.InstrumentHash)
	if err != nil {
		return fmt.Errorf("sign order: %w", err)
	}
	size, err := decimal.NewFromString(leg.Size)
	if err != nil {
		return fmt.Errorf("sign order: parse size: %w", err)
	}
	price, err := decimal.NewFromString(leg.LimitPrice)
	if err != nil {
		return fmt.Errorf("sign order: parse price: %w", err)
	}
	tif, ok := timeInForceCode[order.TimeInForce]
	if !ok {
		return fmt.Errorf("sign order: unsupported time in force %q", order.TimeInForce)
	}

	contractSize := size.Mul(decimal.New(1, int32(inst.BaseDecimals))).BigInt()
	limitPrice := price.Mul(decimal.New(1, priceDecimals)).BigInt()

	nonce := signNonce()
	expiration := time.Now().Add(signatureTTL).UnixNano()

	message := apitypes.TypedDataMessage{
		"subAccountID": order.SubAccountID,
		"isMarket":     order.IsMarket,
		"timeInForce":  tif,
		"postOnly":     order.PostOnly,
		"reduceOnly":   order.ReduceOnly,
		"legs": []interface{}{
			map[string]interface{}{
				"assetID":          assetID.String(),
				"contractSize":     contractSize.String(),
				"limitPrice":       limitPrice.String(),
				"isBuyingContract": leg.IsBuyingAsset,
			},
		},
		"nonce":      strconv.FormatUint(uint64(nonce), 10),
		"expiration": strconv.FormatInt(expiration, 10),
	}

	sig, err := a.signTypedData(orderTypes, "Order", message)
	if err != nil {
		return fmt.Errorf("sign order: %w", err)
	}

	order.Signature = types.OrderSignature{
		Signer:     a.address.Hex(),
		R:          "0x" + common.Bytes2Hex(sig[:32]),
		S:          "0x" + common.Bytes2Hex(sig[32:64]),
		V:          int(sig[64]),
		Expiration: strconv.FormatInt(expiration, 10),
		Nonce:      nonce,
	}
	return nil
}

// SignTransfer fills in the transfer's EIP-712 signature. Account ids are
// addresses, sub-account ids decimal integers ("0" = the funding side),
// and the token amount is scaled to the currency's six decimals.
func (a *Auth) SignTransfer(req *types.TransferRequest) error {
	amount, err := decimal.NewFromString(req.NumTokens)
	if err != nil {
		return fmt.Errorf("sign transfer: parse amount: %w", err)
	}
	currency, ok := currencyCode[req.Currency]
	if !ok {
		return fmt.Errorf("sign transfer: unsupported currency %q", req.Currency)
	}

	numTokens := amount.Mul(decimal.New(1, 6)).BigInt()
	nonce := signNonce()
	expiration := time.Now().Add(signatureTTL).UnixNano()

	message := apitypes.TypedDataMessage{
		"fromAccount":    req.FromAccountID,
		"fromSubAccount": req.FromSubAccountID,
		"toAccount":      req.ToAccountID,
		"toSubAccount":   req.ToSubAccountID,
		"tokenCurrency":  currency,
		"numTokens":      numTokens.String(),
		"nonce":          strconv.FormatUint(uint64(nonce), 10),
		"expiration":     strconv.FormatInt(expiration, 10),
	}

	sig, err := a.signTypedData(transferTypes, "Transfer", message)
	if err != nil {
		return fmt.Errorf("sign transfer: %w", err)
	}

	req.Signature = types.TransferSignature{
		Signer:     a.address.Hex(),
		R:          "0x" + common.Bytes2Hex(sig[:32]),
		S:          "0x" + common.Bytes2Hex(sig[32:64]),
		V:          int(sig[64]),
		Expiration: strconv.FormatInt(expiration, 10),
		Nonce:      nonce,
	}
	return nil
}

// signTypedData hashes the typed data under the venue's exchange domain
// and signs it, adjusting the recovery byte to 27/28.
func (a *Auth) signTypedData(typesDef apitypes.Types, primaryType string, message apitypes.TypedDataMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    "GRVT Exchange",
			Version: "0",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		Message: message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	"Order": {
		{Name: "subAccountID", Type: "uint64"},
		{Name: "isMarket", Type: "bool"},
		{Name: "timeInForce", Type: "uint8"},
		{Name: "postOnly", Type: "bool"},
		{Name: "reduceOnly", Type: "bool"},
		{Name: "legs", Type: "OrderLeg[]"},
		{Name: "nonce", Type: "uint32"},
		{Name: "expiration", Type: "int64"},
	},
	"OrderLeg": {
		{Name: "assetID", Type: "uint256"},
		{Name: "contractSize", Type: "uint64"},
		{Name: "limitPrice", Type: "uint64"},
		{Name: "isBuyingContract", Type: "bool"},
	},
}

var transferTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	"Transfer": {
		{Name: "fromAccount", Type: "address"},
		{Name: "fromSubAccount", Type: "uint64"},
		{Name: "toAccount", Type: "address"},
		{Name: "toSubAccount", Type: "uint64"},
		{Name: "tokenCurrency", Type: "uint8"},
		{Name: "numTokens", Type: "uint64"},
		{Name: "nonce", Type: "uint32"},
		{Name: "expiration", Type: "int64"},
	},
}

// parseAssetID decodes the instrument hash (0x-hex or decimal) into the
// uint256 asset id used in the signing payload.
func parseAssetID(hash string) (*big.Int, error) {
	if hash == "" {
		return nil, fmt.Errorf("empty instrument hash")
	}
	id := new(big.Int)
	if len(hash) >= 2 && (hash[:2] == "0x" || hash[:2] == "0X") {
		if _, ok := id.SetString(hash[2:], 16); !ok {
			return nil, fmt.Errorf("invalid instrument hash %q", hash)
		}
		return id, nil
	}
	if _, ok := id.SetString(hash, 10); !ok {
		return nil, fmt.Errorf("invalid instrument hash %q", hash)
	}
	return id, nil
}

// signNonce returns a positive 31-bit nonce, matching the venue's accepted
// range.
func signNonce() uint32 {
	return uint32(rand.Int32N(1<<31-1)) + 1
}
