package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/exchange"
	"grvt-hedge/pkg/types"
)

const (
	// Transfers that bounce off the venue's rate limiter are retried a
	// couple of times with growing backoff. Anything else fails fast.
	transferRetries     = 2
	retryInitialBackoff = 1500 * time.Millisecond

	// The internal leg needs a moment to settle before the funds are
	// visible to the external transfer.
	stepSettleWait = 3 * time.Second

	currencyUSDT = "USDT"
)

// fundingSubID is the sub-account id the venue assigns to the funding
// side of every main account.
const fundingSubID = "0"

func tradingToFunding(mainID, tradingID string, amount decimal.Decimal) types.TransferRequest {
	return types.TransferRequest{
		FromAccountID:    mainID,
		FromSubAccountID: tradingID,
		ToAccountID:      mainID,
		ToSubAccountID:   fundingSubID,
		Currency:         currencyUSDT,
		NumTokens:        amount.String(),
		TransferType:     "STANDARD",
	}
}

func fundingToTrading(mainID, tradingID string, amount decimal.Decimal) types.TransferRequest {
	return types.TransferRequest{
		FromAccountID:    mainID,
		FromSubAccountID: fundingSubID,
		ToAccountID:      mainID,
		ToSubAccountID:   tradingID,
		Currency:         currencyUSDT,
		NumTokens:        amount.String(),
		TransferType:     "STANDARD",
	}
}

func fundingToFunding(fromAddress, toMainID string, amount decimal.Decimal) types.TransferRequest {
	return types.TransferRequest{
		FromAccountID:    fromAddress,
		FromSubAccountID: fundingSubID,
		ToAccountID:      toMainID,
		ToSubAccountID:   fundingSubID,
		Currency:         currencyUSDT,
		NumTokens:        amount.String(),
		TransferType:     "STANDARD",
	}
}

// safeTransferAmount caps a wanted transfer at what the donor can part
// with: its available balance, and its equity less twice the
// maintenance margin so the move cannot push it toward liquidation.
// An account with no open positions may donate up to its full equity.
func safeTransferAmount(equity, available, maintenance, wanted decimal.Decimal) decimal.Decimal {
	headroom := equity
	if maintenance.Sign() > 0 {
		headroom = equity.Sub(maintenance.Mul(decimal.NewFromInt(2)))
	}
	amount := decimal.Min(wanted, available, headroom)
	if amount.Sign() < 0 {
		return decimal.Zero
	}
	return amount
}

// transferWithRetry submits one transfer, retrying only throttled
// replies (venue code 1006, HTTP 429).
func (p *Poller) transferWithRetry(ctx context.Context, venue Venue, account types.AccountLabel, req types.TransferRequest) error {
	backoff := p.retryBackoff
	for attempt := 0; ; attempt++ {
		err := venue.Transfer(ctx, req)
		if err == nil {
			return nil
		}
		if attempt >= transferRetries || !exchange.IsKind(err, exchange.KindRateLimited) {
			return err
		}
		p.logger.WithError(err).WithFields(logrus.Fields{
			"account": account,
			"attempt": attempt + 1,
			"backoff": backoff.String(),
		}).Warn("transfer throttled, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = backoff * 3 / 2
	}
}

// moveFunds shifts amount from one trading account to the other.
// Trading keys cannot transfer between main accounts directly, so the
// route is always three legs:
//
//	1. donor trading   -> donor funding    (donor trading key)
//	2. donor funding   -> laggard funding  (donor funding key, external)
//	3. laggard funding -> laggard trading  (laggard funding key)
//
// When the external leg fails the funds are rolled back to the donor's
// trading account. When the last leg fails they stay parked in the
// laggard's funding account, where the next sweep recovers them.
func (p *Poller) moveFunds(ctx context.Context, from, to *Leg, fromMain, toMain string, amount decimal.Decimal) error {
	if from.Funding == nil || to.Funding == nil {
		return fmt.Errorf("both sides need funding accounts configured")
	}
	if fromMain == "" || toMain == "" {
		return fmt.Errorf("main account ids unknown (from=%q to=%q)", fromMain, toMain)
	}
	if !common.IsHexAddress(from.Address) {
		return fmt.Errorf("account %s has no funding address", from.Name)
	}

	steps := logrus.Fields{
		"from":   from.Name,
		"to":     to.Name,
		"amount": amount.StringFixed(2),
	}

	p.logger.WithFields(steps).WithField("step", "1/3").Info("moving trading balance to funding")
	if err := p.transferWithRetry(ctx, from.Trading, from.Name, tradingToFunding(fromMain, from.TradingID, amount)); err != nil {
		return fmt.Errorf("trading to funding on %s: %w", from.Name, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.stepWait):
	}

	p.logger.WithFields(steps).WithField("step", "2/3").Info("moving funds across main accounts")
	if err := p.transferWithRetry(ctx, from.Funding, from.Name, fundingToFunding(from.Address, toMain, amount)); err != nil {
		p.logger.WithError(err).WithField("account", from.Name).Warn("external leg failed, rolling funds back to trading")
		if rbErr := p.transferWithRetry(ctx, from.Funding, from.Name, fundingToTrading(fromMain, from.TradingID, amount)); rbErr != nil {
			p.logger.WithError(rbErr).WithField("account", from.Name).Error("rollback failed, funds remain in the funding account")
		}
		return fmt.Errorf("funding to funding from %s: %w", from.Name, err)
	}

	p.logger.WithFields(steps).WithField("step", "3/3").Info("moving funding balance to trading")
	if err := p.transferWithRetry(ctx, to.Funding, to.Name, fundingToTrading(toMain, to.TradingID, amount)); err != nil {
		p.logger.WithError(err).WithField("account", to.Name).Warn("funds parked in the funding account, the next sweep recovers them")
		return fmt.Errorf("funding to trading on %s: %w", to.Name, err)
	}

	p.logger.WithFields(steps).Info("transfer route completed")
	return nil
}
