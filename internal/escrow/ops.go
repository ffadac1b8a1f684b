// Package escrow guards the movement of funds between user wallets and the
// platform's custodial escrow account: it builds the outbound transfer
// operations for stakes, payouts, fee splits, and refunds, and verifies that
// claimed stake transactions actually landed on the ledger. Builders are
// pure construction; broadcasting belongs to the ledger bridge.
package escrow

import (
	"fmt"
	"math"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/settle"
)

// Accounts names the three platform-controlled ledger accounts.
type Accounts struct {
	Escrow     string
	Burn       string
	RewardPool string
}

// Builder constructs transfer operations for a single token. All
// escrow-originated operations (payout, fee, refund) are signed by the
// escrow account; only the stake-in operation is signed by the staking user.
type Builder struct {
	accounts    Accounts
	symbol      string
	precision   int
	burnSplit   float64
	rewardSplit float64
}

// NewBuilder creates a Builder for the given accounts and token. splits are
// the burn/reward fractions of the platform fee and must sum to 1.
func NewBuilder(accounts Accounts, symbol string, precision int, burnSplit, rewardSplit float64) *Builder {
	return &Builder{
		accounts:    accounts,
		symbol:      symbol,
		precision:   precision,
		burnSplit:   burnSplit,
		rewardSplit: rewardSplit,
	}
}

// StakeOp builds the user-signed transfer that moves a stake into escrow.
func (b *Builder) StakeOp(username string, amount any, predictionID, outcomeID string) domain.TransferOp {
	return domain.TransferOp{
		Signer:   username,
		To:       b.accounts.Escrow,
		Symbol:   b.symbol,
		Quantity: b.FormatQuantity(settle.Coerce(amount)),
		Memo:     StakeMemo(predictionID, outcomeID),
	}
}

// PayoutOps builds one escrow-signed transfer per winning payout line.
// Amounts pass through the same numeric coercion as the settlement
// calculator, so decimal wrappers from storage work unchanged.
func (b *Builder) PayoutOps(predictionID string, payouts []domain.PayoutLine) []domain.TransferOp {
	ops := make([]domain.TransferOp, 0, len(payouts))
	for _, p := range payouts {
		ops = append(ops, domain.TransferOp{
			Signer:   b.accounts.Escrow,
			To:       p.Username,
			Symbol:   b.symbol,
			Quantity: b.FormatQuantity(p.PayoutAmount),
			Memo:     PayoutMemo(predictionID),
		})
	}
	return ops
}

// FeeOps splits the platform fee into a burn transfer and a reward-pool
// transfer. Both are nil when feeAmount is not positive. The two quantities
// always sum exactly to the fee: the reward side takes the complement of
// the rounded burn side.
func (b *Builder) FeeOps(feeAmount any, predictionID string) (burn, reward *domain.TransferOp) {
	fee := settle.Coerce(feeAmount)
	if fee <= 0 {
		return nil, nil
	}

	burnAmt := roundTo(fee*b.burnSplit, b.precision)
	rewardAmt := roundTo(fee, b.precision) - burnAmt

	burn = &domain.TransferOp{
		Signer:   b.accounts.Escrow,
		To:       b.accounts.Burn,
		Symbol:   b.symbol,
		Quantity: b.FormatQuantity(burnAmt),
		Memo:     FeeBurnMemo(predictionID),
	}
	reward = &domain.TransferOp{
		Signer:   b.accounts.Escrow,
		To:       b.accounts.RewardPool,
		Symbol:   b.symbol,
		Quantity: b.FormatQuantity(rewardAmt),
		Memo:     FeeRewardMemo(predictionID),
	}
	return burn, reward
}

// RefundOps builds one escrow-signed transfer per refund. Used only when a
// prediction is voided; no fee is taken on the refund path.
func (b *Builder) RefundOps(predictionID string, refunds []domain.Refund) []domain.TransferOp {
	ops := make([]domain.TransferOp, 0, len(refunds))
	for _, r := range refunds {
		ops = append(ops, domain.TransferOp{
			Signer:   b.accounts.Escrow,
			To:       r.Username,
			Symbol:   b.symbol,
			Quantity: b.FormatQuantity(r.Amount),
			Memo:     RefundMemo(predictionID),
		})
	}
	return ops
}

// FormatQuantity renders an amount with the token's fixed decimal precision,
// the only formatting the ledger accepts.
func (b *Builder) FormatQuantity(v float64) string {
	return fmt.Sprintf("%.*f", b.precision, v)
}

func roundTo(v float64, precision int) float64 {
	scale := 1.0
	for i := 0; i < precision; i++ {
		scale *= 10
	}
	return math.Round(v*scale) / scale
}
