package escrow

import (
	"fmt"
	"strings"
)

// Memo prefixes are the wire-exact correlation keys carried on every
// escrow-related transfer. They must never change: the transaction verifier
// and external block explorers both key on them.
const (
	memoStakePrefix     = "prediction-stake"
	memoPayoutPrefix    = "prediction-payout"
	memoFeeBurnPrefix   = "prediction-fee-burn"
	memoFeeRewardPrefix = "prediction-fee-reward"
	memoRefundPrefix    = "prediction-refund"

	memoSep = "|"
)

// StakeMemo returns the canonical memo for a stake-in transfer:
// "prediction-stake|<predictionID>|<outcomeID>".
func StakeMemo(predictionID, outcomeID string) string {
	return strings.Join([]string{memoStakePrefix, predictionID, outcomeID}, memoSep)
}

// PayoutMemo returns "prediction-payout|<predictionID>".
func PayoutMemo(predictionID string) string {
	return fmt.Sprintf("%s%s%s", memoPayoutPrefix, memoSep, predictionID)
}

// FeeBurnMemo returns "prediction-fee-burn|<predictionID>".
func FeeBurnMemo(predictionID string) string {
	return fmt.Sprintf("%s%s%s", memoFeeBurnPrefix, memoSep, predictionID)
}

// FeeRewardMemo returns "prediction-fee-reward|<predictionID>".
func FeeRewardMemo(predictionID string) string {
	return fmt.Sprintf("%s%s%s", memoFeeRewardPrefix, memoSep, predictionID)
}

// RefundMemo returns "prediction-refund|<predictionID>".
func RefundMemo(predictionID string) string {
	return fmt.Sprintf("%s%s%s", memoRefundPrefix, memoSep, predictionID)
}
