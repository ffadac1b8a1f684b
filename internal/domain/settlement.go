package domain

// PayoutLine is one winning stake's share of a settlement. StakeID ties the
// line back to the stake record it settles; a user holding several winning
// stakes gets one line per record.
type PayoutLine struct {
	StakeID      string
	Username     string
	PayoutAmount float64
}

// SettlementResult is the full financial outcome of settling a prediction.
// It is computed, not stored verbatim; its fields populate the prediction and
// stake mutations applied by the persistence layer.
type SettlementResult struct {
	WinningOutcomeID string
	TotalPool        float64
	WinningPool      float64
	PlatformFee      float64
	BurnAmount       float64
	RewardAmount     float64
	TotalPaid        float64
	// Payouts is ordered by stake iteration order. The conservation
	// invariant holds exactly: TotalPaid + PlatformFee == TotalPool.
	Payouts []PayoutLine
}

// Refund is one user's returned stake when a prediction is voided.
type Refund struct {
	Username string
	Amount   float64
}
