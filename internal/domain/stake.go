package domain

import "time"

// Stake is a single user position on an outcome. A user may hold several
// stake records on the same outcome; they are aggregated for display but
// never merged in storage.
type Stake struct {
	ID           string
	PredictionID string
	OutcomeID    string
	Username     string
	Amount       float64
	// TxID is the ledger transaction that carried the escrow transfer.
	// Unique across all stakes: a transaction funds exactly one stake.
	TxID string
	// Payout is nil until the prediction settles; 0 for losing stakes.
	Payout    *float64
	Refunded  bool
	CreatedAt time.Time
}

// StakeTokenPayload is the claim set carried by a signed stake token. It is
// ephemeral: it exists only as a bearer string between issuance and
// verification and is never persisted.
type StakeTokenPayload struct {
	PredictionID string  `json:"predictionId"`
	Username     string  `json:"username"`
	OutcomeID    string  `json:"outcomeId"`
	Amount       float64 `json:"amount"`
}
