package domain

import "time"

// PredictionStatus represents the lifecycle state of a prediction.
type PredictionStatus string

const (
	PredictionStatusOpen     PredictionStatus = "open"
	PredictionStatusLocked   PredictionStatus = "locked"
	PredictionStatusSettling PredictionStatus = "settling"
	PredictionStatusSettled  PredictionStatus = "settled"
	PredictionStatusRefunded PredictionStatus = "refunded"
	PredictionStatusVoid     PredictionStatus = "void"
)

// Prediction is a pari-mutuel prediction pool. Stakes accumulate per outcome
// while the prediction is open; at settlement the losing outcomes' pools fund
// the winning outcome's payouts, minus the platform fee.
type Prediction struct {
	ID              string
	CreatorUsername string
	Title           string
	SportCategory   string
	MatchReference  string

	Status    PredictionStatus
	LocksAt   time.Time
	CreatedAt time.Time
	SettledAt *time.Time
	SettledBy string

	// TotalPool equals the sum of all outcome pools until settlement.
	TotalPool        float64
	PlatformCut      float64
	BurnedAmount     float64
	RewardPoolAmount float64

	WinningOutcomeID string
	IsVoid           bool
	VoidReason       string
}

// Outcome is one of a prediction's possible results.
type Outcome struct {
	ID           string
	PredictionID string
	Label        string
	TotalStaked  float64
	// BackerCount is the number of distinct usernames staking on this outcome.
	BackerCount int
	IsWinner    bool
}

// AcceptsStakes reports whether the prediction can still take new stakes at
// the given instant.
func (p *Prediction) AcceptsStakes(now time.Time) bool {
	return p.Status == PredictionStatusOpen && now.Before(p.LocksAt)
}
