// Package serialize projects prediction aggregates into the client-facing
// view model. It is read-path only: everything here is computed from already
// persisted state, with live odds layered on top.
package serialize

import (
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/odds"
)

// Options controls view construction. The zero value gives the default
// rendering: stakers included, anonymous viewer.
type Options struct {
	// Viewer is the requesting username; empty means anonymous.
	Viewer string
	// ExcludeStakers drops the per-outcome staker lists. Included by default.
	ExcludeStakers bool
	// FeePct overrides the platform fee used for display odds; zero means
	// the default fee.
	FeePct float64
}

// StakerView is one distinct user's aggregated position on an outcome.
// Multiple stake records by the same user on the same outcome are summed.
type StakerView struct {
	Username string  `json:"username"`
	Amount   float64 `json:"amount"`
}

// OutcomeView is an outcome with its display odds.
type OutcomeView struct {
	ID          string       `json:"id"`
	Label       string       `json:"label"`
	TotalStaked float64      `json:"totalStaked"`
	BackerCount int          `json:"backerCount"`
	IsWinner    bool         `json:"isWinner"`
	Odds        odds.Result  `json:"odds"`
	Stakers     []StakerView `json:"stakers,omitempty"`
}

// UserStakeView is one of the viewer's own stake records.
type UserStakeView struct {
	OutcomeID string   `json:"outcomeId"`
	Amount    float64  `json:"amount"`
	Payout    *float64 `json:"payout,omitempty"`
	Refunded  bool     `json:"refunded,omitempty"`
}

// SettlementView summarizes a completed settlement. Present only once a
// platform cut has actually been recorded.
type SettlementView struct {
	WinningOutcomeID string     `json:"winningOutcomeId"`
	PlatformCut      float64    `json:"platformCut"`
	BurnedAmount     float64    `json:"burnedAmount"`
	RewardPoolAmount float64    `json:"rewardPoolAmount"`
	SettledAt        *time.Time `json:"settledAt,omitempty"`
	SettledBy        string     `json:"settledBy,omitempty"`
}

// PredictionView is the full client-facing projection of a prediction.
type PredictionView struct {
	ID              string                  `json:"id"`
	CreatorUsername string                  `json:"creatorUsername"`
	Title           string                  `json:"title"`
	SportCategory   string                  `json:"sportCategory"`
	MatchReference  string                  `json:"matchReference,omitempty"`
	Status          domain.PredictionStatus `json:"status"`
	LocksAt         time.Time               `json:"locksAt"`
	CreatedAt       time.Time               `json:"createdAt"`
	TotalPool       float64                 `json:"totalPool"`
	IsVoid          bool                    `json:"isVoid,omitempty"`
	VoidReason      string                  `json:"voidReason,omitempty"`

	Outcomes []OutcomeView `json:"outcomes"`

	// UserStakes holds the viewer's own stakes. Omitted entirely, not
	// rendered as an empty array, when the viewer has none.
	UserStakes []UserStakeView `json:"userStakes,omitempty"`

	// CanModify is true only for the creator of an open prediction nobody
	// else has staked on yet.
	CanModify bool `json:"canModify"`

	Settlement *SettlementView `json:"settlement,omitempty"`
}

// BuildView composes the prediction, its outcomes, and its stakes into a
// PredictionView for the given viewer.
func BuildView(p domain.Prediction, outcomes []domain.Outcome, stakes []domain.Stake, opts Options) PredictionView {
	feePct := opts.FeePct
	if feePct == 0 {
		feePct = odds.DefaultFeePct
	}

	view := PredictionView{
		ID:              p.ID,
		CreatorUsername: p.CreatorUsername,
		Title:           p.Title,
		SportCategory:   p.SportCategory,
		MatchReference:  p.MatchReference,
		Status:          p.Status,
		LocksAt:         p.LocksAt,
		CreatedAt:       p.CreatedAt,
		TotalPool:       p.TotalPool,
		IsVoid:          p.IsVoid,
		VoidReason:      p.VoidReason,
		Outcomes:        make([]OutcomeView, 0, len(outcomes)),
	}

	for _, o := range outcomes {
		ov := OutcomeView{
			ID:          o.ID,
			Label:       o.Label,
			TotalStaked: o.TotalStaked,
			BackerCount: o.BackerCount,
			IsWinner:    o.IsWinner,
			Odds:        odds.Calculate(p.TotalPool, o.TotalStaked, feePct),
		}
		if !opts.ExcludeStakers {
			ov.Stakers = aggregateStakers(stakes, o.ID)
		}
		view.Outcomes = append(view.Outcomes, ov)
	}

	view.UserStakes = viewerStakes(stakes, opts.Viewer)
	view.CanModify = canModify(p, stakes, opts.Viewer)

	if p.PlatformCut > 0 {
		view.Settlement = &SettlementView{
			WinningOutcomeID: p.WinningOutcomeID,
			PlatformCut:      p.PlatformCut,
			BurnedAmount:     p.BurnedAmount,
			RewardPoolAmount: p.RewardPoolAmount,
			SettledAt:        p.SettledAt,
			SettledBy:        p.SettledBy,
		}
	}

	return view
}

// aggregateStakers sums stake records per distinct username for one outcome,
// preserving first-seen order.
func aggregateStakers(stakes []domain.Stake, outcomeID string) []StakerView {
	totals := make(map[string]int)
	var out []StakerView

	for _, s := range stakes {
		if s.OutcomeID != outcomeID {
			continue
		}
		if idx, ok := totals[s.Username]; ok {
			out[idx].Amount += s.Amount
			continue
		}
		totals[s.Username] = len(out)
		out = append(out, StakerView{Username: s.Username, Amount: s.Amount})
	}
	return out
}

// viewerStakes returns the viewer's stake records, or nil when the viewer is
// anonymous or has none.
func viewerStakes(stakes []domain.Stake, viewer string) []UserStakeView {
	if viewer == "" {
		return nil
	}

	var out []UserStakeView
	for _, s := range stakes {
		if s.Username != viewer {
			continue
		}
		out = append(out, UserStakeView{
			OutcomeID: s.OutcomeID,
			Amount:    s.Amount,
			Payout:    s.Payout,
			Refunded:  s.Refunded,
		})
	}
	return out
}

func canModify(p domain.Prediction, stakes []domain.Stake, viewer string) bool {
	if viewer == "" || viewer != p.CreatorUsername {
		return false
	}
	if p.Status != domain.PredictionStatusOpen {
		return false
	}
	for _, s := range stakes {
		if s.Username != p.CreatorUsername {
			return false
		}
	}
	return true
}
