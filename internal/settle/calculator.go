// Package settle computes pari-mutuel settlements. The calculator is pure
// and idempotent: it can be invoked speculatively during a settlement race
// and its result discarded; only the caller that wins the status
// compare-and-swap applies the output.
package settle

import (
	"math"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/odds"
)

// Precision is the token's display precision in decimal places. All
// settlement math rounds to this precision, carried internally as integer
// milli-token units so the conservation invariant holds exactly.
const Precision = 3

const milliScale = 1000 // 10^Precision

// Params holds the fee parameters for a settlement.
type Params struct {
	FeePct      float64
	BurnSplit   float64
	RewardSplit float64
}

// DefaultParams returns the platform's standard fee split: 10% fee, divided
// evenly between the burn account and the reward pool.
func DefaultParams() Params {
	return Params{FeePct: odds.DefaultFeePct, BurnSplit: 0.5, RewardSplit: 0.5}
}

// Stake is a settlement input. Amount accepts a plain numeric value or a
// decimal wrapper exposing a Float64 conversion; anything else coerces to
// zero rather than failing, so malformed rows degrade instead of aborting a
// settlement run.
type Stake struct {
	ID        string
	Username  string
	OutcomeID string
	Amount    any
}

// Calculate computes the full settlement for a prediction: it partitions
// stakes by the winning outcome, computes each winner's proportional payout,
// and applies an exact-conservation rounding correction so that
// TotalPaid + PlatformFee equals TotalPool to the token's precision.
//
// When no stake backs the winning outcome, Payouts is empty and TotalPaid
// zero while the platform fee is still taken from the pool; the house keeps
// the fee even with no winners.
func Calculate(stakes []Stake, winningOutcomeID string, totalPool any, params Params) domain.SettlementResult {
	pool := Coerce(totalPool)
	if pool < 0 {
		pool = 0
	}

	res := domain.SettlementResult{
		WinningOutcomeID: winningOutcomeID,
		TotalPool:        pool,
	}

	var winning []Stake
	winningPool := 0.0
	for _, s := range stakes {
		if s.OutcomeID != winningOutcomeID {
			continue
		}
		winning = append(winning, s)
		winningPool += Coerce(s.Amount)
	}
	res.WinningPool = winningPool

	poolM := toMilli(pool)
	feeM := toMilli(pool * params.FeePct)
	burnM := toMilli(pool * params.FeePct * params.BurnSplit)
	rewardM := feeM - burnM // splits always sum exactly to the fee

	res.PlatformFee = fromMilli(feeM)
	res.BurnAmount = fromMilli(burnM)
	res.RewardAmount = fromMilli(rewardM)

	if winningPool <= 0 {
		return res
	}

	// Per-stake payouts, rounded independently to the token precision.
	payoutsM := make([]int64, len(winning))
	var paidM int64
	for i, s := range winning {
		p := odds.Payout(Coerce(s.Amount), pool, winningPool, params.FeePct)
		payoutsM[i] = toMilli(p)
		paidM += payoutsM[i]
	}

	// Exact-conservation correction: independent rounding leaks or
	// overcharges fractions of a token, so the remainder against the
	// distributable pool lands on the single largest payout. Ties break to
	// the first encountered in iteration order.
	remainderM := (poolM - feeM) - paidM
	if remainderM != 0 {
		largest := 0
		for i := 1; i < len(payoutsM); i++ {
			if payoutsM[i] > payoutsM[largest] {
				largest = i
			}
		}
		payoutsM[largest] += remainderM
		paidM += remainderM
	}

	res.Payouts = make([]domain.PayoutLine, len(winning))
	for i, s := range winning {
		res.Payouts[i] = domain.PayoutLine{
			StakeID:      s.ID,
			Username:     s.Username,
			PayoutAmount: fromMilli(payoutsM[i]),
		}
	}
	res.TotalPaid = fromMilli(paidM)

	return res
}

// Refunds aggregates stakes into one refund per username, preserving
// first-seen order. Used on the void path, where every stake is returned
// and no fee is taken.
func Refunds(stakes []domain.Stake) []domain.Refund {
	totals := make(map[string]int64)
	var order []string
	for _, s := range stakes {
		if _, seen := totals[s.Username]; !seen {
			order = append(order, s.Username)
		}
		totals[s.Username] += toMilli(s.Amount)
	}

	refunds := make([]domain.Refund, len(order))
	for i, u := range order {
		refunds[i] = domain.Refund{Username: u, Amount: fromMilli(totals[u])}
	}
	return refunds
}

// Coerce normalizes a settlement amount to float64. It accepts plain
// numeric values and decimal wrappers exposing Float64() (with or without
// an error return); anything else coerces to zero.
func Coerce(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case interface{ Float64() float64 }:
		return n.Float64()
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toMilli(v float64) int64 {
	return int64(math.Round(v * milliScale))
}

func fromMilli(m int64) float64 {
	return float64(m) / milliScale
}
