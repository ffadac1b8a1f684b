// Package odds provides pure pari-mutuel odds and payout math. Every
// function is stateless and safe for concurrent use.
package odds

// DefaultFeePct is the platform's cut of the total pool, taken before
// payouts are distributed.
const DefaultFeePct = 0.10

// Result holds the display odds for a single outcome.
type Result struct {
	// Multiplier is the gross return per unit staked on this outcome if it
	// wins, net of the platform fee.
	Multiplier float64 `json:"multiplier"`
	// Percentage is the outcome's share of the total pool, 0-100.
	Percentage float64 `json:"percentage"`
	// ImpliedProbability is Percentage/100.
	ImpliedProbability float64 `json:"impliedProbability"`
}

// Calculate returns the pari-mutuel odds for an outcome holding outcomePool
// out of totalPool. Non-positive pools yield the zero Result rather than
// dividing by zero or producing negative odds.
func Calculate(totalPool, outcomePool, feePct float64) Result {
	if totalPool <= 0 || outcomePool <= 0 {
		return Result{}
	}

	return Result{
		Multiplier:         totalPool * (1 - feePct) / outcomePool,
		Percentage:         outcomePool / totalPool * 100,
		ImpliedProbability: outcomePool / totalPool,
	}
}

// Payout returns the proportional share of the fee-adjusted pool owed to a
// stake of stakeAmount on the winning outcome. A non-positive winningPool
// returns 0, guarding against settling with no winning stakes.
func Payout(stakeAmount, totalPool, winningPool, feePct float64) float64 {
	if winningPool <= 0 {
		return 0
	}
	return stakeAmount / winningPool * totalPool * (1 - feePct)
}
