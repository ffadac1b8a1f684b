package odds_test

import (
	"math"
	"testing"

	"github.com/hivepredict/hivepredict/internal/odds"
)

func TestCalculateZeroGuards(t *testing.T) {
	tests := []struct {
		name        string
		totalPool   float64
		outcomePool float64
	}{
		{"zero total pool", 0, 50},
		{"zero outcome pool", 100, 0},
		{"both zero", 0, 0},
		{"negative total pool", -10, 5},
		{"negative outcome pool", 100, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := odds.Calculate(tt.totalPool, tt.outcomePool, odds.DefaultFeePct)
			if got != (odds.Result{}) {
				t.Errorf("Calculate(%v, %v) = %+v, want zero result", tt.totalPool, tt.outcomePool, got)
			}
			if math.IsNaN(got.Multiplier) || math.IsInf(got.Multiplier, 0) {
				t.Errorf("multiplier is NaN/Inf: %v", got.Multiplier)
			}
		})
	}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name           string
		totalPool      float64
		outcomePool    float64
		wantMultiplier float64
		wantPercentage float64
	}{
		{"even two-way pool", 100, 50, 1.8, 50},
		{"longshot outcome", 100, 10, 9.0, 10},
		{"heavy favorite", 100, 90, 1.0, 90},
		{"whole pool on one side", 100, 100, 0.9, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := odds.Calculate(tt.totalPool, tt.outcomePool, odds.DefaultFeePct)

			if math.Abs(got.Multiplier-tt.wantMultiplier) > 1e-9 {
				t.Errorf("multiplier = %v, want %v", got.Multiplier, tt.wantMultiplier)
			}
			if math.Abs(got.Percentage-tt.wantPercentage) > 1e-9 {
				t.Errorf("percentage = %v, want %v", got.Percentage, tt.wantPercentage)
			}
			if got.ImpliedProbability < 0 || got.ImpliedProbability > 1 {
				t.Errorf("implied probability %v out of [0,1]", got.ImpliedProbability)
			}
			if got.Percentage < 0 || got.Percentage > 100 {
				t.Errorf("percentage %v out of [0,100]", got.Percentage)
			}
		})
	}
}

func TestPayout(t *testing.T) {
	tests := []struct {
		name        string
		stake       float64
		totalPool   float64
		winningPool float64
		want        float64
	}{
		{"proportional share", 30, 100, 50, 54},
		{"smaller share", 20, 100, 50, 36},
		{"sole winner", 50, 100, 50, 90},
		{"no winning pool", 30, 100, 0, 0},
		{"negative winning pool", 30, 100, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := odds.Payout(tt.stake, tt.totalPool, tt.winningPool, odds.DefaultFeePct)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Payout(%v, %v, %v) = %v, want %v", tt.stake, tt.totalPool, tt.winningPool, got, tt.want)
			}
		})
	}
}
