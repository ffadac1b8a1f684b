package escrow_test

import (
	"strconv"
	"testing"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/escrow"
)

var testAccounts = escrow.Accounts{
	Escrow:     "predict.escrow",
	Burn:       "null",
	RewardPool: "predict.rewards",
}

func newBuilder() *escrow.Builder {
	return escrow.NewBuilder(testAccounts, "BETS", 3, 0.5, 0.5)
}

type fakeDecimal struct{ v float64 }

func (d fakeDecimal) Float64() float64 { return d.v }

func TestStakeOp(t *testing.T) {
	op := newBuilder().StakeOp("alice", 25.5, "pred-1", "out-a")

	want := domain.TransferOp{
		Signer:   "alice",
		To:       "predict.escrow",
		Symbol:   "BETS",
		Quantity: "25.500",
		Memo:     "prediction-stake|pred-1|out-a",
	}
	if op != want {
		t.Errorf("StakeOp = %+v, want %+v", op, want)
	}
}

func TestPayoutOps(t *testing.T) {
	ops := newBuilder().PayoutOps("pred-1", []domain.PayoutLine{
		{Username: "alice", PayoutAmount: 54},
		{Username: "bob", PayoutAmount: 36},
	})

	if len(ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(ops))
	}
	for i, op := range ops {
		if op.Signer != "predict.escrow" {
			t.Errorf("op %d signed by %q, want escrow", i, op.Signer)
		}
		if op.Memo != "prediction-payout|pred-1" {
			t.Errorf("op %d memo = %q", i, op.Memo)
		}
	}
	if ops[0].To != "alice" || ops[0].Quantity != "54.000" {
		t.Errorf("alice op = %+v", ops[0])
	}
	if ops[1].To != "bob" || ops[1].Quantity != "36.000" {
		t.Errorf("bob op = %+v", ops[1])
	}
}

func TestFeeOpsZeroFee(t *testing.T) {
	for _, fee := range []float64{0, -1} {
		burn, reward := newBuilder().FeeOps(fee, "pred-1")
		if burn != nil || reward != nil {
			t.Errorf("FeeOps(%v) = (%v, %v), want (nil, nil)", fee, burn, reward)
		}
	}
}

func TestFeeOpsSplit(t *testing.T) {
	tests := []struct {
		name       string
		fee        any
		wantBurn   string
		wantReward string
	}{
		{"even split", 100.0, "50.000", "50.000"},
		{"odd milli remainder lands on reward", 0.001, "0.001", "0.000"},
		{"decimal wrapper", fakeDecimal{10}, "5.000", "5.000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			burn, reward := newBuilder().FeeOps(tt.fee, "pred-1")
			if burn == nil || reward == nil {
				t.Fatal("expected both ops for a positive fee")
			}

			if burn.To != "null" || burn.Memo != "prediction-fee-burn|pred-1" {
				t.Errorf("burn op = %+v", burn)
			}
			if reward.To != "predict.rewards" || reward.Memo != "prediction-fee-reward|pred-1" {
				t.Errorf("reward op = %+v", reward)
			}
			if burn.Quantity != tt.wantBurn {
				t.Errorf("burn quantity = %s, want %s", burn.Quantity, tt.wantBurn)
			}
			if reward.Quantity != tt.wantReward {
				t.Errorf("reward quantity = %s, want %s", reward.Quantity, tt.wantReward)
			}

			// The split must conserve the fee exactly.
			b, _ := strconv.ParseFloat(burn.Quantity, 64)
			r, _ := strconv.ParseFloat(reward.Quantity, 64)
			if int64((b+r)*1000+0.5) != int64(escrowFee(tt.fee)*1000+0.5) {
				t.Errorf("burn %s + reward %s != fee %v", burn.Quantity, reward.Quantity, tt.fee)
			}
		})
	}
}

func escrowFee(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case fakeDecimal:
		return n.v
	default:
		return 0
	}
}

func TestRefundOps(t *testing.T) {
	ops := newBuilder().RefundOps("pred-9", []domain.Refund{
		{Username: "carol", Amount: 12.5},
	})

	if len(ops) != 1 {
		t.Fatalf("expected 1 op, got %d", len(ops))
	}
	want := domain.TransferOp{
		Signer:   "predict.escrow",
		To:       "carol",
		Symbol:   "BETS",
		Quantity: "12.500",
		Memo:     "prediction-refund|pred-9",
	}
	if ops[0] != want {
		t.Errorf("RefundOps = %+v, want %+v", ops[0], want)
	}
}
