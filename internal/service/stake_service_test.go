package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/escrow"
	"github.com/hivepredict/hivepredict/internal/token"
)

func testBuilder() *escrow.Builder {
	return escrow.NewBuilder(escrow.Accounts{
		Escrow:     "predict.escrow",
		Burn:       "null",
		RewardPool: "predict.rewards",
	}, "BETS", 3, 0.5, 0.5)
}

func testSigner(t *testing.T) *token.Signer {
	t.Helper()
	signer, err := token.NewSigner("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

type stakeFixture struct {
	svc      *StakeService
	preds    *memPredictions
	stakes   *memStakes
	verifier *fakeVerifier
	limiter  *fakeLimiter
	views    *fakeViews
	bus      *fakeBus
	audit    *fakeAuditLog
}

func newStakeFixture(t *testing.T) *stakeFixture {
	t.Helper()

	preds := newMemPredictions()
	preds.Create(context.Background(), domain.Prediction{
		ID:              "pred-1",
		CreatorUsername: "carol",
		Title:           "Who wins the final",
		Status:          domain.PredictionStatusOpen,
		LocksAt:         time.Now().Add(time.Hour),
		CreatedAt:       time.Now().Add(-time.Hour),
	}, []domain.Outcome{
		{ID: "out-a", PredictionID: "pred-1", Label: "Team A"},
		{ID: "out-b", PredictionID: "pred-1", Label: "Team B"},
	})

	f := &stakeFixture{
		preds:    preds,
		stakes:   &memStakes{},
		verifier: &fakeVerifier{res: escrow.VerifyResult{Valid: true}},
		limiter:  &fakeLimiter{allowed: true},
		views:    newFakeViews(),
		bus:      newFakeBus(),
		audit:    &fakeAuditLog{},
	}
	f.svc = NewStakeService(
		f.preds, f.stakes, f.verifier, testSigner(t), f.limiter,
		testBuilder(), f.views, f.bus, f.audit, 10, testLogger(),
	)
	return f
}

func (f *stakeFixture) issue(t *testing.T, amount float64) IssuedStakeToken {
	t.Helper()
	issued, err := f.svc.IssueToken(context.Background(), IssueTokenRequest{
		Username:     "alice",
		PredictionID: "pred-1",
		OutcomeID:    "out-a",
		Amount:       amount,
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return issued
}

func TestIssueToken(t *testing.T) {
	f := newStakeFixture(t)

	issued := f.issue(t, 25.5)

	if issued.Token == "" {
		t.Fatal("empty token")
	}
	tr := issued.Transfer
	if tr.Signer != "alice" || tr.To != "predict.escrow" || tr.Symbol != "BETS" {
		t.Errorf("unexpected transfer %+v", tr)
	}
	if tr.Quantity != "25.500" {
		t.Errorf("quantity = %q, want 25.500", tr.Quantity)
	}
	if tr.Memo != "prediction-stake|pred-1|out-a" {
		t.Errorf("memo = %q", tr.Memo)
	}
	if len(f.limiter.keys) != 1 || f.limiter.keys[0] != "stake_token:alice" {
		t.Errorf("rate limit keys = %v", f.limiter.keys)
	}
}

func TestIssueTokenRateLimited(t *testing.T) {
	f := newStakeFixture(t)
	f.limiter.allowed = false

	_, err := f.svc.IssueToken(context.Background(), IssueTokenRequest{
		Username: "alice", PredictionID: "pred-1", OutcomeID: "out-a", Amount: 10,
	})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestIssueTokenClosedPrediction(t *testing.T) {
	f := newStakeFixture(t)
	f.preds.preds["pred-1"].Status = domain.PredictionStatusLocked

	_, err := f.svc.IssueToken(context.Background(), IssueTokenRequest{
		Username: "alice", PredictionID: "pred-1", OutcomeID: "out-a", Amount: 10,
	})
	if !errors.Is(err, domain.ErrPredictionClosed) {
		t.Fatalf("err = %v, want ErrPredictionClosed", err)
	}
}

func TestIssueTokenUnknownOutcome(t *testing.T) {
	f := newStakeFixture(t)

	_, err := f.svc.IssueToken(context.Background(), IssueTokenRequest{
		Username: "alice", PredictionID: "pred-1", OutcomeID: "out-z", Amount: 10,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSubmitStake(t *testing.T) {
	f := newStakeFixture(t)
	issued := f.issue(t, 25.5)

	stake, res, err := f.svc.SubmitStake(context.Background(), issued.Token, "tx-1")
	if err != nil {
		t.Fatalf("SubmitStake: %v", err)
	}
	if !res.Valid {
		t.Fatalf("result invalid: %+v", res)
	}

	if stake.PredictionID != "pred-1" || stake.OutcomeID != "out-a" || stake.Username != "alice" {
		t.Errorf("unexpected stake %+v", stake)
	}
	if stake.Amount != 25.5 || stake.TxID != "tx-1" {
		t.Errorf("unexpected stake %+v", stake)
	}
	if len(f.stakes.stakes) != 1 {
		t.Fatalf("persisted stakes = %d, want 1", len(f.stakes.stakes))
	}

	req := f.verifier.lastReq
	if req.TxID != "tx-1" || req.ExpectedUsername != "alice" || req.ExpectedAmount != 25.5 {
		t.Errorf("verifier request = %+v", req)
	}
	if req.ExpectedPredictionID != "pred-1" || req.ExpectedOutcomeID != "out-a" {
		t.Errorf("verifier request = %+v", req)
	}

	if len(f.views.invalidated) != 1 || f.views.invalidated[0] != "pred-1" {
		t.Errorf("view invalidations = %v", f.views.invalidated)
	}
	if len(f.bus.published[ChannelStakes]) != 1 {
		t.Errorf("stake events published = %d, want 1", len(f.bus.published[ChannelStakes]))
	}
	if len(f.bus.streams[StreamStakes]) != 1 {
		t.Errorf("stake stream entries = %d, want 1", len(f.bus.streams[StreamStakes]))
	}
	if !f.audit.has("stake.created") {
		t.Errorf("audit events = %v", f.audit.events)
	}
}

func TestSubmitStakeBadToken(t *testing.T) {
	f := newStakeFixture(t)

	_, _, err := f.svc.SubmitStake(context.Background(), "garbage.token", "tx-1")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if f.verifier.calls != 0 {
		t.Errorf("ledger consulted for a forged token")
	}
}

func TestSubmitStakeVerifierRejects(t *testing.T) {
	f := newStakeFixture(t)
	f.verifier.res = escrow.VerifyResult{Valid: false, Reason: escrow.ReasonAmountMismatch}
	issued := f.issue(t, 25.5)

	_, res, err := f.svc.SubmitStake(context.Background(), issued.Token, "tx-1")
	if err != nil {
		t.Fatalf("reconciliation failure must not be an error, got %v", err)
	}
	if res.Valid || res.Reason != escrow.ReasonAmountMismatch {
		t.Errorf("result = %+v", res)
	}
	if len(f.stakes.stakes) != 0 {
		t.Errorf("rejected stake was persisted")
	}
}

func TestSubmitStakeTransportFailure(t *testing.T) {
	f := newStakeFixture(t)
	f.verifier.err = errors.New("all nodes down")
	issued := f.issue(t, 25.5)

	_, _, err := f.svc.SubmitStake(context.Background(), issued.Token, "tx-1")
	if err == nil {
		t.Fatal("expected error when the ledger is unreachable")
	}
	if len(f.stakes.stakes) != 0 {
		t.Errorf("stake persisted without verification")
	}
}

func TestSubmitStakeDuplicateTx(t *testing.T) {
	f := newStakeFixture(t)
	f.stakes.stakes = append(f.stakes.stakes, domain.Stake{
		ID: "st-0", PredictionID: "pred-1", OutcomeID: "out-a",
		Username: "alice", Amount: 25.5, TxID: "tx-1",
	})
	issued := f.issue(t, 25.5)

	_, _, err := f.svc.SubmitStake(context.Background(), issued.Token, "tx-1")
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestSubmitStakeAfterLock(t *testing.T) {
	f := newStakeFixture(t)
	issued := f.issue(t, 25.5)
	f.preds.preds["pred-1"].Status = domain.PredictionStatusLocked

	_, _, err := f.svc.SubmitStake(context.Background(), issued.Token, "tx-1")
	if !errors.Is(err, domain.ErrPredictionClosed) {
		t.Fatalf("err = %v, want ErrPredictionClosed", err)
	}
}
