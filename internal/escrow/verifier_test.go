package escrow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/escrow"
)

// fakeLedger scripts a sequence of GetTransaction responses.
type fakeLedger struct {
	responses []ledgerResponse
	calls     int
}

type ledgerResponse struct {
	tx  domain.LedgerTransaction
	err error
}

func (f *fakeLedger) GetTransaction(ctx context.Context, txID string) (domain.LedgerTransaction, error) {
	f.calls++
	if f.calls > len(f.responses) {
		return domain.LedgerTransaction{}, domain.ErrTxNotFound
	}
	r := f.responses[f.calls-1]
	return r.tx, r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastPolicy keeps retry delays near zero so tests run instantly.
func fastPolicy() escrow.RetryPolicy {
	return escrow.RetryPolicy{
		MaxAttempts:    4,
		NotFoundDelay:  time.Millisecond,
		TransportDelay: time.Millisecond,
	}
}

func newVerifier(ledger domain.LedgerReader) *escrow.Verifier {
	return escrow.NewVerifier(
		ledger, "ssc-mainnet-hive", "predict.escrow", "BETS", 3,
		fastPolicy(), discardLogger(),
	)
}

func stakeRequest() escrow.VerifyRequest {
	return escrow.VerifyRequest{
		TxID:                 "tx-1",
		ExpectedUsername:     "alice",
		ExpectedAmount:       25.5,
		ExpectedPredictionID: "pred-1",
		ExpectedOutcomeID:    "out-a",
	}
}

// transferOp fabricates a custom_json transfer operation.
func transferOp(signer, to, symbol, quantity, memo string) domain.LedgerOperation {
	return domain.LedgerOperation{
		Type:          "custom_json",
		ID:            "ssc-mainnet-hive",
		RequiredAuths: []string{signer},
		JSON: fmt.Sprintf(
			`{"contractName":"tokens","contractAction":"transfer","contractPayload":{"to":%q,"symbol":%q,"quantity":%q,"memo":%q}}`,
			to, symbol, quantity, memo,
		),
	}
}

func matchingTx() domain.LedgerTransaction {
	return domain.LedgerTransaction{
		ID: "tx-1",
		Operations: []domain.LedgerOperation{
			transferOp("alice", "predict.escrow", "BETS", "25.500", "prediction-stake|pred-1|out-a"),
		},
	}
}

func TestVerifyValidTransaction(t *testing.T) {
	ledger := &fakeLedger{responses: []ledgerResponse{{tx: matchingTx()}}}

	res, err := newVerifier(ledger).VerifyStakeTransaction(context.Background(), stakeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Errorf("expected valid, got reason %q", res.Reason)
	}
}

func TestVerifyRetriesNotFoundThenSucceeds(t *testing.T) {
	ledger := &fakeLedger{responses: []ledgerResponse{
		{err: domain.ErrTxNotFound},
		{err: domain.ErrTxNotFound},
		{tx: matchingTx()},
	}}

	res, err := newVerifier(ledger).VerifyStakeTransaction(context.Background(), stakeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Errorf("expected valid after retries, got reason %q", res.Reason)
	}
	if ledger.calls != 3 {
		t.Errorf("ledger called %d times, want 3", ledger.calls)
	}
}

func TestVerifyNotFoundExhaustsRetries(t *testing.T) {
	ledger := &fakeLedger{} // always not found

	res, err := newVerifier(ledger).VerifyStakeTransaction(context.Background(), stakeRequest())
	if err != nil {
		t.Fatalf("not-found exhaustion must not be an error, got %v", err)
	}
	if res.Valid || res.Reason != escrow.ReasonNotFound {
		t.Errorf("result = %+v, want not-found reason", res)
	}
	if ledger.calls != 4 {
		t.Errorf("ledger called %d times, want 4", ledger.calls)
	}
}

func TestVerifyTransportErrorRetriedThenSucceeds(t *testing.T) {
	ledger := &fakeLedger{responses: []ledgerResponse{
		{err: errors.New("connection refused")},
		{tx: matchingTx()},
	}}

	res, err := newVerifier(ledger).VerifyStakeTransaction(context.Background(), stakeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Errorf("expected valid after transport retry, got %+v", res)
	}
}

func TestVerifyTransportErrorPropagatesAfterExhaustion(t *testing.T) {
	transportErr := errors.New("node unreachable")
	ledger := &fakeLedger{responses: []ledgerResponse{
		{err: transportErr}, {err: transportErr}, {err: transportErr}, {err: transportErr},
	}}

	_, err := newVerifier(ledger).VerifyStakeTransaction(context.Background(), stakeRequest())
	if err == nil {
		t.Fatal("expected transport error to propagate")
	}
	if !errors.Is(err, transportErr) {
		t.Errorf("error %v should wrap the transport error", err)
	}
}

func TestVerifyContextCancellationAbortsRetries(t *testing.T) {
	ledger := &fakeLedger{} // always not found
	v := escrow.NewVerifier(
		ledger, "ssc-mainnet-hive", "predict.escrow", "BETS", 3,
		escrow.RetryPolicy{MaxAttempts: 4, NotFoundDelay: time.Hour, TransportDelay: time.Hour},
		discardLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := v.VerifyStakeTransaction(ctx, stakeRequest())
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not abort the retry sleep")
	}
}

func TestVerifyMismatchReasons(t *testing.T) {
	tests := []struct {
		name       string
		op         domain.LedgerOperation
		wantReason string
	}{
		{
			name:       "amount mismatch",
			op:         transferOp("alice", "predict.escrow", "BETS", "20.000", "prediction-stake|pred-1|out-a"),
			wantReason: escrow.ReasonAmountMismatch,
		},
		{
			name:       "memo mismatch",
			op:         transferOp("alice", "predict.escrow", "BETS", "25.500", "prediction-stake|pred-1|out-WRONG"),
			wantReason: escrow.ReasonMemoMismatch,
		},
		{
			name:       "wrong signer is a generic no-match",
			op:         transferOp("mallory", "predict.escrow", "BETS", "25.500", "prediction-stake|pred-1|out-a"),
			wantReason: escrow.ReasonNoMatch,
		},
		{
			name:       "wrong destination is a generic no-match",
			op:         transferOp("alice", "mallory", "BETS", "25.500", "prediction-stake|pred-1|out-a"),
			wantReason: escrow.ReasonNoMatch,
		},
		{
			name:       "wrong symbol is a generic no-match",
			op:         transferOp("alice", "predict.escrow", "OTHER", "25.500", "prediction-stake|pred-1|out-a"),
			wantReason: escrow.ReasonNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{responses: []ledgerResponse{
				{tx: domain.LedgerTransaction{ID: "tx-1", Operations: []domain.LedgerOperation{tt.op}}},
			}}

			res, err := newVerifier(ledger).VerifyStakeTransaction(context.Background(), stakeRequest())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Valid {
				t.Fatal("expected invalid result")
			}
			if res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerifySkipsForeignOperations(t *testing.T) {
	tx := domain.LedgerTransaction{
		ID: "tx-1",
		Operations: []domain.LedgerOperation{
			{Type: "vote", JSON: `{}`},
			{Type: "custom_json", ID: "other-app", RequiredAuths: []string{"alice"}, JSON: `{}`},
			{Type: "custom_json", ID: "ssc-mainnet-hive", RequiredAuths: []string{"alice"}, JSON: `not json`},
			{
				Type: "custom_json", ID: "ssc-mainnet-hive", RequiredAuths: []string{"alice"},
				JSON: `{"contractName":"tokens","contractAction":"stake","contractPayload":{}}`,
			},
			transferOp("alice", "predict.escrow", "BETS", "25.500", "prediction-stake|pred-1|out-a"),
		},
	}
	ledger := &fakeLedger{responses: []ledgerResponse{{tx: tx}}}

	res, err := newVerifier(ledger).VerifyStakeTransaction(context.Background(), stakeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Errorf("foreign operations should be skipped, not fail verification: %+v", res)
	}
}

func TestVerifyQuantityFormattingVariants(t *testing.T) {
	// "25.5" and "25.500" are the same quantity at precision 3.
	tx := domain.LedgerTransaction{
		ID: "tx-1",
		Operations: []domain.LedgerOperation{
			transferOp("alice", "predict.escrow", "BETS", "25.5", "prediction-stake|pred-1|out-a"),
		},
	}
	ledger := &fakeLedger{responses: []ledgerResponse{{tx: tx}}}

	res, err := newVerifier(ledger).VerifyStakeTransaction(context.Background(), stakeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid {
		t.Errorf("short-form quantity should match: %+v", res)
	}
}
