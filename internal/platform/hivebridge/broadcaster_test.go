package hivebridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hivepredict/hivepredict/internal/crypto"
	"github.com/hivepredict/hivepredict/internal/domain"
)

func testAuth() *crypto.BridgeAuth {
	return &crypto.BridgeAuth{KeyID: "test", Secret: "secret"}
}

func testOps() []domain.TransferOp {
	return []domain.TransferOp{
		{Signer: "predict.escrow", To: "alice", Symbol: "BETS", Quantity: "54.000", Memo: "prediction-payout|pred-1"},
	}
}

func newTestBroadcaster(url string, retries int) *Broadcaster {
	b := NewBroadcaster(url, testAuth(), time.Second, retries, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.retryDelay = time.Millisecond
	return b
}

func TestBroadcastSuccess(t *testing.T) {
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Bridge-Signature") != "" && r.Header.Get("X-Bridge-Timestamp") != ""

		var req broadcastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Operations) != 1 || req.Operations[0].To != "alice" {
			t.Errorf("operations = %+v", req.Operations)
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	if err := newTestBroadcaster(srv.URL, 3).Broadcast(context.Background(), testOps()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotAuth {
		t.Error("request was not HMAC-authenticated")
	}
}

func TestBroadcastEmptyBatchIsNoop(t *testing.T) {
	b := newTestBroadcaster("http://bridge.invalid", 3)
	if err := b.Broadcast(context.Background(), nil); err != nil {
		t.Errorf("empty batch should not touch the network: %v", err)
	}
}

func TestBroadcastRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	if err := newTestBroadcaster(srv.URL, 3).Broadcast(context.Background(), testOps()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestBroadcastExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestBroadcaster(srv.URL, 2).Broadcast(context.Background(), testOps())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestBroadcastRejectionIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"success":false,"error":"insufficient escrow balance"}`))
	}))
	defer srv.Close()

	err := newTestBroadcaster(srv.URL, 3).Broadcast(context.Background(), testOps())

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want RejectedError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("rejection must not be retried, got %d calls", calls.Load())
	}
}

func TestBroadcastBadRequestIsFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestBroadcaster(srv.URL, 3).Broadcast(context.Background(), testOps())

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want RejectedError", err)
	}
}
