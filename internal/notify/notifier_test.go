package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hivepredict/hivepredict/internal/domain"
)

type recordingSender struct {
	name     string
	titles   []string
	messages []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventPredictionSettled}, discardLogger())

	if err := n.Notify(context.Background(), EventError, "nope", "filtered"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.titles) != 0 {
		t.Errorf("filtered event was delivered: %v", sender.titles)
	}

	if err := n.Notify(context.Background(), EventPredictionSettled, "yes", "allowed"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.titles) != 1 || sender.titles[0] != "yes" {
		t.Errorf("allowed event not delivered: %v", sender.titles)
	}
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	if err := n.Notify(context.Background(), "anything", "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.titles) != 1 {
		t.Errorf("event not delivered with empty filter")
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected combined error from failed sender")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error does not name failed sender: %v", err)
	}
	if len(good.titles) != 1 {
		t.Errorf("healthy sender skipped after failure")
	}
}

func TestPredictionSettledMessage(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	p := domain.Prediction{ID: "pred-1", Title: "Who wins"}
	res := domain.SettlementResult{
		WinningOutcomeID: "out-a",
		TotalPool:        100,
		TotalPaid:        90,
		PlatformFee:      10,
		BurnAmount:       5,
		RewardAmount:     5,
		Payouts:          []domain.PayoutLine{{StakeID: "st-1", Username: "alice", PayoutAmount: 90}},
	}
	if err := n.PredictionSettled(context.Background(), p, res); err != nil {
		t.Fatalf("PredictionSettled: %v", err)
	}

	if len(sender.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(sender.messages))
	}
	msg := sender.messages[0]
	for _, want := range []string{"pred-1", "out-a", "100.000", "90.000", "burn 5.000"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestBroadcastFailedBypassesNothing(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventBroadcastFailed}, discardLogger())

	err := n.BroadcastFailed(context.Background(), "pred-1", 3, errors.New("bridge unreachable"))
	if err != nil {
		t.Fatalf("BroadcastFailed: %v", err)
	}
	if len(sender.messages) != 1 || !strings.Contains(sender.messages[0], "bridge unreachable") {
		t.Errorf("broadcast failure not delivered: %v", sender.messages)
	}
}
