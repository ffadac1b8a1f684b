package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
)

type fakeWriter struct {
	puts       map[string][]byte
	putTypes   map[string]string
	multiparts map[string][]byte
	err        error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		puts:       make(map[string][]byte),
		putTypes:   make(map[string]string),
		multiparts: make(map[string][]byte),
	}
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts[path] = buf
	w.putTypes[path] = contentType
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	if w.err != nil {
		return w.err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.multiparts[path] = buf
	return nil
}

type fakeAudit struct {
	events  []string
	details []map[string]any
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.details = append(a.details, detail)
	return nil
}

func (a *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.entries, nil
}

func testPrediction() domain.Prediction {
	return domain.Prediction{
		ID:              "pred-1",
		CreatorUsername: "carol",
		Title:           "Who wins the final",
		Status:          domain.PredictionStatusSettled,
		LocksAt:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		CreatedAt:       time.Date(2026, 7, 28, 9, 0, 0, 0, time.UTC),
		TotalPool:       100,
		SettledBy:       "carol",
	}
}

func TestArchiveSettlement(t *testing.T) {
	writer := newFakeWriter()
	audit := &fakeAudit{}
	arch := NewArchiver(writer, audit)

	payout := 45.0
	stakes := []domain.Stake{
		{ID: "st-1", PredictionID: "pred-1", OutcomeID: "out-a", Username: "alice", Amount: 30, TxID: "tx-1", Payout: &payout},
		{ID: "st-2", PredictionID: "pred-1", OutcomeID: "out-b", Username: "bob", Amount: 70, TxID: "tx-2"},
	}
	res := domain.SettlementResult{
		WinningOutcomeID: "out-a",
		TotalPool:        100,
		WinningPool:      30,
		PlatformFee:      10,
		BurnAmount:       5,
		RewardAmount:     5,
		TotalPaid:        90,
		Payouts:          []domain.PayoutLine{{StakeID: "st-1", Username: "alice", PayoutAmount: 90}},
	}

	path, err := arch.ArchiveSettlement(context.Background(), testPrediction(), []domain.Outcome{
		{ID: "out-a", Label: "Team A", TotalStaked: 30, BackerCount: 1, IsWinner: true},
		{ID: "out-b", Label: "Team B", TotalStaked: 70, BackerCount: 1},
	}, res, stakes)
	if err != nil {
		t.Fatalf("ArchiveSettlement: %v", err)
	}

	if !strings.HasPrefix(path, "settlements/") || !strings.HasSuffix(path, "/pred-1.json") {
		t.Errorf("unexpected path %q", path)
	}
	body, ok := writer.puts[path]
	if !ok {
		t.Fatalf("nothing uploaded at %q", path)
	}
	if ct := writer.putTypes[path]; ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}

	var rec settlementRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Prediction.ID != "pred-1" {
		t.Errorf("prediction id = %q", rec.Prediction.ID)
	}
	if rec.Result.WinningOutcomeID != "out-a" {
		t.Errorf("winning outcome = %q", rec.Result.WinningOutcomeID)
	}
	if len(rec.Stakes) != 2 {
		t.Fatalf("stakes in record = %d, want 2", len(rec.Stakes))
	}
	if rec.Stakes[0].Payout == nil || *rec.Stakes[0].Payout != 45 {
		t.Errorf("stake payout not preserved: %+v", rec.Stakes[0])
	}

	if len(audit.events) != 1 || audit.events[0] != "archive.settlement" {
		t.Errorf("audit events = %v", audit.events)
	}
	if got := audit.details[0]["path"]; got != path {
		t.Errorf("audit path = %v, want %q", got, path)
	}
}

func TestArchiveVoid(t *testing.T) {
	writer := newFakeWriter()
	audit := &fakeAudit{}
	arch := NewArchiver(writer, audit)

	p := testPrediction()
	p.Status = domain.PredictionStatusVoid
	refunds := []domain.Refund{
		{Username: "alice", Amount: 30},
		{Username: "bob", Amount: 70},
	}

	path, err := arch.ArchiveVoid(context.Background(), p, "match cancelled", refunds, []domain.Stake{
		{ID: "st-1", OutcomeID: "out-a", Username: "alice", Amount: 30, TxID: "tx-1", Refunded: true},
		{ID: "st-2", OutcomeID: "out-b", Username: "bob", Amount: 70, TxID: "tx-2", Refunded: true},
	})
	if err != nil {
		t.Fatalf("ArchiveVoid: %v", err)
	}

	if !strings.HasPrefix(path, "voids/") {
		t.Errorf("unexpected path %q", path)
	}

	var rec voidRecord
	if err := json.Unmarshal(writer.puts[path], &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Reason != "match cancelled" {
		t.Errorf("reason = %q", rec.Reason)
	}
	if len(rec.Refunds) != 2 {
		t.Errorf("refunds = %d, want 2", len(rec.Refunds))
	}

	if len(audit.events) != 1 || audit.events[0] != "archive.void" {
		t.Errorf("audit events = %v", audit.events)
	}
}

func TestArchiveSettlementUploadError(t *testing.T) {
	writer := newFakeWriter()
	writer.err = io.ErrClosedPipe
	audit := &fakeAudit{}
	arch := NewArchiver(writer, audit)

	_, err := arch.ArchiveSettlement(context.Background(), testPrediction(), nil, domain.SettlementResult{}, nil)
	if err == nil {
		t.Fatal("expected error when upload fails")
	}
	if len(audit.events) != 0 {
		t.Errorf("audit logged despite failed upload: %v", audit.events)
	}
}

func TestExportAuditLog(t *testing.T) {
	writer := newFakeWriter()
	audit := &fakeAudit{
		entries: []domain.AuditEntry{
			{ID: 1, Event: "stake.created", Detail: map[string]any{"stake_id": "st-1"}},
			{ID: 2, Event: "prediction.settled", Detail: map[string]any{"prediction_id": "pred-1"}},
		},
	}
	arch := NewArchiver(writer, audit)

	before := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	count, err := arch.ExportAuditLog(context.Background(), audit, before)
	if err != nil {
		t.Fatalf("ExportAuditLog: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	body, ok := writer.puts["archive/audit/2026-08.jsonl"]
	if !ok {
		t.Fatalf("export not uploaded, puts = %v", keysOf(writer.puts))
	}
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("jsonl lines = %d, want 2", len(lines))
	}
	var entry domain.AuditEntry
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if entry.Event != "stake.created" {
		t.Errorf("first line event = %q", entry.Event)
	}

	// Small exports go through plain Put, not multipart.
	if len(writer.multiparts) != 0 {
		t.Errorf("unexpected multipart upload for small export")
	}
}

func TestExportAuditLogEmpty(t *testing.T) {
	writer := newFakeWriter()
	audit := &fakeAudit{}
	arch := NewArchiver(writer, audit)

	count, err := arch.ExportAuditLog(context.Background(), audit, time.Now())
	if err != nil {
		t.Fatalf("ExportAuditLog: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if len(writer.puts) != 0 {
		t.Errorf("upload happened for empty export")
	}
}

func keysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
