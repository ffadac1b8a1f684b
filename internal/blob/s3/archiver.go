package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the query methods it actually calls, not the full
// domain store interfaces. The Postgres stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// AuditExportStore provides read access to audit entries for export.
type AuditExportStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// multipartWriter is an optional capability of a BlobWriter. The S3 Writer
// satisfies it; exports above multipartThreshold go through it.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// multipartThreshold is the export size above which the archiver switches to
// multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// ---------------------------------------------------------------------------
// Archiver
// ---------------------------------------------------------------------------

// Archiver writes immutable JSON records of settlements and voids to blob
// storage. The database row for a settled prediction can later be mutated by
// an operator; the archived record cannot, so disputes are resolved against
// the archive.
type Archiver struct {
	writer    domain.BlobWriter
	multipart multipartWriter
	audit     domain.AuditStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *Archiver {
	a := &Archiver{
		writer: writer,
		audit:  audit,
	}
	a.multipart, _ = writer.(multipartWriter)
	return a
}

// settlementRecord is the archived form of one settlement. It snapshots the
// prediction, the computed result, and every stake at the moment of
// settlement.
type settlementRecord struct {
	ArchivedAt time.Time               `json:"archivedAt"`
	Prediction predictionSnapshot      `json:"prediction"`
	Outcomes   []outcomeSnapshot       `json:"outcomes"`
	Result     domain.SettlementResult `json:"result"`
	Stakes     []stakeSnapshot         `json:"stakes"`
}

// voidRecord is the archived form of one voided prediction.
type voidRecord struct {
	ArchivedAt time.Time          `json:"archivedAt"`
	Prediction predictionSnapshot `json:"prediction"`
	Reason     string             `json:"reason"`
	Refunds    []domain.Refund    `json:"refunds"`
	Stakes     []stakeSnapshot    `json:"stakes"`
}

type predictionSnapshot struct {
	ID              string    `json:"id"`
	CreatorUsername string    `json:"creatorUsername"`
	Title           string    `json:"title"`
	SportCategory   string    `json:"sportCategory,omitempty"`
	MatchReference  string    `json:"matchReference,omitempty"`
	LocksAt         time.Time `json:"locksAt"`
	CreatedAt       time.Time `json:"createdAt"`
	TotalPool       float64   `json:"totalPool"`
	SettledBy       string    `json:"settledBy,omitempty"`
}

type outcomeSnapshot struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	TotalStaked float64 `json:"totalStaked"`
	BackerCount int     `json:"backerCount"`
	IsWinner    bool    `json:"isWinner"`
}

type stakeSnapshot struct {
	ID        string   `json:"id"`
	OutcomeID string   `json:"outcomeId"`
	Username  string   `json:"username"`
	Amount    float64  `json:"amount"`
	TxID      string   `json:"txId"`
	Payout    *float64 `json:"payout,omitempty"`
	Refunded  bool     `json:"refunded,omitempty"`
}

// ArchiveSettlement uploads a settlement record to
// settlements/YYYY-MM/{predictionID}.json and records the upload in the
// audit log. It returns the object path.
func (a *Archiver) ArchiveSettlement(ctx context.Context, p domain.Prediction, outcomes []domain.Outcome, res domain.SettlementResult, stakes []domain.Stake) (string, error) {
	rec := settlementRecord{
		ArchivedAt: time.Now().UTC(),
		Prediction: snapshotPrediction(p),
		Outcomes:   snapshotOutcomes(outcomes),
		Result:     res,
		Stakes:     snapshotStakes(stakes),
	}

	path := recordPath("settlements", p.ID, rec.ArchivedAt)
	if err := a.putJSON(ctx, path, rec); err != nil {
		return "", fmt.Errorf("s3blob: archive settlement %s: %w", p.ID, err)
	}

	if err := a.audit.Log(ctx, "archive.settlement", map[string]any{
		"prediction_id": p.ID,
		"path":          path,
		"total_pool":    res.TotalPool,
		"platform_fee":  res.PlatformFee,
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive settlement audit log: %w", err)
	}

	return path, nil
}

// ArchiveVoid uploads a void record to voids/YYYY-MM/{predictionID}.json and
// records the upload in the audit log. It returns the object path.
func (a *Archiver) ArchiveVoid(ctx context.Context, p domain.Prediction, reason string, refunds []domain.Refund, stakes []domain.Stake) (string, error) {
	rec := voidRecord{
		ArchivedAt: time.Now().UTC(),
		Prediction: snapshotPrediction(p),
		Reason:     reason,
		Refunds:    refunds,
		Stakes:     snapshotStakes(stakes),
	}

	path := recordPath("voids", p.ID, rec.ArchivedAt)
	if err := a.putJSON(ctx, path, rec); err != nil {
		return "", fmt.Errorf("s3blob: archive void %s: %w", p.ID, err)
	}

	if err := a.audit.Log(ctx, "archive.void", map[string]any{
		"prediction_id": p.ID,
		"path":          path,
		"reason":        reason,
		"refund_count":  len(refunds),
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive void audit log: %w", err)
	}

	return path, nil
}

// ExportAuditLog serialises all audit entries created before the cutoff to
// JSONL and uploads the file to archive/audit/YYYY-MM.jsonl. It returns the
// number of exported entries.
func (a *Archiver) ExportAuditLog(ctx context.Context, store AuditExportStore, before time.Time) (int64, error) {
	entries, err := store.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: export audit log query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: export audit log marshal: %w", err)
	}

	path := fmt.Sprintf("archive/audit/%s.jsonl", before.Format("2006-01"))
	if len(buf) >= multipartThreshold && a.multipart != nil {
		err = a.multipart.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: export audit log upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit_export", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: export audit log audit entry: %w", err)
	}

	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (a *Archiver) putJSON(ctx context.Context, path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return a.writer.Put(ctx, path, &buf, "application/json")
}

// recordPath builds the object key for a per-prediction record, partitioned
// by the year-month of the archival time.
//
//	settlements/2026-08/8f3c....json
//	voids/2026-08/8f3c....json
func recordPath(kind, predictionID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", kind, at.Format("2006-01"), predictionID)
}

func snapshotPrediction(p domain.Prediction) predictionSnapshot {
	return predictionSnapshot{
		ID:              p.ID,
		CreatorUsername: p.CreatorUsername,
		Title:           p.Title,
		SportCategory:   p.SportCategory,
		MatchReference:  p.MatchReference,
		LocksAt:         p.LocksAt,
		CreatedAt:       p.CreatedAt,
		TotalPool:       p.TotalPool,
		SettledBy:       p.SettledBy,
	}
}

func snapshotOutcomes(outcomes []domain.Outcome) []outcomeSnapshot {
	out := make([]outcomeSnapshot, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, outcomeSnapshot{
			ID:          o.ID,
			Label:       o.Label,
			TotalStaked: o.TotalStaked,
			BackerCount: o.BackerCount,
			IsWinner:    o.IsWinner,
		})
	}
	return out
}

func snapshotStakes(stakes []domain.Stake) []stakeSnapshot {
	out := make([]stakeSnapshot, 0, len(stakes))
	for _, s := range stakes {
		out = append(out, stakeSnapshot{
			ID:        s.ID,
			OutcomeID: s.OutcomeID,
			Username:  s.Username,
			Amount:    s.Amount,
			TxID:      s.TxID,
			Payout:    s.Payout,
			Refunded:  s.Refunded,
		})
	}
	return out
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
