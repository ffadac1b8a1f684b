package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
	"github.com/hivepredict/hivepredict/internal/escrow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// in-memory stores
// ---------------------------------------------------------------------------

type memPredictions struct {
	preds       map[string]*domain.Prediction
	outcomes    map[string][]domain.Outcome
	transitions []string
	applied     *domain.SettlementResult
	appliedBy   string
	voidReason  string

	// transitionErr, when set, fails the next TransitionStatus call.
	transitionErr error
	applyErr      error
}

func newMemPredictions() *memPredictions {
	return &memPredictions{
		preds:    make(map[string]*domain.Prediction),
		outcomes: make(map[string][]domain.Outcome),
	}
}

func (m *memPredictions) Create(_ context.Context, p domain.Prediction, outcomes []domain.Outcome) error {
	cp := p
	m.preds[p.ID] = &cp
	m.outcomes[p.ID] = outcomes
	return nil
}

func (m *memPredictions) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	p, ok := m.preds[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return *p, nil
}

func (m *memPredictions) GetOutcomes(_ context.Context, predictionID string) ([]domain.Outcome, error) {
	return m.outcomes[predictionID], nil
}

func (m *memPredictions) List(_ context.Context, status domain.PredictionStatus, _ domain.ListOpts) ([]domain.Prediction, error) {
	var out []domain.Prediction
	for _, p := range m.preds {
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPredictions) TransitionStatus(_ context.Context, id string, from, to domain.PredictionStatus) error {
	if m.transitionErr != nil {
		err := m.transitionErr
		m.transitionErr = nil
		return err
	}
	p, ok := m.preds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrInvalidTransition
	}
	p.Status = to
	m.transitions = append(m.transitions, string(from)+"->"+string(to))
	return nil
}

func (m *memPredictions) ApplySettlement(_ context.Context, id string, res domain.SettlementResult, settledBy string) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	p, ok := m.preds[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.applied = &res
	m.appliedBy = settledBy
	p.PlatformCut = res.PlatformFee
	p.BurnedAmount = res.BurnAmount
	p.RewardPoolAmount = res.RewardAmount
	p.WinningOutcomeID = res.WinningOutcomeID
	p.SettledBy = settledBy
	now := time.Now()
	p.SettledAt = &now
	return nil
}

func (m *memPredictions) MarkVoid(_ context.Context, id string, reason string) error {
	p, ok := m.preds[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.IsVoid = true
	p.VoidReason = reason
	m.voidReason = reason
	return nil
}

type memStakes struct {
	stakes    []domain.Stake
	createErr error
}

func (m *memStakes) Create(_ context.Context, s domain.Stake) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.stakes {
		if existing.TxID == s.TxID {
			return domain.ErrAlreadyExists
		}
	}
	m.stakes = append(m.stakes, s)
	return nil
}

func (m *memStakes) ListByPrediction(_ context.Context, predictionID string) ([]domain.Stake, error) {
	var out []domain.Stake
	for _, s := range m.stakes {
		if s.PredictionID == predictionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStakes) ListByUser(_ context.Context, username string, _ domain.ListOpts) ([]domain.Stake, error) {
	var out []domain.Stake
	for _, s := range m.stakes {
		if s.Username == username {
			out = append(out, s)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// infrastructure fakes
// ---------------------------------------------------------------------------

type fakeVerifier struct {
	res     escrow.VerifyResult
	err     error
	lastReq escrow.VerifyRequest
	calls   int
}

func (f *fakeVerifier) VerifyStakeTransaction(_ context.Context, req escrow.VerifyRequest) (escrow.VerifyResult, error) {
	f.calls++
	f.lastReq = req
	return f.res, f.err
}

type fakeLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allowed, f.err
}

type fakeLocks struct {
	err      error
	acquired []string
	released int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired = append(f.acquired, key)
	return func() { f.released++ }, nil
}

type fakeBroadcaster struct {
	batches [][]domain.TransferOp
	err     error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, ops []domain.TransferOp) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, ops)
	return nil
}

type fakeViews struct {
	data        map[string][]byte
	invalidated []string
}

func newFakeViews() *fakeViews {
	return &fakeViews{data: make(map[string][]byte)}
}

func (f *fakeViews) Get(_ context.Context, key string) ([]byte, error) {
	if d, ok := f.data[key]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeViews) Set(_ context.Context, key string, data []byte) error {
	f.data[key] = data
	return nil
}

func (f *fakeViews) Invalidate(_ context.Context, predictionID string) error {
	f.invalidated = append(f.invalidated, predictionID)
	for k := range f.data {
		if len(k) >= len(predictionID) && k[:len(predictionID)] == predictionID {
			delete(f.data, k)
		}
	}
	return nil
}

type fakeBus struct {
	published map[string][][]byte
	streams   map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][][]byte),
	}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.streams[stream] = append(f.streams[stream], payload)
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAuditLog struct {
	events  []string
	details []map[string]any
}

func (f *fakeAuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.details = append(f.details, detail)
	return nil
}

func (f *fakeAuditLog) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditLog) has(event string) bool {
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeArchiver struct {
	settlements int
	voids       int
	err         error
}

func (f *fakeArchiver) ArchiveSettlement(context.Context, domain.Prediction, []domain.Outcome, domain.SettlementResult, []domain.Stake) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.settlements++
	return "settlements/test.json", nil
}

func (f *fakeArchiver) ArchiveVoid(context.Context, domain.Prediction, string, []domain.Refund, []domain.Stake) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.voids++
	return "voids/test.json", nil
}

type fakeAlerter struct {
	settled          int
	voided           int
	broadcastFailed  int
	lastBroadcastErr error
}

func (f *fakeAlerter) PredictionSettled(context.Context, domain.Prediction, domain.SettlementResult) error {
	f.settled++
	return nil
}

func (f *fakeAlerter) PredictionVoided(context.Context, domain.Prediction, string, []domain.Refund) error {
	f.voided++
	return nil
}

func (f *fakeAlerter) BroadcastFailed(_ context.Context, _ string, _ int, cause error) error {
	f.broadcastFailed++
	f.lastBroadcastErr = cause
	return nil
}
