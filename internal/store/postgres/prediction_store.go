package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a new PredictionStore backed by the given
// connection pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// Create inserts a prediction and its outcomes in a single transaction.
func (s *PredictionStore) Create(ctx context.Context, p domain.Prediction, outcomes []domain.Outcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create prediction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertPrediction = `
		INSERT INTO predictions (
			id, creator_username, title, sport_category, match_reference,
			status, locks_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = tx.Exec(ctx, insertPrediction,
		p.ID, p.CreatorUsername, p.Title, p.SportCategory, p.MatchReference,
		string(p.Status), p.LocksAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}

	const insertOutcome = `
		INSERT INTO outcomes (id, prediction_id, label) VALUES ($1, $2, $3)`
	for _, o := range outcomes {
		if _, err := tx.Exec(ctx, insertOutcome, o.ID, p.ID, o.Label); err != nil {
			return fmt.Errorf("postgres: create outcome %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create prediction %s: %w", p.ID, err)
	}
	return nil
}

const predictionSelectCols = `id, creator_username, title, sport_category, match_reference,
	status, locks_at, created_at, settled_at, settled_by,
	total_pool, platform_cut, burned_amount, reward_pool_amount,
	winning_outcome_id, is_void, void_reason`

func scanPredictionFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Prediction, error) {
	var p domain.Prediction
	var status string

	err := scanner.Scan(
		&p.ID, &p.CreatorUsername, &p.Title, &p.SportCategory, &p.MatchReference,
		&status, &p.LocksAt, &p.CreatedAt, &p.SettledAt, &p.SettledBy,
		&p.TotalPool, &p.PlatformCut, &p.BurnedAmount, &p.RewardPoolAmount,
		&p.WinningOutcomeID, &p.IsVoid, &p.VoidReason,
	)
	if err != nil {
		return domain.Prediction{}, err
	}

	p.Status = domain.PredictionStatus(status)
	return p, nil
}

// GetByID retrieves a single prediction by ID.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+predictionSelectCols+` FROM predictions WHERE id = $1`, id)

	p, err := scanPredictionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// GetOutcomes returns a prediction's outcomes in insertion order.
func (s *PredictionStore) GetOutcomes(ctx context.Context, predictionID string) ([]domain.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, prediction_id, label, total_staked, backer_count, is_winner
		 FROM outcomes WHERE prediction_id = $1 ORDER BY id`, predictionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get outcomes for %s: %w", predictionID, err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ID, &o.PredictionID, &o.Label, &o.TotalStaked, &o.BackerCount, &o.IsWinner); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get outcomes rows: %w", err)
	}
	return outcomes, nil
}

// List returns predictions filtered by status (empty matches all) with
// pagination.
func (s *PredictionStore) List(ctx context.Context, status domain.PredictionStatus, opts domain.ListOpts) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionSelectCols + ` FROM predictions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions: %w", err)
	}
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		p, err := scanPredictionFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list predictions rows: %w", err)
	}
	return preds, nil
}

// TransitionStatus performs a compare-and-swap on the status column. The
// WHERE clause on the current status is the whole at-most-once mechanism:
// a lost race affects zero rows and reports ErrInvalidTransition.
func (s *PredictionStore) TransitionStatus(ctx context.Context, id string, from, to domain.PredictionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("postgres: transition prediction %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row is missing or it is not in the expected status.
		var exists bool
		if scanErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM predictions WHERE id = $1)`, id,
		).Scan(&exists); scanErr == nil && !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// ApplySettlement persists a settlement result in one transaction:
// prediction financials, per-stake payouts (losing stakes get zero), and the
// winning outcome flag.
func (s *PredictionStore) ApplySettlement(ctx context.Context, id string, res domain.SettlementResult, settledBy string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin settlement for %s: %w", id, err)
	}
	defer tx.Rollback(ctx)

	const updatePrediction = `
		UPDATE predictions SET
			platform_cut = $1,
			burned_amount = $2,
			reward_pool_amount = $3,
			winning_outcome_id = $4,
			settled_at = NOW(),
			settled_by = $5,
			updated_at = NOW()
		WHERE id = $6`

	tag, err := tx.Exec(ctx, updatePrediction,
		res.PlatformFee, res.BurnAmount, res.RewardAmount,
		res.WinningOutcomeID, settledBy, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: apply settlement to %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE outcomes SET is_winner = (id = $1) WHERE prediction_id = $2`,
		res.WinningOutcomeID, id,
	); err != nil {
		return fmt.Errorf("postgres: mark winning outcome for %s: %w", id, err)
	}

	// Losing stakes settle at zero; winners get their payout line.
	if _, err := tx.Exec(ctx,
		`UPDATE stakes SET payout = 0 WHERE prediction_id = $1`, id,
	); err != nil {
		return fmt.Errorf("postgres: zero stake payouts for %s: %w", id, err)
	}

	const updatePayout = `UPDATE stakes SET payout = $1 WHERE id = $2`
	for _, line := range res.Payouts {
		if _, err := tx.Exec(ctx, updatePayout, line.PayoutAmount, line.StakeID); err != nil {
			return fmt.Errorf("postgres: set payout for stake %s: %w", line.StakeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement for %s: %w", id, err)
	}
	return nil
}

// MarkVoid records the void reason and flags every stake as refunded.
func (s *PredictionStore) MarkVoid(ctx context.Context, id string, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin void for %s: %w", id, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE predictions SET is_void = TRUE, void_reason = $1, settled_at = NOW(), updated_at = NOW()
		 WHERE id = $2`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark prediction %s void: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE stakes SET refunded = TRUE WHERE prediction_id = $1`, id,
	); err != nil {
		return fmt.Errorf("postgres: mark stakes refunded for %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit void for %s: %w", id, err)
	}
	return nil
}
