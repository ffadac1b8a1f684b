package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// StakeStore implements domain.StakeStore using PostgreSQL.
type StakeStore struct {
	pool *pgxpool.Pool
}

// NewStakeStore creates a new StakeStore backed by the given connection pool.
func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// Create inserts a stake and bumps the outcome and prediction pools in one
// transaction. The unique index on tx_id makes this idempotent against
// replayed submissions: a second insert for the same ledger transaction
// returns ErrAlreadyExists and changes nothing.
func (s *StakeStore) Create(ctx context.Context, st domain.Stake) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create stake: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertStake = `
		INSERT INTO stakes (id, prediction_id, outcome_id, username, amount, tx_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = tx.Exec(ctx, insertStake,
		st.ID, st.PredictionID, st.OutcomeID, st.Username, st.Amount, st.TxID, st.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create stake %s: %w", st.ID, err)
	}

	// backer_count counts distinct usernames, so it only moves on the user's
	// first stake on this outcome.
	const bumpOutcome = `
		UPDATE outcomes SET
			total_staked = total_staked + $1,
			backer_count = backer_count + CASE WHEN EXISTS (
				SELECT 1 FROM stakes
				WHERE outcome_id = $2 AND username = $3 AND id <> $4
			) THEN 0 ELSE 1 END
		WHERE id = $2`

	if _, err := tx.Exec(ctx, bumpOutcome, st.Amount, st.OutcomeID, st.Username, st.ID); err != nil {
		return fmt.Errorf("postgres: bump outcome pool %s: %w", st.OutcomeID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE predictions SET total_pool = total_pool + $1, updated_at = NOW() WHERE id = $2`,
		st.Amount, st.PredictionID,
	); err != nil {
		return fmt.Errorf("postgres: bump prediction pool %s: %w", st.PredictionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create stake %s: %w", st.ID, err)
	}
	return nil
}

const stakeSelectCols = `id, prediction_id, outcome_id, username, amount, tx_id, payout, refunded, created_at`

func scanStakeFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Stake, error) {
	var st domain.Stake
	err := scanner.Scan(
		&st.ID, &st.PredictionID, &st.OutcomeID, &st.Username,
		&st.Amount, &st.TxID, &st.Payout, &st.Refunded, &st.CreatedAt,
	)
	return st, err
}

// ListByPrediction returns a prediction's stakes in insertion order.
func (s *StakeStore) ListByPrediction(ctx context.Context, predictionID string) ([]domain.Stake, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stakeSelectCols+` FROM stakes WHERE prediction_id = $1 ORDER BY created_at, id`,
		predictionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes for %s: %w", predictionID, err)
	}
	defer rows.Close()

	var stakes []domain.Stake
	for rows.Next() {
		st, err := scanStakeFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stake: %w", err)
		}
		stakes = append(stakes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list stakes rows: %w", err)
	}
	return stakes, nil
}

// ListByUser returns a user's stakes, newest first, with pagination.
func (s *StakeStore) ListByUser(ctx context.Context, username string, opts domain.ListOpts) ([]domain.Stake, error) {
	query := `SELECT ` + stakeSelectCols + ` FROM stakes WHERE username = $1`
	args := []any{username}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list stakes for user %s: %w", username, err)
	}
	defer rows.Close()

	var stakes []domain.Stake
	for rows.Next() {
		st, err := scanStakeFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user stake: %w", err)
		}
		stakes = append(stakes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list user stakes rows: %w", err)
	}
	return stakes, nil
}
