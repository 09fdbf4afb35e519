package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/recyclr/rewards-service/internal/domain"
)

const ledgerEntryColumns = `id, user_id, submission_id, type, points, description, settlement_handle, created_at`

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var kind string
	if err := row.Scan(
		&entry.ID, &entry.UserID, &entry.SubmissionID, &kind, &entry.Delta,
		&entry.Description, &entry.SettlementHandle, &entry.CreatedAt,
	); err != nil {
		return nil, err
	}
	entry.Kind = domain.LedgerEntryKind(kind)
	return &entry, nil
}

// lockBalance creates the aggregate row if needed and locks it for the rest of tx.
// Every ledger write for a user goes through this lock; different users never contend.
func lockBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Balance, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO user_points (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, err
	}

	var balance domain.Balance
	err := tx.QueryRow(ctx, `
		SELECT user_id, total_points, available_points, lifetime_points, updated_at
		FROM user_points WHERE user_id = $1 FOR UPDATE`, userID).Scan(
		&balance.UserID, &balance.Total, &balance.Available, &balance.Lifetime, &balance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func findEntryForSubmission(ctx context.Context, q rowQuerier, submissionID uuid.UUID, kind domain.LedgerEntryKind) (*domain.LedgerEntry, error) {
	entry, err := scanLedgerEntry(q.QueryRow(ctx, `
		SELECT `+ledgerEntryColumns+` FROM point_transactions
		WHERE submission_id = $1 AND type = $2
		LIMIT 1`, submissionID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, userID uuid.UUID, kind domain.LedgerEntryKind, delta int64, submissionID *uuid.UUID, description string, handle *string) (*domain.LedgerEntry, error) {
	return scanLedgerEntry(tx.QueryRow(ctx, `
		INSERT INTO point_transactions (id, user_id, submission_id, type, points, description, settlement_handle)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+ledgerEntryColumns,
		uuid.New(), userID, submissionID, string(kind), delta, description, handle,
	))
}

// CreditPoints performs an atomic credit: one log entry plus the aggregate update.
func (r *PostgresRepository) CreditPoints(ctx context.Context, params CreditPointsParams) (*domain.LedgerEntry, bool, error) {
	if err := validateCredit(params); err != nil {
		return nil, false, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockBalance(ctx, tx, params.UserID); err != nil {
		return nil, false, err
	}

	if uniquePerSubmission(params.Kind, params.SubmissionID) {
		existing, err := findEntryForSubmission(ctx, tx, *params.SubmissionID, params.Kind)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	entry, err := insertLedgerEntry(ctx, tx, params.UserID, params.Kind, params.Points, params.SubmissionID, params.Description, nil)
	if err != nil {
		return nil, false, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE user_points
		SET total_points = total_points + $1,
			available_points = available_points + $1,
			lifetime_points = lifetime_points + $1,
			updated_at = NOW()
		WHERE user_id = $2`, params.Points, params.UserID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// DebitPoints performs an atomic debit. The available balance is checked under the row lock.
func (r *PostgresRepository) DebitPoints(ctx context.Context, params DebitPointsParams) (*domain.LedgerEntry, bool, error) {
	if err := validateDebit(params); err != nil {
		return nil, false, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	balance, err := lockBalance(ctx, tx, params.UserID)
	if err != nil {
		return nil, false, err
	}

	if uniquePerSubmission(params.Kind, params.SubmissionID) {
		existing, err := findEntryForSubmission(ctx, tx, *params.SubmissionID, params.Kind)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	amount, err := debitAmount(balance.Available, params)
	if err != nil || amount == 0 {
		return nil, false, err
	}

	entry, err := insertLedgerEntry(ctx, tx, params.UserID, params.Kind, -amount, params.SubmissionID, params.Description, params.SettlementHandle)
	if err != nil {
		return nil, false, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE user_points
		SET total_points = total_points - $1,
			available_points = available_points - $1,
			updated_at = NOW()
		WHERE user_id = $2`, amount, params.UserID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func debitAmount(available int64, params DebitPointsParams) (int64, error) {
	if available >= params.Points {
		return params.Points, nil
	}
	if !params.ClampToAvailable {
		return 0, ErrInsufficientBalance
	}
	if available < 0 {
		return 0, nil
	}
	return available, nil
}

// GetOrCreateBalance returns the user's aggregate, creating a zeroed one if absent.
func (r *PostgresRepository) GetOrCreateBalance(ctx context.Context, userID uuid.UUID) (*domain.Balance, error) {
	if _, err := r.db.Exec(ctx, `INSERT INTO user_points (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, err
	}

	var balance domain.Balance
	err := r.db.QueryRow(ctx, `
		SELECT user_id, total_points, available_points, lifetime_points, updated_at
		FROM user_points WHERE user_id = $1`, userID).Scan(
		&balance.UserID, &balance.Total, &balance.Available, &balance.Lifetime, &balance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// ListLedgerEntries returns one page of the user's log, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, userID uuid.UUID, opts domain.LedgerListOptions) (*domain.LedgerPage, error) {
	var kindFilter *string
	if opts.Kind != nil {
		k := string(*opts.Kind)
		kindFilter = &k
	}

	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM point_transactions
		WHERE user_id = $1 AND ($2::text IS NULL OR type = $2)`, userID, kindFilter).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+ledgerEntryColumns+` FROM point_transactions
		WHERE user_id = $1 AND ($2::text IS NULL OR type = $2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3 OFFSET $4`, userID, kindFilter, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, opts.Limit)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.LedgerPage{
		Entries:    entries,
		Pagination: domain.NewPagination(opts.Limit, opts.Offset, total),
	}, nil
}

// ListLeaderboard ranks users with any lifetime points, highest first.
func (r *PostgresRepository) ListLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, lifetime_points, total_points FROM user_points
		WHERE lifetime_points > 0
		ORDER BY lifetime_points DESC, user_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.UserID, &entry.LifetimePoints, &entry.TotalPoints); err != nil {
			return nil, err
		}
		entry.Rank = len(entries) + 1
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
