package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/recyclr/rewards-service/internal/domain"
)

const submissionColumns = `id, user_id, bin_id, bin_code, item_type, category, quantity, points,
	pricing_version, image_ref, settlement_handle, status, failure_reason,
	created_at, submitted_at, settled_at, updated_at`

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var sub domain.Submission
	var category, status string
	var handle *string
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.BinID, &sub.BinCode, &sub.ItemType, &category, &sub.Quantity, &sub.Points,
		&sub.PricingVersion, &sub.ImageRef, &handle, &status, &sub.FailureReason,
		&sub.CreatedAt, &sub.SubmittedAt, &sub.SettledAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Category = domain.WasteCategory(category)
	sub.Status = domain.SubmissionStatus(status)
	if handle != nil {
		h := domain.SettlementHandle(*handle)
		sub.SettlementHandle = &h
	}
	return &sub, nil
}

// CreateSubmission inserts a new pending submission.
func (r *PostgresRepository) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*domain.Submission, error) {
	query := `
		INSERT INTO submissions (id, user_id, bin_id, bin_code, item_type, category, quantity, points, pricing_version, image_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')
		RETURNING ` + submissionColumns
	return scanSubmission(r.db.QueryRow(ctx, query,
		uuid.New(), params.UserID, params.BinID, params.BinCode, params.ItemType, string(params.Category),
		params.Quantity, params.Points, params.PricingVersion, params.ImageRef,
	))
}

// FindSubmissionByID retrieves a single submission.
func (r *PostgresRepository) FindSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error) {
	return r.findSubmission(ctx, r.db, submissionID)
}

func (r *PostgresRepository) findSubmission(ctx context.Context, q rowQuerier, submissionID uuid.UUID) (*domain.Submission, error) {
	sub, err := scanSubmission(q.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, submissionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindSubmissionBySettlementHandle looks a submission up by its current handle.
func (r *PostgresRepository) FindSubmissionBySettlementHandle(ctx context.Context, handle domain.SettlementHandle) (*domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE settlement_handle = $1 ORDER BY created_at DESC LIMIT 1`
	sub, err := scanSubmission(r.db.QueryRow(ctx, query, string(handle)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListSubmissionsByUser returns one page of a user's submissions, newest first.
func (r *PostgresRepository) ListSubmissionsByUser(ctx context.Context, userID uuid.UUID, opts domain.SubmissionListOptions) (*domain.SubmissionPage, error) {
	var statusFilter *string
	if opts.Status != nil {
		s := string(*opts.Status)
		statusFilter = &s
	}

	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM submissions
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)`, userID, statusFilter).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, userID, statusFilter, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	submissions := make([]domain.Submission, 0, opts.Limit)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.SubmissionPage{
		Submissions: submissions,
		Pagination:  domain.NewPagination(opts.Limit, opts.Offset, total),
	}, nil
}

// ListSubmittedSubmissions returns submissions awaiting settlement, oldest submission first.
func (r *PostgresRepository) ListSubmittedSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE status = 'submitted'
		ORDER BY submitted_at ASC NULLS FIRST, created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *sub)
	}
	return submissions, rows.Err()
}

// AttachSettlementHandle stores the unsigned payload handle on a pending submission.
func (r *PostgresRepository) AttachSettlementHandle(ctx context.Context, submissionID uuid.UUID, handle domain.SettlementHandle) (*domain.Submission, error) {
	query := `
		UPDATE submissions SET settlement_handle = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + submissionColumns
	sub, _, err := r.transition(ctx, submissionID, domain.SubmissionStatusPending, query, submissionID, string(handle))
	return sub, err
}

// RecordSubmissionFailure notes why the last settlement attempt of a pending submission failed.
func (r *PostgresRepository) RecordSubmissionFailure(ctx context.Context, submissionID uuid.UUID, reason string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE submissions SET failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, submissionID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindSubmissionByID(ctx, submissionID); err != nil {
			return err
		}
	}
	return nil
}

// MarkSubmissionSubmitted moves pending -> submitted and overwrites the handle with the transaction id.
func (r *PostgresRepository) MarkSubmissionSubmitted(ctx context.Context, submissionID uuid.UUID, handle domain.SettlementHandle) (*domain.Submission, error) {
	query := `
		UPDATE submissions
		SET status = 'submitted', settlement_handle = $2, failure_reason = NULL, submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + submissionColumns
	sub, _, err := r.transition(ctx, submissionID, domain.SubmissionStatusSubmitted, query, submissionID, string(handle))
	return sub, err
}

// MarkSubmissionSettled moves submitted -> settled. Settling a settled submission is a no-op.
func (r *PostgresRepository) MarkSubmissionSettled(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, bool, error) {
	query := `
		UPDATE submissions
		SET status = 'settled', settled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'
		RETURNING ` + submissionColumns
	return r.transition(ctx, submissionID, domain.SubmissionStatusSettled, query, submissionID)
}

// MarkSubmissionRejected moves submitted -> rejected. Rejecting a rejected submission is a no-op.
func (r *PostgresRepository) MarkSubmissionRejected(ctx context.Context, submissionID uuid.UUID, reason string) (*domain.Submission, bool, error) {
	query := `
		UPDATE submissions
		SET status = 'rejected', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'
		RETURNING ` + submissionColumns
	return r.transition(ctx, submissionID, domain.SubmissionStatusRejected, query, submissionID, reason)
}

// transition runs a conditional update. When it matches no row the current state is re-read
// to tell a missing submission, an idempotent terminal repeat and an illegal move apart.
func (r *PostgresRepository) transition(ctx context.Context, submissionID uuid.UUID, target domain.SubmissionStatus, query string, args ...any) (*domain.Submission, bool, error) {
	sub, err := scanSubmission(r.db.QueryRow(ctx, query, args...))
	if err == nil {
		return sub, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	current, err := r.findSubmission(ctx, r.db, submissionID)
	if err != nil {
		return nil, false, err
	}
	return resolveMissedTransition(current, target)
}

func resolveMissedTransition(current *domain.Submission, target domain.SubmissionStatus) (*domain.Submission, bool, error) {
	if current.Status == target && target.IsTerminal() {
		return current, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, current.Status, target)
}
