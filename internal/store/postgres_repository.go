/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Users and bins live here; submissions and the points ledger are split into
 * postgres_submissions.go and postgres_ledger.go.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/recyclr/rewards-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// rowQuerier is satisfied by both the pool and an open transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FindOrCreateUserIDByClerkUserID resolves the internal UUID from a Clerk user id.
func (r *PostgresRepository) FindOrCreateUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	clerkUserID = strings.TrimSpace(clerkUserID)
	if clerkUserID == "" {
		return uuid.Nil, ErrUserNotFound
	}

	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE clerk_user_id = $1", clerkUserID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	// The no-op update makes RETURNING yield the row even when a concurrent request inserted it first.
	err = r.db.QueryRow(ctx, `
		INSERT INTO users (clerk_user_id) VALUES ($1)
		ON CONFLICT (clerk_user_id) DO UPDATE SET clerk_user_id = EXCLUDED.clerk_user_id
		RETURNING id`, clerkUserID).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FindBinByCode retrieves a bin by its printed code.
func (r *PostgresRepository) FindBinByCode(ctx context.Context, code string) (*domain.Bin, error) {
	var bin domain.Bin
	var status string
	query := `SELECT id, code, name, latitude, longitude, accepted_item_types, status FROM bins WHERE code = $1`
	err := r.db.QueryRow(ctx, query, strings.TrimSpace(code)).Scan(
		&bin.ID, &bin.Code, &bin.Name, &bin.Latitude, &bin.Longitude, &bin.AcceptedItemTypes, &status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBinNotFound
		}
		return nil, err
	}
	bin.Status = domain.BinStatus(status)
	return &bin, nil
}

// UpsertBin inserts or replaces a bin keyed by code. Used to seed the bin directory.
func (r *PostgresRepository) UpsertBin(ctx context.Context, bin domain.Bin) error {
	if bin.ID == uuid.Nil {
		bin.ID = uuid.New()
	}
	if bin.Status == "" {
		bin.Status = domain.BinStatusActive
	}
	if bin.AcceptedItemTypes == nil {
		bin.AcceptedItemTypes = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO bins (id, code, name, latitude, longitude, accepted_item_types, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			accepted_item_types = EXCLUDED.accepted_item_types,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		bin.ID, strings.TrimSpace(bin.Code), bin.Name, bin.Latitude, bin.Longitude, bin.AcceptedItemTypes, string(bin.Status),
	)
	return err
}
