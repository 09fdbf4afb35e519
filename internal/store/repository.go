/**
 * @description
 * This file defines the interfaces that specify the contract for all data access
 * operations required by the rewards-service. By defining interfaces, we decouple the
 * application's business logic from the specific storage implementation, which lets
 * the same orchestrator run against PostgreSQL in production and the in-memory store
 * in tests and local runs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrBinNotFound            = errors.New("bin not found")
	ErrSubmissionNotFound     = errors.New("submission not found")
	ErrInsufficientBalance    = errors.New("insufficient points balance")
	ErrInvalidAmount          = errors.New("points amount must be positive")
	ErrInvalidLedgerKind      = errors.New("invalid ledger entry kind for operation")
	ErrInvalidStateTransition = errors.New("invalid submission state transition")
)

// Repository is everything the rewards-service needs from storage.
type Repository interface {
	UserDirectory
	BinDirectory
	SubmissionRepository
	LedgerRepository
}

// UserDirectory resolves authenticated identities to internal user ids.
type UserDirectory interface {
	// Resolve internal UUID from Clerk user id (e.g., "user_abc123"), creating the row on first sight.
	FindOrCreateUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error)
}

// BinDirectory is the read-only view of the physical bin network.
type BinDirectory interface {
	FindBinByCode(ctx context.Context, code string) (*domain.Bin, error)
}

// SubmissionRepository persists submissions and guards their state machine.
// Every Mark* method is a conditional update; the returned bool reports whether this
// call performed the transition (false means the row was already in the target terminal state).
type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*domain.Submission, error)
	FindSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error)
	FindSubmissionBySettlementHandle(ctx context.Context, handle domain.SettlementHandle) (*domain.Submission, error)
	ListSubmissionsByUser(ctx context.Context, userID uuid.UUID, opts domain.SubmissionListOptions) (*domain.SubmissionPage, error)
	ListSubmittedSubmissions(ctx context.Context, limit int) ([]domain.Submission, error)
	AttachSettlementHandle(ctx context.Context, submissionID uuid.UUID, handle domain.SettlementHandle) (*domain.Submission, error)
	RecordSubmissionFailure(ctx context.Context, submissionID uuid.UUID, reason string) error
	MarkSubmissionSubmitted(ctx context.Context, submissionID uuid.UUID, handle domain.SettlementHandle) (*domain.Submission, error)
	MarkSubmissionSettled(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, bool, error)
	MarkSubmissionRejected(ctx context.Context, submissionID uuid.UUID, reason string) (*domain.Submission, bool, error)
}

// LedgerRepository owns the points log and the balance aggregates. Each entry and
// the aggregate change it implies are committed together under a per-user lock.
type LedgerRepository interface {
	// CreditPoints appends an earned or bonus entry. Earned entries are unique per
	// submission: a repeated call returns the existing entry and created=false.
	CreditPoints(ctx context.Context, params CreditPointsParams) (entry *domain.LedgerEntry, created bool, err error)
	// DebitPoints appends a redeemed or penalty entry. Penalty entries are unique per
	// submission. A nil entry with created=false means a clamped debit had nothing to take.
	DebitPoints(ctx context.Context, params DebitPointsParams) (entry *domain.LedgerEntry, created bool, err error)
	GetOrCreateBalance(ctx context.Context, userID uuid.UUID) (*domain.Balance, error)
	ListLedgerEntries(ctx context.Context, userID uuid.UUID, opts domain.LedgerListOptions) (*domain.LedgerPage, error)
	ListLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

type CreateSubmissionParams struct {
	UserID         uuid.UUID
	BinID          uuid.UUID
	BinCode        string
	ItemType       string
	Category       domain.WasteCategory
	Quantity       int
	Points         int64
	PricingVersion string
	ImageRef       *string
}

type CreditPointsParams struct {
	UserID       uuid.UUID
	Kind         domain.LedgerEntryKind
	Points       int64
	SubmissionID *uuid.UUID
	Description  string
}

type DebitPointsParams struct {
	UserID       uuid.UUID
	Kind         domain.LedgerEntryKind
	Points       int64
	SubmissionID *uuid.UUID
	Description  string
	// SettlementHandle echoes the submission's handle on clawback entries.
	SettlementHandle *string
	// ClampToAvailable debits min(Points, available) instead of failing.
	ClampToAvailable bool
}

func validateCredit(params CreditPointsParams) error {
	if params.Points <= 0 {
		return ErrInvalidAmount
	}
	if !params.Kind.IsCredit() {
		return ErrInvalidLedgerKind
	}
	return nil
}

func validateDebit(params DebitPointsParams) error {
	if params.Points <= 0 {
		return ErrInvalidAmount
	}
	if params.Kind != domain.LedgerEntryRedeemed && params.Kind != domain.LedgerEntryPenalty {
		return ErrInvalidLedgerKind
	}
	return nil
}

// uniquePerSubmission reports whether at most one entry of kind may reference a submission.
func uniquePerSubmission(kind domain.LedgerEntryKind, submissionID *uuid.UUID) bool {
	if submissionID == nil {
		return false
	}
	return kind == domain.LedgerEntryEarned || kind == domain.LedgerEntryPenalty
}
