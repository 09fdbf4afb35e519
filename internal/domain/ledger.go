package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryKind classifies an entry of the points log.
type LedgerEntryKind string

const (
	LedgerEntryEarned   LedgerEntryKind = "earned"
	LedgerEntryRedeemed LedgerEntryKind = "redeemed"
	LedgerEntryBonus    LedgerEntryKind = "bonus"
	LedgerEntryPenalty  LedgerEntryKind = "penalty"
)

// ParseLedgerEntryKind validates a raw kind string, typically a query filter.
func ParseLedgerEntryKind(raw string) (LedgerEntryKind, bool) {
	switch LedgerEntryKind(raw) {
	case LedgerEntryEarned, LedgerEntryRedeemed, LedgerEntryBonus, LedgerEntryPenalty:
		return LedgerEntryKind(raw), true
	default:
		return "", false
	}
}

// IsCredit reports whether entries of this kind carry a positive delta.
func (k LedgerEntryKind) IsCredit() bool {
	return k == LedgerEntryEarned || k == LedgerEntryBonus
}

// LedgerEntry is one immutable row of the append-only points log.
// This struct maps directly to the `point_transactions` table.
type LedgerEntry struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	SubmissionID     *uuid.UUID      `json:"submission_id,omitempty"`
	Kind             LedgerEntryKind `json:"type"`
	Delta            int64           `json:"points"`
	Description      string          `json:"description"`
	SettlementHandle *string         `json:"settlement_handle,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Balance is the per-user aggregate derived from the log.
// Total and Available equal the signed sum of all deltas; Lifetime sums credits only.
type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	Total     int64     `json:"total_points"`
	Available int64     `json:"available_points"`
	Lifetime  int64     `json:"lifetime_points"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerListOptions controls pagination and filtering of a user's history.
type LedgerListOptions struct {
	Limit  int
	Offset int
	Kind   *LedgerEntryKind
}

// LedgerPage is one page of history, newest first.
type LedgerPage struct {
	Entries    []LedgerEntry `json:"transactions"`
	Pagination Pagination    `json:"pagination"`
}

// LeaderboardEntry ranks users by lifetime points.
type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	UserID         uuid.UUID `json:"user_id"`
	LifetimePoints int64     `json:"lifetime_points"`
	TotalPoints    int64     `json:"total_points"`
}

// RedeemRequest is the payload of a points redemption.
type RedeemRequest struct {
	Points int64 `json:"points"`
}

// BonusGrantRequest is the payload of an internal bonus grant.
type BonusGrantRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	Points      int64     `json:"points"`
	Description string    `json:"description"`
}
