/**
 * @description
 * This file defines the core domain models for the rewards-service.
 * These structs represent the main entities used by the submission pipeline,
 * the points ledger, the database layer and the API handlers.
 *
 * @notes
 * - Points are stored as `int64` whole units; the pricing table floors
 *   fractional results before anything is persisted.
 * - A submission's status and its settlement handle are separate fields. The
 *   handle never encodes state.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus is the lifecycle state of a waste-disposal claim.
type SubmissionStatus string

const (
	SubmissionStatusPending   SubmissionStatus = "pending"
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	SubmissionStatusSettled   SubmissionStatus = "settled"
	SubmissionStatusRejected  SubmissionStatus = "rejected"
)

// WasteCategory groups item types for pricing.
type WasteCategory string

const (
	CategoryStandard  WasteCategory = "standard"
	CategoryBattery   WasteCategory = "battery"
	CategoryHazardous WasteCategory = "hazardous"
)

// ParseWasteCategory validates a raw category string.
func ParseWasteCategory(raw string) (WasteCategory, bool) {
	switch WasteCategory(raw) {
	case CategoryStandard, CategoryBattery, CategoryHazardous:
		return WasteCategory(raw), true
	default:
		return "", false
	}
}

// ParseSubmissionStatus validates a raw status string, typically a query filter.
func ParseSubmissionStatus(raw string) (SubmissionStatus, bool) {
	switch SubmissionStatus(raw) {
	case SubmissionStatusPending, SubmissionStatusSubmitted, SubmissionStatusSettled, SubmissionStatusRejected:
		return SubmissionStatus(raw), true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionStatusSettled || s == SubmissionStatusRejected
}

// CanTransition reports whether moving from one status to another is a legal step
// of pending -> submitted -> settled | rejected.
func CanTransition(from, to SubmissionStatus) bool {
	switch from {
	case SubmissionStatusPending:
		return to == SubmissionStatusSubmitted
	case SubmissionStatusSubmitted:
		return to == SubmissionStatusSettled || to == SubmissionStatusRejected
	default:
		return false
	}
}

// SettlementHandle is the opaque identifier issued by the settlement network. Before
// submission it identifies the unsigned payload; afterwards, the submitted transaction.
type SettlementHandle string

func (h SettlementHandle) String() string { return string(h) }

// Submission is one user's claim of having deposited an item into a bin.
// This struct maps directly to the `submissions` table.
type Submission struct {
	ID               uuid.UUID         `json:"id"`
	UserID           uuid.UUID         `json:"user_id"`
	BinID            uuid.UUID         `json:"bin_id"`
	BinCode          string            `json:"bin_code"`
	ItemType         string            `json:"item_type"`
	Category         WasteCategory     `json:"category"`
	Quantity         int               `json:"quantity"`
	Points           int64             `json:"points"`
	PricingVersion   string            `json:"pricing_version"`
	ImageRef         *string           `json:"image_ref,omitempty"`
	SettlementHandle *SettlementHandle `json:"settlement_handle,omitempty"`
	Status           SubmissionStatus  `json:"status"`
	FailureReason    *string           `json:"failure_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	SubmittedAt      *time.Time        `json:"submitted_at,omitempty"`
	SettledAt        *time.Time        `json:"settled_at,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CreateSubmissionRequest is the input of the orchestrator's create entry point.
// Quantity is optional and defaults to one.
type CreateSubmissionRequest struct {
	BinCode  string  `json:"bin_code"`
	ItemType string  `json:"item_type"`
	Category string  `json:"category"`
	Quantity *int    `json:"quantity,omitempty"`
	ImageRef *string `json:"image_ref,omitempty"`
}

// SubmitTransactionRequest carries the externally signed settlement payload.
type SubmitTransactionRequest struct {
	SignedPayload string `json:"signed_payload"`
}

// SubmissionReceipt is returned by submission creation: the persisted submission,
// the provisional ledger entry and the unsigned payload to be signed out of band.
type SubmissionReceipt struct {
	Submission *Submission        `json:"submission"`
	Award      *LedgerEntry       `json:"award,omitempty"`
	Payload    *SettlementPayload `json:"payload,omitempty"`
}

// VerificationResult reports the outcome of one verification attempt.
type VerificationResult struct {
	Submission *Submission `json:"submission"`
	Confirmed  bool        `json:"confirmed"`
}

// SubmissionListOptions controls pagination and filtering of a user's submissions.
type SubmissionListOptions struct {
	Limit  int
	Offset int
	Status *SubmissionStatus
}

// Pagination mirrors the page metadata returned by list endpoints.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewPagination derives page metadata from a limit/offset window and a row count.
func NewPagination(limit, offset int, total int64) Pagination {
	if limit <= 0 {
		limit = 1
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return Pagination{
		Page:       offset/limit + 1,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// SubmissionPage is one page of submissions.
type SubmissionPage struct {
	Submissions []Submission `json:"submissions"`
	Pagination  Pagination   `json:"pagination"`
}

// ReconcileResult summarizes one reconciliation sweep over submitted submissions.
type ReconcileResult struct {
	Scanned  int `json:"scanned"`
	Settled  int `json:"settled"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
	TimedOut int `json:"timed_out"`
	Errors   int `json:"errors"`
}
