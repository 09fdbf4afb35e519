package domain

import (
	"time"

	"github.com/google/uuid"
)

// SettlementPayload is the unsigned transaction built for one submission. It is handed
// to the external signer and comes back as an opaque signed string.
type SettlementPayload struct {
	Handle         SettlementHandle `json:"handle"`
	PayloadHex     string           `json:"payload_hex"`
	Network        string           `json:"network"`
	PricingVersion string           `json:"pricing_version"`
}

// SettlementResult is the settlement network's answer to a submit call.
// Success=false is an explicit refusal; transport failures are returned as errors instead.
type SettlementResult struct {
	Handle  SettlementHandle `json:"handle"`
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
}

// SettlementStatusEvent is the message emitted by the settlement watcher when a
// submitted transaction changes state on the network.
type SettlementStatusEvent struct {
	EventID    string    `json:"event_id"`
	Handle     string    `json:"handle"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	Network    string    `json:"network"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SubmissionEvent is published on every submission lifecycle change.
type SubmissionEvent struct {
	SubmissionID     uuid.UUID        `json:"submission_id"`
	UserID           uuid.UUID        `json:"user_id"`
	Status           SubmissionStatus `json:"status"`
	ItemType         string           `json:"item_type"`
	Category         WasteCategory    `json:"category"`
	Points           int64            `json:"points"`
	SettlementHandle *string          `json:"settlement_handle,omitempty"`
	Reason           *string          `json:"reason,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// PointsEvent is published for every ledger entry the service writes.
type PointsEvent struct {
	EntryID      uuid.UUID       `json:"entry_id"`
	UserID       uuid.UUID       `json:"user_id"`
	Kind         LedgerEntryKind `json:"type"`
	Delta        int64           `json:"points"`
	SubmissionID *uuid.UUID      `json:"submission_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}
