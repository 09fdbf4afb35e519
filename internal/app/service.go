/**
 * @description
 * This file contains the core business logic for the rewards-service. The `Service`
 * struct orchestrates the submission-to-settlement pipeline, coordinating between the
 * database repository, the pricing table, the settlement network client, and the
 * message broker.
 *
 * Key features:
 * - Turns a bin deposit into a priced, persisted submission with a provisional award.
 * - Drives submissions through pending -> submitted -> settled | rejected.
 * - Owns the points ledger facade used by the wallet endpoints.
 * - Publishes lifecycle events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store, internal/pricing: For models, data access and pricing.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/pricing"
	"github.com/recyclr/rewards-service/internal/store"
	"github.com/recyclr/rewards-service/pkg/rabbitmq"
)

const (
	DefaultEventsExchange = "recycling.events"

	defaultSubmissionRateLimitPerMinute = 30
	submissionRateLimitScope            = "submission_create"
)

// SettlementGateway is the settlement network as seen by the orchestrator.
type SettlementGateway interface {
	// BuildPayload constructs the unsigned transaction for a submission without I/O.
	BuildPayload(ctx context.Context, sub domain.Submission) (*domain.SettlementPayload, error)
	// Submit relays a signed payload. An error means the outcome is unknown.
	Submit(ctx context.Context, signedPayload string) (*domain.SettlementResult, error)
	// Verify reports whether handle is confirmed. Explicit refusals are returned as
	// errors implementing IsExplicitRejection.
	Verify(ctx context.Context, handle domain.SettlementHandle) (bool, error)
}

// SubmissionRateLimiter counts requests per subject within a fixed window.
type SubmissionRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for submissions and points.
type Service struct {
	repo    store.Repository
	pricing *pricing.Table
	gateway SettlementGateway
	events  *eventPublisher
	ledger  *Ledger

	rateLimiter                  SubmissionRateLimiter
	submissionRateLimitPerMinute int

	settlementTimeout time.Duration
	clawbackOnReject  bool

	now func() time.Time
}

// NewService creates a new rewards service instance.
func NewService(repo store.Repository, table *pricing.Table, gateway SettlementGateway, producer rabbitmq.Publisher, eventsExchange string) *Service {
	if table == nil {
		table = pricing.DefaultTable()
	}
	events := newEventPublisher(producer, eventsExchange)
	return &Service{
		repo:                         repo,
		pricing:                      table,
		gateway:                      gateway,
		events:                       events,
		ledger:                       NewLedger(repo, events),
		submissionRateLimitPerMinute: defaultSubmissionRateLimitPerMinute,
		now:                          time.Now,
	}
}

// ConfigureSettlementPolicy sets how long a submitted transaction may stay unconfirmed
// before the sweep rejects it (0 disables the timeout), and whether a rejection claws
// back the provisional award.
func (s *Service) ConfigureSettlementPolicy(timeout time.Duration, clawbackOnReject bool) {
	if timeout < 0 {
		timeout = 0
	}
	s.settlementTimeout = timeout
	s.clawbackOnReject = clawbackOnReject
}

// SetSubmissionRateLimiter enables per-user limiting of submission creation.
func (s *Service) SetSubmissionRateLimiter(limiter SubmissionRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	if perMinute > 0 {
		s.submissionRateLimitPerMinute = perMinute
	}
}

// Ledger exposes the points ledger.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// Pricing exposes the active pricing table.
func (s *Service) Pricing() *pricing.Table {
	return s.pricing
}

// ResolveInternalUserID converts a Clerk user id string (e.g., "user_abc123") into the
// internal UUID used by our database, registering the user on first sight.
func (s *Service) ResolveInternalUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	return s.repo.FindOrCreateUserIDByClerkUserID(ctx, clerkUserID)
}

// QuotePoints prices a hypothetical item without persisting anything.
func (s *Service) QuotePoints(itemType, category string, quantity int) (int64, error) {
	itemType = normalizeItemType(itemType)
	if itemType == "" {
		return 0, newValidationError("item_type", "is required")
	}
	cat, ok := domain.ParseWasteCategory(category)
	if !ok {
		return 0, newValidationError("category", "must be one of standard, battery, hazardous")
	}
	if quantity <= 0 {
		return 0, newValidationError("quantity", "must be a positive integer")
	}
	if quantity > pricing.MaxQuantity {
		return 0, newValidationError("quantity", fmt.Sprintf("must not exceed %d", pricing.MaxQuantity))
	}
	return s.pricing.Points(cat, itemType, quantity)
}
