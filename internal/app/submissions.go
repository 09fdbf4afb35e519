package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/metrics"
	"github.com/recyclr/rewards-service/internal/pricing"
	"github.com/recyclr/rewards-service/internal/store"
)

type submissionInput struct {
	binCode  string
	itemType string
	category domain.WasteCategory
	quantity int
	imageRef *string
}

// CreateSubmission records a deposit: it prices the item, persists a pending submission,
// awards the points provisionally and builds the unsigned settlement payload.
//
// When payload construction fails the submission and its award are kept and the receipt is
// returned together with an error wrapping ErrPayloadBuildFailed; RebuildPayload retries.
func (s *Service) CreateSubmission(ctx context.Context, userID uuid.UUID, req domain.CreateSubmissionRequest) (*domain.SubmissionReceipt, error) {
	if err := s.checkSubmissionRateLimit(ctx, userID); err != nil {
		return nil, err
	}

	input, err := validateSubmission(req)
	if err != nil {
		return nil, err
	}

	bin, err := s.repo.FindBinByCode(ctx, input.binCode)
	if err != nil {
		if errors.Is(err, store.ErrBinNotFound) {
			return nil, fmt.Errorf("bin %q: %w", input.binCode, store.ErrBinNotFound)
		}
		return nil, fmt.Errorf("lookup bin: %w", err)
	}
	if bin.Status != domain.BinStatusActive {
		return nil, fmt.Errorf("bin %q is %s: %w", input.binCode, bin.Status, store.ErrBinNotFound)
	}
	if !bin.Accepts(input.itemType) {
		return nil, fmt.Errorf("bin %q, item %q: %w", bin.Code, input.itemType, ErrItemNotAccepted)
	}
	if !s.pricing.Supports(input.itemType) {
		return nil, fmt.Errorf("item %q: %w", input.itemType, ErrUnsupportedItem)
	}

	points, err := s.pricing.Points(input.category, input.itemType, input.quantity)
	if err != nil {
		return nil, fmt.Errorf("price submission: %w", err)
	}

	sub, err := s.repo.CreateSubmission(ctx, store.CreateSubmissionParams{
		UserID:         userID,
		BinID:          bin.ID,
		BinCode:        bin.Code,
		ItemType:       input.itemType,
		Category:       input.category,
		Quantity:       input.quantity,
		Points:         points,
		PricingVersion: s.pricing.Version,
		ImageRef:       input.imageRef,
	})
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	metrics.RecordSubmissionCreated(string(sub.Category))
	log.Printf("level=info component=service msg=\"submission created\" submission_id=%s user_id=%s bin=%s item_type=%s quantity=%d points=%d", sub.ID, userID, bin.Code, sub.ItemType, sub.Quantity, points)

	receipt := &domain.SubmissionReceipt{Submission: sub}

	if points > 0 {
		award, _, awardErr := s.ledger.Award(ctx, userID, points, sub.ID, awardDescription)
		if awardErr != nil {
			log.Printf("level=error component=service msg=\"provisional award failed\" submission_id=%s err=%v", sub.ID, awardErr)
			return receipt, awardErr
		}
		receipt.Award = award
	}

	s.events.submission(ctx, RoutingKeySubmissionCreated, sub, nil)

	payload, updated, err := s.buildAndAttachPayload(ctx, sub)
	if err != nil {
		log.Printf("level=warn component=service msg=\"payload build failed; submission left pending\" submission_id=%s err=%v", sub.ID, err)
		return receipt, err
	}
	receipt.Submission = updated
	receipt.Payload = payload
	return receipt, nil
}

// RebuildPayload retries payload construction for a pending submission. The award is
// re-ensured idempotently, so it is never granted twice.
func (s *Service) RebuildPayload(ctx context.Context, userID, submissionID uuid.UUID) (*domain.SubmissionReceipt, error) {
	sub, err := s.ownedSubmission(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.SubmissionStatusPending {
		return nil, fmt.Errorf("%w: payload can only be built for pending submissions (status %s)", store.ErrInvalidStateTransition, sub.Status)
	}

	receipt := &domain.SubmissionReceipt{Submission: sub}
	if sub.Points > 0 {
		award, _, awardErr := s.ledger.Award(ctx, sub.UserID, sub.Points, sub.ID, awardDescription)
		if awardErr != nil {
			return receipt, awardErr
		}
		receipt.Award = award
	}

	payload, updated, err := s.buildAndAttachPayload(ctx, sub)
	if err != nil {
		return receipt, err
	}
	receipt.Submission = updated
	receipt.Payload = payload
	return receipt, nil
}

func (s *Service) buildAndAttachPayload(ctx context.Context, sub *domain.Submission) (*domain.SettlementPayload, *domain.Submission, error) {
	start := time.Now()
	payload, err := s.gateway.BuildPayload(ctx, *sub)
	if err != nil {
		metrics.RecordSettlementCall("build_payload", "error", time.Since(start))
		return nil, nil, fmt.Errorf("%w: %w", ErrPayloadBuildFailed, err)
	}
	metrics.RecordSettlementCall("build_payload", "ok", time.Since(start))

	updated, err := s.repo.AttachSettlementHandle(ctx, sub.ID, payload.Handle)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: attach handle: %w", ErrPayloadBuildFailed, err)
	}
	return payload, updated, nil
}

func (s *Service) checkSubmissionRateLimit(ctx context.Context, userID uuid.UUID) error {
	if s.rateLimiter == nil || s.submissionRateLimitPerMinute <= 0 {
		return nil
	}

	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, submissionRateLimitScope, userID.String(), s.submissionRateLimitPerMinute, time.Minute)
	if err != nil {
		// Fail open: an unavailable limiter must not block deposits.
		log.Printf("level=warn component=service msg=\"submission rate limiter unavailable\" user_id=%s err=%v", userID, err)
		return nil
	}
	if count > s.submissionRateLimitPerMinute {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func validateSubmission(req domain.CreateSubmissionRequest) (submissionInput, error) {
	input := submissionInput{
		binCode:  strings.TrimSpace(req.BinCode),
		itemType: normalizeItemType(req.ItemType),
		quantity: 1,
	}

	if input.binCode == "" {
		return input, newValidationError("bin_code", "is required")
	}
	if input.itemType == "" {
		return input, newValidationError("item_type", "is required")
	}
	category, ok := domain.ParseWasteCategory(req.Category)
	if !ok {
		return input, newValidationError("category", "must be one of standard, battery, hazardous")
	}
	input.category = category

	if req.Quantity != nil {
		if *req.Quantity <= 0 {
			return input, newValidationError("quantity", "must be a positive integer")
		}
		if *req.Quantity > pricing.MaxQuantity {
			return input, newValidationError("quantity", fmt.Sprintf("must not exceed %d", pricing.MaxQuantity))
		}
		input.quantity = *req.Quantity
	}

	if req.ImageRef != nil {
		if ref := strings.TrimSpace(*req.ImageRef); ref != "" {
			input.imageRef = &ref
		}
	}
	return input, nil
}

func normalizeItemType(itemType string) string {
	return strings.ToLower(strings.TrimSpace(itemType))
}
