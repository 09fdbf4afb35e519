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
	"github.com/recyclr/rewards-service/internal/store"
)

const reasonSettlementTimeout = "settlement_timeout"

// SubmitSignedPayload relays an externally signed payload and moves the submission to
// submitted. Refusals and transport failures leave the submission pending with the
// failure recorded, so the user may sign and submit again. The ledger is not touched.
func (s *Service) SubmitSignedPayload(ctx context.Context, userID, submissionID uuid.UUID, signedPayload string) (*domain.Submission, error) {
	signedPayload = strings.TrimSpace(signedPayload)
	if signedPayload == "" {
		return nil, newValidationError("signed_payload", "is required")
	}

	sub, err := s.ownedSubmission(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	if err := ensureTransition(sub, domain.SubmissionStatusSubmitted); err != nil {
		return nil, err
	}
	if sub.SettlementHandle == nil {
		return nil, ErrPayloadNotBuilt
	}

	start := time.Now()
	result, err := s.gateway.Submit(ctx, signedPayload)
	if err != nil {
		metrics.RecordSettlementCall("submit", "transport_error", time.Since(start))
		s.recordFailure(ctx, sub.ID, "transport: "+err.Error())
		log.Printf("level=warn component=service msg=\"settlement submit failed\" submission_id=%s err=%v", sub.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrSettlementTransport, err)
	}
	if !result.Success {
		metrics.RecordSettlementCall("submit", "refused", time.Since(start))
		reason := strings.TrimSpace(result.Error)
		if reason == "" {
			reason = "refused"
		}
		s.recordFailure(ctx, sub.ID, reason)
		log.Printf("level=warn component=service msg=\"settlement submit refused\" submission_id=%s reason=%q", sub.ID, reason)
		return nil, fmt.Errorf("%w: %s", ErrSubmitRefused, reason)
	}
	metrics.RecordSettlementCall("submit", "ok", time.Since(start))

	handle := result.Handle
	if strings.TrimSpace(handle.String()) == "" {
		handle = *sub.SettlementHandle
	}

	updated, err := s.repo.MarkSubmissionSubmitted(ctx, sub.ID, handle)
	if err != nil {
		// The network accepted the transaction but we could not persist it; the
		// settlement consumer will not find the new handle, so surface the failure.
		log.Printf("level=error component=service msg=\"submitted transaction not persisted\" submission_id=%s handle=%s err=%v", sub.ID, handle, err)
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	metrics.RecordTransition(string(domain.SubmissionStatusSubmitted))
	s.events.submission(ctx, RoutingKeySubmissionSubmitted, updated, nil)
	log.Printf("level=info component=service msg=\"submission submitted\" submission_id=%s handle=%s", updated.ID, handle)
	return updated, nil
}

// VerifySubmission asks the network whether a submitted transaction is confirmed and
// applies the outcome. Pending and rejected submissions report false without a call.
func (s *Service) VerifySubmission(ctx context.Context, userID, submissionID uuid.UUID) (*domain.VerificationResult, error) {
	sub, err := s.ownedSubmission(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, sub)
}

// ForceVerifySubmission settles a submitted submission without asking the network.
// It is an operator override reachable only through internal routes.
func (s *Service) ForceVerifySubmission(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error) {
	sub, err := s.repo.FindSubmissionByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubmissionStatusSettled {
		return sub, nil
	}
	if err := ensureTransition(sub, domain.SubmissionStatusSettled); err != nil {
		return nil, err
	}
	log.Printf("level=warn component=service msg=\"force verifying submission\" submission_id=%s", sub.ID)
	return s.settle(ctx, sub)
}

func (s *Service) verify(ctx context.Context, sub *domain.Submission) (*domain.VerificationResult, error) {
	switch sub.Status {
	case domain.SubmissionStatusSettled:
		return &domain.VerificationResult{Submission: sub, Confirmed: true}, nil
	case domain.SubmissionStatusSubmitted:
	default:
		return &domain.VerificationResult{Submission: sub, Confirmed: false}, nil
	}
	if sub.SettlementHandle == nil {
		return nil, fmt.Errorf("submission %s is submitted without a settlement handle", sub.ID)
	}

	start := time.Now()
	confirmed, err := s.gateway.Verify(ctx, *sub.SettlementHandle)
	if err != nil {
		if _, ok := asExplicitRejection(err); ok {
			metrics.RecordSettlementCall("verify", "rejected", time.Since(start))
			rejected, rejectErr := s.reject(ctx, sub, rejectionReason(err))
			if rejectErr != nil {
				return nil, rejectErr
			}
			return &domain.VerificationResult{Submission: rejected, Confirmed: false}, nil
		}
		metrics.RecordSettlementCall("verify", "transport_error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrSettlementTransport, err)
	}
	metrics.RecordSettlementCall("verify", "ok", time.Since(start))

	if !confirmed {
		return &domain.VerificationResult{Submission: sub, Confirmed: false}, nil
	}

	settled, err := s.settle(ctx, sub)
	if err != nil {
		return nil, err
	}
	return &domain.VerificationResult{Submission: settled, Confirmed: settled.Status == domain.SubmissionStatusSettled}, nil
}

// settle moves a submission to settled. A concurrent settle is a no-op.
func (s *Service) settle(ctx context.Context, sub *domain.Submission) (*domain.Submission, error) {
	updated, changed, err := s.repo.MarkSubmissionSettled(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("mark settled: %w", err)
	}
	if changed {
		metrics.RecordTransition(string(domain.SubmissionStatusSettled))
		s.events.submission(ctx, RoutingKeySubmissionSettled, updated, nil)
		log.Printf("level=info component=service msg=\"submission settled\" submission_id=%s", updated.ID)
	}
	return updated, nil
}

// reject moves a submission to rejected and, when the clawback policy is enabled,
// reverses its award. The clawback is idempotent, so a replay repairs a previous
// attempt that failed after the status change.
func (s *Service) reject(ctx context.Context, sub *domain.Submission, reason string) (*domain.Submission, error) {
	updated, changed, err := s.repo.MarkSubmissionRejected(ctx, sub.ID, reason)
	if err != nil {
		return nil, fmt.Errorf("mark rejected: %w", err)
	}
	if changed {
		metrics.RecordTransition(string(domain.SubmissionStatusRejected))
		s.events.submission(ctx, RoutingKeySubmissionRejected, updated, &reason)
		log.Printf("level=warn component=service msg=\"submission rejected\" submission_id=%s reason=%q", updated.ID, reason)
	}

	if s.clawbackOnReject && updated.Points > 0 {
		if _, err := s.ledger.Penalize(ctx, updated.UserID, updated.ID, updated.SettlementHandle, updated.Points, penaltyDescription); err != nil {
			return nil, fmt.Errorf("%w: clawback: %w", ErrSettlementRejected, err)
		}
	}
	return updated, nil
}

func (s *Service) recordFailure(ctx context.Context, submissionID uuid.UUID, reason string) {
	if err := s.repo.RecordSubmissionFailure(ctx, submissionID, reason); err != nil && !errors.Is(err, store.ErrSubmissionNotFound) {
		log.Printf("level=warn component=service msg=\"failed to record submission failure\" submission_id=%s err=%v", submissionID, err)
	}
}
