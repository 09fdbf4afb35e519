package app

import (
	"context"
	"fmt"
	"log"

	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/metrics"
)

const (
	defaultReconcileLimit = 100
	maxReconcileLimit     = 500
)

// ReconcileSubmitted polls the network for submitted submissions, oldest first, and
// applies any terminal outcome. Submissions unconfirmed past the settlement timeout are
// rejected with reason settlement_timeout. Per-item failures are counted, not returned.
func (s *Service) ReconcileSubmitted(ctx context.Context, limit int) (*domain.ReconcileResult, error) {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	if limit > maxReconcileLimit {
		limit = maxReconcileLimit
	}

	candidates, err := s.repo.ListSubmittedSubmissions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list submitted submissions: %w", err)
	}

	result := &domain.ReconcileResult{}
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		sub := &candidates[i]
		result.Scanned++

		outcome, verifyErr := s.verify(ctx, sub)
		if verifyErr != nil {
			result.Errors++
			log.Printf("level=warn component=service flow=settlement_reconcile msg=\"verification failed\" submission_id=%s err=%v", sub.ID, verifyErr)
			continue
		}

		switch outcome.Submission.Status {
		case domain.SubmissionStatusSettled:
			result.Settled++
		case domain.SubmissionStatusRejected:
			result.Rejected++
		default:
			if !s.settlementTimedOut(outcome.Submission) {
				result.Pending++
				continue
			}
			if _, rejectErr := s.reject(ctx, outcome.Submission, reasonSettlementTimeout); rejectErr != nil {
				result.Errors++
				log.Printf("level=error component=service flow=settlement_reconcile msg=\"timeout rejection failed\" submission_id=%s err=%v", sub.ID, rejectErr)
				continue
			}
			result.TimedOut++
		}
	}

	metrics.RecordReconcile("settled", result.Settled)
	metrics.RecordReconcile("pending", result.Pending)
	metrics.RecordReconcile("rejected", result.Rejected)
	metrics.RecordReconcile("timed_out", result.TimedOut)
	metrics.RecordReconcile("error", result.Errors)

	if result.Scanned > 0 {
		log.Printf("level=info component=service flow=settlement_reconcile msg=\"sweep finished\" scanned=%d settled=%d pending=%d rejected=%d timed_out=%d errors=%d",
			result.Scanned, result.Settled, result.Pending, result.Rejected, result.TimedOut, result.Errors)
	}
	return result, nil
}

func (s *Service) settlementTimedOut(sub *domain.Submission) bool {
	if s.settlementTimeout <= 0 {
		return false
	}
	since := sub.UpdatedAt
	if sub.SubmittedAt != nil {
		since = *sub.SubmittedAt
	}
	return s.now().Sub(since) > s.settlementTimeout
}
