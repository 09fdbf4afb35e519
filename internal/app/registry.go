package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/store"
)

const (
	defaultSubmissionPageSize = 20
	maxSubmissionPageSize     = 100
)

// GetSubmission returns a submission owned by userID. Submissions of other users are
// reported as not found.
func (s *Service) GetSubmission(ctx context.Context, userID, submissionID uuid.UUID) (*domain.Submission, error) {
	return s.ownedSubmission(ctx, userID, submissionID)
}

// ListSubmissions returns one page of a user's submissions, newest first.
func (s *Service) ListSubmissions(ctx context.Context, userID uuid.UUID, page, pageSize int, status string) (*domain.SubmissionPage, error) {
	limit, offset := pageWindow(page, pageSize, defaultSubmissionPageSize, maxSubmissionPageSize)
	opts := domain.SubmissionListOptions{Limit: limit, Offset: offset}

	if strings.TrimSpace(status) != "" {
		parsed, ok := domain.ParseSubmissionStatus(status)
		if !ok {
			return nil, newValidationError("status", "must be one of pending, submitted, settled, rejected")
		}
		opts.Status = &parsed
	}

	return s.repo.ListSubmissionsByUser(ctx, userID, opts)
}

func (s *Service) ownedSubmission(ctx context.Context, userID, submissionID uuid.UUID) (*domain.Submission, error) {
	sub, err := s.repo.FindSubmissionByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, store.ErrSubmissionNotFound
	}
	return sub, nil
}

// ensureTransition rejects moves the state machine does not allow.
func ensureTransition(sub *domain.Submission, to domain.SubmissionStatus) error {
	if !domain.CanTransition(sub.Status, to) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidStateTransition, sub.Status, to)
	}
	return nil
}
