package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/store"
)

func TestReconcileSettlesConfirmedSubmissions(t *testing.T) {
	h := newTestHarness(t)
	first := h.submitted(t)
	second := h.submitted(t)
	h.createSubmission(t, "laptop", "standard", 1)

	h.gateway.verifyConfirmed = true
	result, err := h.service.ReconcileSubmitted(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected reconcile to succeed, got %v", err)
	}
	if result.Scanned != 2 || result.Settled != 2 || result.Errors != 0 {
		t.Fatalf("expected 2 scanned and settled, got %+v", result)
	}

	for _, submitted := range []*domain.Submission{first, second} {
		sub, _ := h.service.GetSubmission(context.Background(), h.userID, submitted.ID)
		if sub.Status != domain.SubmissionStatusSettled {
			t.Fatalf("expected %s settled, got %s", sub.ID, sub.Status)
		}
	}

	again, err := h.service.ReconcileSubmitted(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected second sweep to succeed, got %v", err)
	}
	if again.Scanned != 0 {
		t.Fatalf("expected nothing left to scan, got %d", again.Scanned)
	}
}

func TestReconcileCountsPendingAndErrors(t *testing.T) {
	h := newTestHarness(t)
	h.submitted(t)

	result, err := h.service.ReconcileSubmitted(context.Background(), 10)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Pending != 1 {
		t.Fatalf("expected 1 still pending, got %+v", result)
	}

	h.gateway.verifyErr = errTransport
	result, err = h.service.ReconcileSubmitted(context.Background(), 10)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Errors != 1 || result.Pending != 0 {
		t.Fatalf("expected 1 error, got %+v", result)
	}
}

func TestReconcileRejectsTimedOutSubmissions(t *testing.T) {
	h := newTestHarness(t)
	h.service.ConfigureSettlementPolicy(30*time.Minute, false)
	sub := h.submitted(t)

	h.service.now = func() time.Time { return time.Now().Add(time.Hour) }
	result, err := h.service.ReconcileSubmitted(context.Background(), 10)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.TimedOut != 1 {
		t.Fatalf("expected 1 timed out, got %+v", result)
	}

	current, _ := h.service.GetSubmission(context.Background(), h.userID, sub.ID)
	if current.Status != domain.SubmissionStatusRejected {
		t.Fatalf("expected rejected, got %s", current.Status)
	}
	if current.FailureReason == nil || *current.FailureReason != reasonSettlementTimeout {
		t.Fatalf("expected settlement_timeout reason, got %v", current.FailureReason)
	}
}

func TestReconcileAppliesExplicitRejection(t *testing.T) {
	h := newTestHarness(t)
	h.submitted(t)
	h.gateway.verifyErr = &rejectionErr{reason: "transaction_failed"}

	result, err := h.service.ReconcileSubmitted(context.Background(), 10)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if result.Rejected != 1 {
		t.Fatalf("expected 1 rejected, got %+v", result)
	}
}

type listFailingRepo struct {
	store.Repository
}

func (r *listFailingRepo) ListSubmittedSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	return nil, errors.New("connection reset")
}

func TestReconcileReturnsListError(t *testing.T) {
	service := NewService(&listFailingRepo{}, nil, &gatewayStub{}, nil, "")
	if _, err := service.ReconcileSubmitted(context.Background(), 10); err == nil {
		t.Fatalf("expected list failure to be returned")
	}
}
