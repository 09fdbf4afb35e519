package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/store"
)

func statusEventBody(t *testing.T, handle, status, reason string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.SettlementStatusEvent{EventID: "evt-1", Handle: handle, Status: status, Reason: reason})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestConsumerSettlesConfirmedSubmission(t *testing.T) {
	h := newTestHarness(t)
	sub := h.submitted(t)
	consumer := NewSettlementStatusConsumer(h.service)

	if ack := consumer.HandleMessage(statusEventBody(t, sub.SettlementHandle.String(), "Confirmed", "")); !ack {
		t.Fatalf("expected message to be acked")
	}

	current, _ := h.service.GetSubmission(context.Background(), h.userID, sub.ID)
	if current.Status != domain.SubmissionStatusSettled {
		t.Fatalf("expected settled, got %s", current.Status)
	}

	// Replays and conflicting late events leave the terminal state alone.
	for _, status := range []string{"confirmed", "rejected", "pending"} {
		if ack := consumer.HandleMessage(statusEventBody(t, sub.SettlementHandle.String(), status, "late")); !ack {
			t.Fatalf("expected replayed %s event to be acked", status)
		}
	}
	current, _ = h.service.GetSubmission(context.Background(), h.userID, sub.ID)
	if current.Status != domain.SubmissionStatusSettled {
		t.Fatalf("expected submission to stay settled, got %s", current.Status)
	}
	if h.publisher.count(RoutingKeySubmissionSettled) != 1 {
		t.Fatalf("expected one settled event, got %d", h.publisher.count(RoutingKeySubmissionSettled))
	}
}

func TestConsumerRejectsSubmission(t *testing.T) {
	h := newTestHarness(t)
	sub := h.submitted(t)
	consumer := NewSettlementStatusConsumer(h.service)

	if err := consumer.processEvent(context.Background(), domain.SettlementStatusEvent{Handle: sub.SettlementHandle.String(), Status: "failed"}); err != nil {
		t.Fatalf("expected rejection to be applied, got %v", err)
	}

	current, _ := h.service.GetSubmission(context.Background(), h.userID, sub.ID)
	if current.Status != domain.SubmissionStatusRejected {
		t.Fatalf("expected rejected, got %s", current.Status)
	}
	if current.FailureReason == nil || *current.FailureReason != "rejected_by_network" {
		t.Fatalf("expected default rejection reason, got %v", current.FailureReason)
	}
}

func TestConsumerIgnoresPendingEvents(t *testing.T) {
	h := newTestHarness(t)
	sub := h.submitted(t)
	consumer := NewSettlementStatusConsumer(h.service)

	if err := consumer.processEvent(context.Background(), domain.SettlementStatusEvent{Handle: sub.SettlementHandle.String(), Status: "mempool"}); err != nil {
		t.Fatalf("expected pending event to be ignored, got %v", err)
	}
	current, _ := h.service.GetSubmission(context.Background(), h.userID, sub.ID)
	if current.Status != domain.SubmissionStatusSubmitted {
		t.Fatalf("expected submitted, got %s", current.Status)
	}
}

func TestConsumerAcksUnknownHandleAndBadPayload(t *testing.T) {
	h := newTestHarness(t)
	consumer := NewSettlementStatusConsumer(h.service)

	if ack := consumer.HandleMessage(statusEventBody(t, "unknown-handle", "confirmed", "")); !ack {
		t.Fatalf("expected unknown handle to be acked")
	}
	if ack := consumer.HandleMessage([]byte("{not json")); !ack {
		t.Fatalf("expected malformed payload to be acked")
	}
	if ack := consumer.HandleMessage(statusEventBody(t, "  ", "confirmed", "")); !ack {
		t.Fatalf("expected missing handle to be acked")
	}
}

type consumerLookupFailingRepo struct {
	store.Repository
}

func (r *consumerLookupFailingRepo) FindSubmissionBySettlementHandle(ctx context.Context, handle domain.SettlementHandle) (*domain.Submission, error) {
	return nil, errors.New("connection reset")
}

func TestConsumerRequeuesOnLookupFailure(t *testing.T) {
	service := NewService(&consumerLookupFailingRepo{}, nil, &gatewayStub{}, nil, "")
	consumer := NewSettlementStatusConsumer(service)

	if ack := consumer.HandleMessage(statusEventBody(t, "tx-1", "confirmed", "")); ack {
		t.Fatalf("expected lookup failure to requeue")
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		" SUCCESS ":  "confirmed",
		"settled":    "confirmed",
		"Failure":    "rejected",
		"processing": "pending",
		"weird":      "weird",
	}
	for input, want := range tests {
		if got := normalizeStatus(input); got != want {
			t.Fatalf("normalizeStatus(%q): expected %q, got %q", input, want, got)
		}
	}
}
