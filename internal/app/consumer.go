package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/store"
)

const (
	SettlementEventsExchange = "settlement.events"

	settlementStatusConfirmed = "confirmed"
	settlementStatusRejected  = "rejected"
	settlementStatusPending   = "pending"
)

// SettlementStatusBindings are the routing keys the status consumer subscribes to.
var SettlementStatusBindings = []string{
	"settlement.status.confirmed",
	"settlement.status.rejected",
	"settlement.status.pending",
}

// SettlementStatusConsumer applies settlement watcher events to submissions.
type SettlementStatusConsumer struct {
	service *Service
}

func NewSettlementStatusConsumer(service *Service) *SettlementStatusConsumer {
	return &SettlementStatusConsumer{service: service}
}

// HandleMessage returns true to ack and false to requeue.
func (c *SettlementStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.SettlementStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	if strings.TrimSpace(event.Handle) == "" {
		log.Printf("level=warn component=settlement_consumer msg=\"missing settlement handle\" event_id=%s", event.EventID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"processing error\" handle=%s err=%v", event.Handle, err)
		return false
	}

	return true
}

func (c *SettlementStatusConsumer) processEvent(ctx context.Context, event domain.SettlementStatusEvent) error {
	handle := domain.SettlementHandle(strings.TrimSpace(event.Handle))
	sub, err := c.service.repo.FindSubmissionBySettlementHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, store.ErrSubmissionNotFound) {
			log.Printf("level=info component=settlement_consumer msg=\"no submission for handle; acknowledging\" handle=%s", handle)
			return nil
		}
		return fmt.Errorf("lookup submission: %w", err)
	}

	status := normalizeStatus(event.Status)
	if sub.Status.IsTerminal() {
		if string(sub.Status) != expectedTerminal(status) && status != settlementStatusPending {
			log.Printf("level=warn component=settlement_consumer msg=\"conflicting event for terminal submission ignored\" submission_id=%s status=%s event_status=%s", sub.ID, sub.Status, status)
		}
		return nil
	}
	if sub.Status != domain.SubmissionStatusSubmitted {
		log.Printf("level=info component=settlement_consumer msg=\"event for unsubmitted submission ignored\" submission_id=%s status=%s", sub.ID, sub.Status)
		return nil
	}

	switch status {
	case settlementStatusConfirmed:
		_, err = c.service.settle(ctx, sub)
	case settlementStatusRejected:
		reason := strings.TrimSpace(event.Reason)
		if reason == "" {
			reason = "rejected_by_network"
		}
		_, err = c.service.reject(ctx, sub, reason)
	default:
		return nil
	}

	// Lost a race with another terminal transition: the row is final, nothing to redo.
	if errors.Is(err, store.ErrInvalidStateTransition) {
		log.Printf("level=info component=settlement_consumer msg=\"submission already finalised\" submission_id=%s", sub.ID)
		return nil
	}
	return err
}

func normalizeStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case "confirmed", "settled", "success", "successful":
		return settlementStatusConfirmed
	case "rejected", "failed", "failure":
		return settlementStatusRejected
	case "pending", "submitted", "processing", "mempool":
		return settlementStatusPending
	default:
		return status
	}
}

func expectedTerminal(status string) string {
	switch status {
	case settlementStatusConfirmed:
		return string(domain.SubmissionStatusSettled)
	case settlementStatusRejected:
		return string(domain.SubmissionStatusRejected)
	default:
		return ""
	}
}
