package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/pkg/rabbitmq"
)

const (
	RoutingKeySubmissionCreated   = "submission.created"
	RoutingKeySubmissionSubmitted = "submission.submitted"
	RoutingKeySubmissionSettled   = "submission.settled"
	RoutingKeySubmissionRejected  = "submission.rejected"
	RoutingKeyPointsAwarded       = "points.awarded"
	RoutingKeyPointsRedeemed      = "points.redeemed"
	RoutingKeyPointsPenalized     = "points.penalized"
	RoutingKeyPointsBonus         = "points.bonus"

	publishTimeout = 5 * time.Second
)

// eventPublisher fans lifecycle events out to the broker. Failures are logged and
// never propagate: the database is the source of truth.
type eventPublisher struct {
	producer rabbitmq.Publisher
	exchange string
}

func newEventPublisher(producer rabbitmq.Publisher, exchange string) *eventPublisher {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultEventsExchange
	}
	return &eventPublisher{producer: producer, exchange: exchange}
}

func (p *eventPublisher) publish(ctx context.Context, routingKey string, body interface{}) {
	if p == nil {
		return
	}
	// Detach from request cancellation so a client disconnect does not drop the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.producer.Publish(pubCtx, p.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" exchange=%s routing_key=%s err=%v", p.exchange, routingKey, err)
	}
}

func (p *eventPublisher) submission(ctx context.Context, routingKey string, sub *domain.Submission, reason *string) {
	if sub == nil {
		return
	}
	var handle *string
	if sub.SettlementHandle != nil {
		value := sub.SettlementHandle.String()
		handle = &value
	}
	p.publish(ctx, routingKey, domain.SubmissionEvent{
		SubmissionID:     sub.ID,
		UserID:           sub.UserID,
		Status:           sub.Status,
		ItemType:         sub.ItemType,
		Category:         sub.Category,
		Points:           sub.Points,
		SettlementHandle: handle,
		Reason:           reason,
		Timestamp:        time.Now().UTC(),
	})
}

func (p *eventPublisher) points(ctx context.Context, routingKey string, entry *domain.LedgerEntry) {
	if entry == nil {
		return
	}
	p.publish(ctx, routingKey, domain.PointsEvent{
		EntryID:      entry.ID,
		UserID:       entry.UserID,
		Kind:         entry.Kind,
		Delta:        entry.Delta,
		SubmissionID: entry.SubmissionID,
		Timestamp:    entry.CreatedAt,
	})
}
