package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type acknowledgerStub struct {
	acks     int
	requeues int
	rejects  int
}

func (a *acknowledgerStub) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *acknowledgerStub) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		a.requeues++
	} else {
		a.rejects++
	}
	return nil
}

func (a *acknowledgerStub) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestDispatch(t *testing.T) {
	handlers := map[string]func([]byte) bool{
		"settlement.status.confirmed": func(body []byte) bool { return string(body) == "ok" },
	}

	tests := []struct {
		name        string
		routingKey  string
		body        string
		redelivered bool
		want        string
		wantAcks    int
		wantRequeue int
		wantReject  int
	}{
		{name: "handled", routingKey: "settlement.status.confirmed", body: "ok", want: outcomeAcked, wantAcks: 1},
		{name: "unknown routing key", routingKey: "settlement.status.unknown", body: "ok", want: outcomeDropped, wantAcks: 1},
		{name: "first failure", routingKey: "settlement.status.confirmed", body: "boom", want: outcomeRequeued, wantRequeue: 1},
		{name: "failure on redelivery", routingKey: "settlement.status.confirmed", body: "boom", redelivered: true, want: outcomeDeadLetter, wantReject: 1},
		{name: "redelivered success", routingKey: "settlement.status.confirmed", body: "ok", redelivered: true, want: outcomeAcked, wantAcks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acker := &acknowledgerStub{}
			d := amqp.Delivery{
				Acknowledger: acker,
				DeliveryTag:  7,
				RoutingKey:   tt.routingKey,
				Body:         []byte(tt.body),
				Redelivered:  tt.redelivered,
			}

			if got := dispatch("rewards_service.settlement_updates", handlers, d); got != tt.want {
				t.Fatalf("expected outcome %s, got %s", tt.want, got)
			}
			if acker.acks != tt.wantAcks || acker.requeues != tt.wantRequeue || acker.rejects != tt.wantReject {
				t.Fatalf("expected acks=%d requeues=%d rejects=%d, got %+v", tt.wantAcks, tt.wantRequeue, tt.wantReject, acker)
			}
		})
	}
}
