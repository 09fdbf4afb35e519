package rabbitmq

import (
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

const deadLetterSuffix = ".dead"

// Consumer delivers messages from one durable queue to per-routing-key handlers.
//
// A handler returning true acks the delivery. A first failure requeues it; a failure on
// redelivery rejects it into the queue's dead-letter queue (<queue>.dead), so a poison
// message cannot spin forever. Work lost this way must be recoverable by the caller
// (the settlement reconciler re-verifies every submitted submission).
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares exchange, queueName and its dead-letter queue, binds every
// routing key, and dispatches deliveries in a background goroutine. prefetch <= 0 leaves
// the broker default.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, prefetch int, bindings map[string]func([]byte) bool) error {
	handlers := make(map[string]func([]byte) bool, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	deadLetterQueue := queueName + deadLetterSuffix
	if _, err := c.ch.QueueDeclare(deadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue %s: %w", deadLetterQueue, err)
	}

	// The default exchange routes by queue name, so no extra exchange is needed.
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": deadLetterQueue,
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	if prefetch > 0 {
		if err := c.ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	for routingKey := range handlers {
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", routingKey, q.Name, err)
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	log.Printf("level=info component=rabbitmq_consumer msg=\"consuming\" queue=%s exchange=%s bindings=%d prefetch=%d", q.Name, exchange, len(handlers), prefetch)

	go func() {
		for d := range msgs {
			dispatch(q.Name, handlers, d)
		}
		log.Printf("level=info component=rabbitmq_consumer msg=\"delivery channel closed\" queue=%s", q.Name)
	}()

	return nil
}

// delivery outcomes, returned for logging and tests.
const (
	outcomeAcked      = "acked"
	outcomeDropped    = "dropped"
	outcomeRequeued   = "requeued"
	outcomeDeadLetter = "dead_lettered"
)

func dispatch(queue string, handlers map[string]func([]byte) bool, d amqp.Delivery) string {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler; dropping\" queue=%s routing_key=%s", queue, d.RoutingKey)
		ackOrLog(queue, d, d.Ack(false))
		return outcomeDropped
	}

	if handler(d.Body) {
		ackOrLog(queue, d, d.Ack(false))
		return outcomeAcked
	}

	if d.Redelivered {
		log.Printf("level=error component=rabbitmq_consumer msg=\"handler failed on redelivery; dead-lettering\" queue=%s routing_key=%s", queue, d.RoutingKey)
		ackOrLog(queue, d, d.Nack(false, false))
		return outcomeDeadLetter
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; requeuing\" queue=%s routing_key=%s", queue, d.RoutingKey)
	ackOrLog(queue, d, d.Nack(false, true))
	return outcomeRequeued
}

func ackOrLog(queue string, d amqp.Delivery, err error) {
	if err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"acknowledgement failed\" queue=%s routing_key=%s delivery_tag=%d err=%v", queue, d.RoutingKey, d.DeliveryTag, err)
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
