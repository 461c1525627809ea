package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Subscriber opens per-reference subscriptions on the events exchange.
type Subscriber struct {
	conn   *amqp.Connection
	logger *log.Logger
}

func NewSubscriber(conn *amqp.Connection, logger *log.Logger) *Subscriber {
	return &Subscriber{conn: conn, logger: logger}
}

// Subscribe binds a server-named exclusive auto-delete queue to the
// reference's routing key and forwards decoded events in publish order.
// The returned cancel func tears the subscription down; it is safe to call
// more than once. The events channel is closed on cancel, context
// cancellation, or broker-side channel close.
func (s *Subscriber) Subscribe(ctx context.Context, reference string) (<-chan StatusEvent, func(), error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare events exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, StatusRoutingKey(reference), EventsExchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"stream-"+uuid.NewString(), // consumer tag
		true,                       // autoAck
		true,                       // exclusive
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}

	out := make(chan StatusEvent)
	done := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			// Closing the channel ends the deliveries and drops the
			// exclusive queue on the broker.
			_ = ch.Close()
		})
	}

	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var ev StatusEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil {
					s.logger.Printf("drop malformed status event on %s: %v", d.RoutingKey, err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	return out, cancel, nil
}
