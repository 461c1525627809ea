package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/adonis30/onix-payments-go/internal/payment"
)

// StatusEvent is the wire format for one status change on a reference.
type StatusEvent struct {
	Reference      string         `json:"reference"`
	Status         payment.Status `json:"status"`
	ProviderStatus string         `json:"providerStatus,omitempty"`
	Producer       string         `json:"producer,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PublishStatusChanged(ctx context.Context, reference string, status payment.Status, providerStatus string) error {
	ev := StatusEvent{
		Reference:      reference,
		Status:         status,
		ProviderStatus: providerStatus,
		Producer:       paymentsServiceProducer,
		OccurredAt:     time.Now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal StatusEvent: %w", err)
	}
	return p.publishJSON(ctx, StatusRoutingKey(reference), body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Body:         body,
		},
	)
}
