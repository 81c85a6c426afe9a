package events

import (
	"context"
	"encoding/json"
	"fmt"
	"screener/internal/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitPublisher sends events to a topic exchange with routing key scan.<type>
type RabbitPublisher struct {
	client   rabbitmq.Client
	exchange string
}

// NewRabbitPublisher declares the event exchange and returns a publisher for it
func NewRabbitPublisher(client rabbitmq.Client, exchange string) (*RabbitPublisher, error) {
	if err := client.DeclareExchange(exchange, "topic"); err != nil {
		return nil, fmt.Errorf("failed to declare event exchange: %w", err)
	}
	return &RabbitPublisher{client: client, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := amqp.Table{
		"job_id":     event.JobID,
		"event_type": string(event.Type),
	}

	if err := p.client.Publish(ctx, p.exchange, "scan."+string(event.Type), body, headers); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}
