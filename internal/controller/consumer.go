package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"screener/internal/model"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const consumerRetryDelay = 5 * time.Second

// ConsumeScanRequests declares the request topology and starts a consumer that
// turns each message into a scan
func (c *scanController) ConsumeScanRequests(ctx context.Context) error {
	if c.rabbitClient == nil {
		return fmt.Errorf("rabbitmq is not configured")
	}

	exchange := c.rabbitConfig.ExchangeName
	queueName := c.rabbitConfig.QueueName

	// Ensure the exchange exists
	if err := c.rabbitClient.DeclareExchange(exchange, "direct"); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := c.rabbitClient.DeclareQueue(queueName)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	// queue name doubles as the routing key
	if err := c.rabbitClient.BindQueue(queue.Name, exchange, queueName); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queueName, err)
	}

	c.consumerTag = "scan-requests-" + uuid.NewString()
	c.startConsumer(ctx, queue.Name, c.consumerTag)

	log.Info().Str("queue", queue.Name).Msg("Scan request processing started")
	return nil
}

// StopProcessing stops the consumer and waits for the in-flight message
func (c *scanController) StopProcessing() {
	c.stopOnce.Do(func() { close(c.shutdown) })
	c.wg.Wait()
	log.Info().Msg("Scan request processing stopped")
}

func (c *scanController) startConsumer(ctx context.Context, queueName, consumerTag string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		log.Info().
			Str("queue", queueName).
			Str("consumerTag", consumerTag).
			Msg("Starting scan request consumer")

		for {
			if c.stopping(ctx) {
				return
			}

			deliveries, err := c.rabbitClient.Consume(queueName, consumerTag)
			if err != nil {
				log.Error().
					Err(err).
					Str("queue", queueName).
					Str("consumerTag", consumerTag).
					Msg("Failed to consume from queue")

				if !c.wait(ctx, consumerRetryDelay) {
					return
				}
				continue
			}

			if !c.drain(ctx, deliveries) {
				return
			}

			log.Warn().
				Str("queue", queueName).
				Str("consumerTag", consumerTag).
				Msg("Consumer channel closed, reconnecting...")

			if !c.wait(ctx, consumerRetryDelay) {
				return
			}
		}
	}()
}

// drain handles deliveries until the channel closes. It returns false when the consumer should stop.
func (c *scanController) drain(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.shutdown:
			return false
		case delivery, ok := <-deliveries:
			if !ok {
				return true
			}
			c.processDelivery(ctx, delivery)
		}
	}
}

func (c *scanController) processDelivery(ctx context.Context, delivery amqp.Delivery) {
	var req model.ScanRequestMessage
	if err := json.Unmarshal(delivery.Body, &req); err != nil {
		log.Error().Err(err).Uint64("deliveryTag", delivery.DeliveryTag).Msg("Malformed scan request, rejecting")
		_ = delivery.Nack(false, false) // Don't requeue malformed messages
		return
	}

	logger := log.With().
		Str("requestId", req.RequestID).
		Int("symbols", len(req.Symbols)).
		Strs("indices", req.Indices).
		Logger()

	created, err := c.CreateScan(ctx, req.ScanRequest)
	if err != nil {
		logger.Error().Err(err).Msg("Scan request rejected")
		_ = delivery.Nack(false, false)
		return
	}

	logger.Info().
		Str("jobId", created.ID).
		Bool("started", created.Started).
		Msg("Scan request accepted")

	_ = delivery.Ack(false)
}

func (c *scanController) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

func (c *scanController) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-c.shutdown:
		return false
	case <-timer.C:
		return true
	}
}
