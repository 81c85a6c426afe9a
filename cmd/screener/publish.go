package main

import (
	"context"
	"encoding/json"
	"fmt"
	"screener/internal/model"
	"screener/internal/rabbitmq"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	publishSymbols   []string
	publishIndices   []string
	publishFilters   string
	publishRequestID string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Enqueue a scan request on the RabbitMQ request queue",
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().StringSliceVar(&publishSymbols, "symbols", nil, "Comma separated symbols to scan")
	publishCmd.Flags().StringSliceVar(&publishIndices, "index", nil, "Index to scan; repeat to interleave several")
	publishCmd.Flags().StringVar(&publishFilters, "filters", "", "Filter specification as JSON")
	publishCmd.Flags().StringVar(&publishRequestID, "request-id", "", "Request id for tracing (generated when empty)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := buildScanRequest(publishSymbols, publishIndices, publishFilters)
	if err != nil {
		return err
	}

	requestID := publishRequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	body, err := json.Marshal(model.ScanRequestMessage{RequestID: requestID, ScanRequest: req})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	client, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.DeclareExchange(cfg.RabbitMQ.ExchangeName, "direct"); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := client.DeclareQueue(cfg.RabbitMQ.QueueName); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := client.BindQueue(cfg.RabbitMQ.QueueName, cfg.RabbitMQ.ExchangeName, cfg.RabbitMQ.QueueName); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	headers := amqp.Table{"request_id": requestID}
	if err := client.Publish(ctx, cfg.RabbitMQ.ExchangeName, cfg.RabbitMQ.QueueName, body, headers); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Info().
		Str("requestId", requestID).
		Str("exchange", cfg.RabbitMQ.ExchangeName).
		Str("routingKey", cfg.RabbitMQ.QueueName).
		Int("symbols", len(req.Symbols)).
		Strs("indices", req.Indices).
		Msg("Scan request published")

	fmt.Println(requestID)
	return nil
}
