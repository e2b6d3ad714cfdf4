package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/climsoft/climsoft-web-sub003/internal/service"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobCreator accepts new jobs
type JobCreator interface {
	CreateJob(ctx context.Context, req service.CreateJobRequest) (*domain.JobRecord, error)
}

// DeliverySource yields RabbitMQ deliveries for a consumer tag
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// CreateJobMessage is the body of a job trigger published to RabbitMQ
type CreateJobMessage struct {
	Name        string          `json:"name"`
	JobType     domain.JobType  `json:"job_type"`
	TriggeredBy domain.Trigger  `json:"triggered_by"`
	Payload     json.RawMessage `json:"payload"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
	RequestedBy string          `json:"requested_by"`
	MaxAttempts int             `json:"max_attempts"`
}

// Validate rejects messages that can never become a job
func (m *CreateJobMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.JobType != "" && !m.JobType.Valid() {
		return fmt.Errorf("invalid job_type: %s", m.JobType)
	}
	if m.TriggeredBy != "" && !m.TriggeredBy.Valid() {
		return fmt.Errorf("invalid triggered_by: %s", m.TriggeredBy)
	}
	if m.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	return nil
}

// TriggerConsumer turns RabbitMQ trigger messages into queued jobs
type TriggerConsumer struct {
	logger      *slog.Logger
	source      DeliverySource
	jobs        JobCreator
	consumerTag string
}

// NewTriggerConsumer creates a new TriggerConsumer
func NewTriggerConsumer(logger *slog.Logger, source DeliverySource, jobs JobCreator, consumerTag string) *TriggerConsumer {
	return &TriggerConsumer{
		logger:      logger,
		source:      source,
		jobs:        jobs,
		consumerTag: consumerTag,
	}
}

// Run consumes deliveries until ctx is canceled or the delivery channel closes
func (c *TriggerConsumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Trigger consumer started",
		slog.String("consumer_tag", c.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Trigger consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *TriggerConsumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg CreateJobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// malformed messages go to the dead letter exchange, if any
		c.nack(delivery, false)
		return
	}

	if err := msg.Validate(); err != nil {
		c.logger.Error("Invalid job trigger",
			slog.String("error", err.Error()),
			slog.String("name", msg.Name),
		)
		c.nack(delivery, false)
		return
	}

	req := service.CreateJobRequest{
		Name:        msg.Name,
		JobType:     msg.JobType,
		TriggeredBy: msg.TriggeredBy,
		Payload:     msg.Payload,
		RequestedBy: msg.RequestedBy,
		MaxAttempts: msg.MaxAttempts,
	}
	if msg.ScheduledAt != nil {
		req.ScheduledAt = *msg.ScheduledAt
	}

	job, err := c.jobs.CreateJob(ctx, req)
	if err != nil {
		c.logger.Error("Failed to create job from trigger",
			slog.String("name", msg.Name),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, true)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Info("Job created from trigger",
		slog.Int64("job_id", job.ID),
		slog.String("name", job.Name),
	)
}

func (c *TriggerConsumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
	}
}
