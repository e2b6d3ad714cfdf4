package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
)

// ForwardRoutingPrefix prefixes the job name to form the routing key of forwarded jobs
const ForwardRoutingPrefix = "jobs."

// Publisher sends a message under a routing key
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// ForwardHandler hands a job to an external runtime by publishing the whole
// record to RabbitMQ. The attempt succeeds once the publish call returns; there
// are no publisher confirms, so a message the exchange cannot route is dropped
// without the job noticing.
type ForwardHandler struct {
	publisher Publisher
}

// NewForwardHandler creates a new ForwardHandler
func NewForwardHandler(publisher Publisher) *ForwardHandler {
	return &ForwardHandler{publisher: publisher}
}

// Execute implements Handler
func (h *ForwardHandler) Execute(ctx context.Context, job domain.JobRecord) error {
	body, err := json.Marshal(job)
	if err != nil {
		return domain.NewPermanentError(fmt.Errorf("failed to encode job: %w", err))
	}

	if err := h.publisher.PublishWithRetry(ctx, ForwardRoutingPrefix+job.Name, body, "application/json"); err != nil {
		return fmt.Errorf("failed to forward job: %w", err)
	}
	return nil
}
