package handler

import (
	"context"
	"log/slog"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/climsoft/climsoft-web-sub003/internal/storage"
)

// ContextKeySubject holds the authenticated caller's subject in the gin context
const ContextKeySubject = "subject"

// JobService is the queue surface the admin API reads and controls
type JobService interface {
	GetJob(ctx context.Context, id int64) (*domain.JobRecord, error)
	ListJobs(ctx context.Context, filter storage.Filter) ([]*domain.JobRecord, error)
	CountJobs(ctx context.Context, filter storage.Filter) (int64, error)
	CancelJob(ctx context.Context, id int64) (*domain.JobRecord, error)
	RetryJob(ctx context.Context, id int64, maxAttempts int) (bool, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service JobService

	// JWTSecret enables admin authentication when set
	JWTSecret string

	// HealthCheck reports backing store health; nil means always healthy
	HealthCheck func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	service JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}
