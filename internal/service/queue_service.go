package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/climsoft/climsoft-web-sub003/internal/storage"
)

const (
	// DefaultPendingLimit is used by GetPendingJobs when no positive limit is given
	DefaultPendingLimit = 10

	// DefaultRetryBackoff delays a retried job before it becomes due again
	DefaultRetryBackoff = time.Minute

	// DefaultLeaseDuration is how long a claim stays valid without a heartbeat
	DefaultLeaseDuration = 5 * time.Minute

	// a transition re-reads the record this many times when it loses a race
	maxTransitionAttempts = 3
)

// Store is the persistence the service depends on
type Store interface {
	Insert(ctx context.Context, job *domain.JobRecord) (*domain.JobRecord, error)
	GetByID(ctx context.Context, id int64) (*domain.JobRecord, error)
	ListByFilter(ctx context.Context, filter storage.Filter) ([]*domain.JobRecord, error)
	Count(ctx context.Context, filter storage.Filter) (int64, error)
	UpdateFields(ctx context.Context, id int64, upd storage.Update) (int64, error)
	DeleteWhere(ctx context.Context, pred storage.Predicate) (int64, error)
}

// Config holds queue policy settings
type Config struct {
	DefaultMaxAttempts int
	RetryBackoff       time.Duration
	LeaseDuration      time.Duration
}

// Option customises a JobQueueService
type Option func(*JobQueueService)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *JobQueueService) {
		s.now = now
	}
}

// JobQueueService is the only component that mutates job records.
// Every status change goes through domain.Transition.
type JobQueueService struct {
	store  Store
	logger *slog.Logger
	config Config
	now    func() time.Time
}

// NewJobQueueService creates a new JobQueueService
func NewJobQueueService(store Store, logger *slog.Logger, cfg Config, opts ...Option) *JobQueueService {
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = domain.DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}

	s := &JobQueueService{
		store:  store,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJobRequest is the trigger contract for new work
type CreateJobRequest struct {
	Name        string
	JobType     domain.JobType
	TriggeredBy domain.Trigger
	Payload     json.RawMessage
	ScheduledAt time.Time
	RequestedBy string

	// MaxAttempts overrides the ceiling declared in the payload and the configured default
	MaxAttempts int
}

// CreateJob stores a new PENDING job. A zero ScheduledAt means now.
func (s *JobQueueService) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.JobRecord, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("job name is required")
	}

	jobType := req.JobType
	if jobType == "" {
		jobType = domain.JobTypeGeneral
	}
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}

	trigger := req.TriggeredBy
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	if !trigger.Valid() {
		return nil, fmt.Errorf("invalid trigger: %s", trigger)
	}

	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, fmt.Errorf("job payload is not valid JSON")
	}

	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = s.now()
	}

	job, err := s.store.Insert(ctx, &domain.JobRecord{
		Name:        name,
		JobType:     jobType,
		TriggeredBy: trigger,
		Payload:     req.Payload,
		ScheduledAt: scheduledAt,
		Status:      domain.JobStatusPending,
		Attempts:    0,
		MaxAttempts: domain.ResolveMaxAttempts(req.MaxAttempts, req.Payload, s.config.DefaultMaxAttempts),
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job created",
		slog.Int64("job_id", job.ID),
		slog.String("name", job.Name),
		slog.String("job_type", string(job.JobType)),
		slog.String("triggered_by", string(job.TriggeredBy)),
		slog.Time("scheduled_at", job.ScheduledAt),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	return job, nil
}

// GetJob returns a single job or domain.ErrJobNotFound
func (s *JobQueueService) GetJob(ctx context.Context, id int64) (*domain.JobRecord, error) {
	return s.store.GetByID(ctx, id)
}

// ListJobs returns the jobs matching filter
func (s *JobQueueService) ListJobs(ctx context.Context, filter storage.Filter) ([]*domain.JobRecord, error) {
	return s.store.ListByFilter(ctx, filter)
}

// CountJobs returns the number of jobs matching filter
func (s *JobQueueService) CountJobs(ctx context.Context, filter storage.Filter) (int64, error) {
	return s.store.Count(ctx, filter)
}

// GetPendingJobs returns due PENDING jobs, oldest scheduled first, at most limit of them
func (s *JobQueueService) GetPendingJobs(ctx context.Context, limit int) ([]*domain.JobRecord, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}

	now := s.now()
	return s.store.ListByFilter(ctx, storage.Filter{
		Status:      domain.JobStatusPending,
		ScheduledTo: &now,
		Ascending:   true,
		Limit:       limit,
	})
}

// MarkAsProcessing claims a PENDING job for owner and starts its lease.
// It fails with domain.ErrInvalidState when the job is no longer PENDING.
func (s *JobQueueService) MarkAsProcessing(ctx context.Context, id int64, owner string) (*domain.JobRecord, error) {
	job, err := s.transition(ctx, id, domain.EventClaim, func(now time.Time) storage.Update {
		expires := now.Add(s.config.LeaseDuration)
		return storage.Update{
			ProcessedAt:    &now,
			LeaseOwner:     &owner,
			LeaseExpiresAt: &expires,
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Job claimed",
		slog.Int64("job_id", id),
		slog.String("owner", owner),
	)
	return job, nil
}

// RenewLease pushes the lease deadline of a running job forward.
// It returns domain.ErrLeaseLost once the job is no longer PROCESSING under owner,
// which is how a running handler learns that its job was cancelled.
func (s *JobQueueService) RenewLease(ctx context.Context, id int64, owner string) error {
	expires := s.now().Add(s.config.LeaseDuration)

	rows, err := s.store.UpdateFields(ctx, id, storage.Update{
		LeaseExpiresAt: &expires,
		IfStatus:       []domain.Status{domain.JobStatusProcessing},
		IfLeaseOwner:   &owner,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("job #%d: %w", id, domain.ErrLeaseLost)
	}
	return nil
}

// ReleaseJob hands a running job back to the queue without counting the
// attempt, for handlers interrupted by worker shutdown. The job is due again
// immediately. It returns domain.ErrLeaseLost when owner no longer holds the job.
func (s *JobQueueService) ReleaseJob(ctx context.Context, id int64, owner string) error {
	to, err := domain.Transition(id, domain.JobStatusProcessing, domain.EventRelease)
	if err != nil {
		return err
	}

	rows, err := s.store.UpdateFields(ctx, id, storage.Update{
		Status:       &to,
		ClearLease:   true,
		IfStatus:     []domain.Status{domain.JobStatusProcessing},
		IfLeaseOwner: &owner,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("job #%d: %w", id, domain.ErrLeaseLost)
	}

	s.logger.Info("Job released",
		slog.Int64("job_id", id),
		slog.String("owner", owner),
	)
	return nil
}

// MarkAsFinished records a successful attempt. A job cancelled while it was
// running keeps its CANCELLED status.
func (s *JobQueueService) MarkAsFinished(ctx context.Context, id int64) (*domain.JobRecord, error) {
	job, err := s.transition(ctx, id, domain.EventFinish, func(now time.Time) storage.Update {
		return storage.Update{
			ProcessedAt:       &now,
			IncrementAttempts: true,
			ClearLease:        true,
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job finished",
		slog.Int64("job_id", id),
		slog.String("status", string(job.Status)),
		slog.Int("attempts", job.Attempts),
	)
	return job, nil
}

// MarkAsFailed records a failed attempt with its error message. A job cancelled
// while it was running keeps its CANCELLED status.
func (s *JobQueueService) MarkAsFailed(ctx context.Context, id int64, message string) (*domain.JobRecord, error) {
	job, err := s.transition(ctx, id, domain.EventFail, func(now time.Time) storage.Update {
		return storage.Update{
			ProcessedAt:       &now,
			ErrorMessage:      &message,
			IncrementAttempts: true,
			ClearLease:        true,
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Job failed",
		slog.Int64("job_id", id),
		slog.String("status", string(job.Status)),
		slog.Int("attempts", job.Attempts),
		slog.String("error", message),
	)
	return job, nil
}

// RetryJob puts a FAILED job back in the queue after the retry backoff.
//
// It returns false without touching the record when the job does not exist,
// maxAttempts is not positive, or the job already used maxAttempts attempts.
// A job that is not FAILED yields domain.ErrInvalidState.
func (s *JobQueueService) RetryJob(ctx context.Context, id int64, maxAttempts int) (bool, error) {
	if maxAttempts <= 0 {
		return false, nil
	}

	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	if job.Attempts >= maxAttempts {
		s.logger.Info("Job exhausted its attempts",
			slog.Int64("job_id", id),
			slog.Int("attempts", job.Attempts),
			slog.Int("max_attempts", maxAttempts),
		)
		return false, nil
	}

	to, err := domain.Transition(id, job.Status, domain.EventRetry)
	if err != nil {
		return false, err
	}

	next := s.now().Add(s.config.RetryBackoff)
	rows, err := s.store.UpdateFields(ctx, id, storage.Update{
		Status:          &to,
		ScheduledAt:     &next,
		ClearLease:      true,
		IfStatus:        []domain.Status{job.Status},
		IfAttemptsBelow: maxAttempts,
	})
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// Someone else moved the job between the read and the write.
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				return false, nil
			}
			return false, err
		}
		if current.Attempts >= maxAttempts {
			return false, nil
		}
		return false, domain.NewStateError(id, current.Status, domain.EventRetry)
	}

	s.logger.Info("Job scheduled for retry",
		slog.Int64("job_id", id),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", maxAttempts),
		slog.Time("scheduled_at", next),
	)
	return true, nil
}

// CancelJob moves a PENDING or PROCESSING job to CANCELLED. A running handler
// is not interrupted directly; it notices on its next lease renewal.
func (s *JobQueueService) CancelJob(ctx context.Context, id int64) (*domain.JobRecord, error) {
	job, err := s.transition(ctx, id, domain.EventCancel, func(now time.Time) storage.Update {
		return storage.Update{
			ProcessedAt: &now,
			ClearLease:  true,
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job cancelled", slog.Int64("job_id", id))
	return job, nil
}

// CleanupOldJobs deletes FINISHED jobs processed more than daysOld days ago
// and returns how many were removed.
func (s *JobQueueService) CleanupOldJobs(ctx context.Context, daysOld int) (int64, error) {
	if daysOld < 0 {
		return 0, fmt.Errorf("invalid retention: %d days", daysOld)
	}

	cutoff := s.now().AddDate(0, 0, -daysOld)
	deleted, err := s.store.DeleteWhere(ctx, storage.Predicate{
		Status:          domain.JobStatusFinished,
		ProcessedBefore: &cutoff,
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Old jobs cleaned up",
		slog.Int64("deleted", deleted),
		slog.Int("days_old", daysOld),
		slog.Time("cutoff", cutoff),
	)
	return deleted, nil
}

// RecoverExpiredLeases fails every PROCESSING job whose lease has run out and
// retries it under its own ceiling. It returns how many jobs were recovered.
func (s *JobQueueService) RecoverExpiredLeases(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.store.ListByFilter(ctx, storage.Filter{
		Status:             domain.JobStatusProcessing,
		LeaseExpiredBefore: &now,
		Ascending:          true,
	})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range expired {
		if _, err := s.MarkAsFailed(ctx, job.ID, "lease expired"); err != nil {
			if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrJobNotFound) {
				continue
			}
			return recovered, err
		}
		recovered++

		retried, err := s.RetryJob(ctx, job.ID, job.MaxAttempts)
		if err != nil && !errors.Is(err, domain.ErrInvalidState) {
			return recovered, err
		}

		s.logger.Warn("Recovered job with expired lease",
			slog.Int64("job_id", job.ID),
			slog.Bool("retried", retried),
		)
	}
	return recovered, nil
}

// transition applies event to the job as a compare-and-set on its current
// status, re-reading the record when a concurrent writer got there first.
func (s *JobQueueService) transition(
	ctx context.Context,
	id int64,
	event domain.Event,
	build func(now time.Time) storage.Update,
) (*domain.JobRecord, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		job, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		to, err := domain.Transition(id, job.Status, event)
		if err != nil {
			return nil, err
		}

		upd := build(s.now())
		upd.Status = &to
		upd.IfStatus = []domain.Status{job.Status}

		rows, err := s.store.UpdateFields(ctx, id, upd)
		if err != nil {
			return nil, err
		}
		if rows == 1 {
			return s.store.GetByID(ctx, id)
		}

		s.logger.Debug("Job changed during transition, re-reading",
			slog.Int64("job_id", id),
			slog.String("event", string(event)),
			slog.Int("attempt", attempt+1),
		)
	}

	return nil, fmt.Errorf("job #%d kept changing during %s: %w", id, event, domain.ErrInvalidState)
}
