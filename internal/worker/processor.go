package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/google/uuid"
)

const (
	defaultBatchSize  = 10
	defaultJobTimeout = 10 * time.Minute

	// DefaultHeartbeatInterval is how often a running job renews its lease
	DefaultHeartbeatInterval = 30 * time.Second
)

// Queue is the subset of the job queue service the processor drives
type Queue interface {
	GetPendingJobs(ctx context.Context, limit int) ([]*domain.JobRecord, error)
	MarkAsProcessing(ctx context.Context, id int64, owner string) (*domain.JobRecord, error)
	RenewLease(ctx context.Context, id int64, owner string) error
	MarkAsFinished(ctx context.Context, id int64) (*domain.JobRecord, error)
	MarkAsFailed(ctx context.Context, id int64, message string) (*domain.JobRecord, error)
	ReleaseJob(ctx context.Context, id int64, owner string) error
	RetryJob(ctx context.Context, id int64, maxAttempts int) (bool, error)
	RecoverExpiredLeases(ctx context.Context) (int, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Logger            *slog.Logger
	Queue             Queue
	Registry          *Registry
	WorkerID          string
	BatchSize         int
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Processor drains due jobs from the queue and runs them through the registry.
// At most one poll cycle runs at a time per Processor.
type Processor struct {
	logger            *slog.Logger
	queue             Queue
	registry          *Registry
	workerID          string
	batchSize         int
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration

	running atomic.Bool
}

// NewProcessor creates a new Processor
func NewProcessor(cfg *ProcessorConfig) *Processor {
	p := &Processor{
		logger:            cfg.Logger,
		queue:             cfg.Queue,
		registry:          cfg.Registry,
		workerID:          cfg.WorkerID,
		batchSize:         cfg.BatchSize,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
	}

	if p.workerID == "" {
		p.workerID = "processor-" + uuid.NewString()
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.jobTimeout <= 0 {
		p.jobTimeout = defaultJobTimeout
	}
	if p.heartbeatInterval <= 0 {
		p.heartbeatInterval = DefaultHeartbeatInterval
	}
	return p
}

// WorkerID returns the lease owner name used by this processor
func (p *Processor) WorkerID() string {
	return p.workerID
}

// RunCycle runs one poll cycle. It returns false without doing anything when
// a previous cycle is still in progress.
func (p *Processor) RunCycle(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug("Poll cycle still running, skipping trigger",
			slog.String("worker_id", p.workerID),
		)
		return false
	}
	defer p.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Poll cycle panicked",
				slog.String("worker_id", p.workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if recovered, err := p.queue.RecoverExpiredLeases(ctx); err != nil {
		p.logger.Error("Failed to recover expired leases",
			slog.String("error", err.Error()),
		)
	} else if recovered > 0 {
		p.logger.Warn("Recovered jobs with expired leases",
			slog.Int("count", recovered),
		)
	}

	jobs, err := p.queue.GetPendingJobs(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("Failed to fetch pending jobs",
			slog.String("error", err.Error()),
		)
		return true
	}

	if len(jobs) == 0 {
		return true
	}

	p.logger.Info("Dispatching pending jobs",
		slog.Int("count", len(jobs)),
		slog.String("worker_id", p.workerID),
	)

	p.dispatch(ctx, jobs)
	return true
}

// processJob claims one job, runs its handler with a timeout and heartbeat,
// and records the outcome.
func (p *Processor) processJob(ctx context.Context, pending *domain.JobRecord) {
	// Outcome writes must land even when shutdown cancels ctx.
	writeCtx := context.WithoutCancel(ctx)

	job, err := p.queue.MarkAsProcessing(ctx, pending.ID, p.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			p.logger.Warn("Job already claimed, skipping",
				slog.Int64("job_id", pending.ID),
			)
			return
		}
		p.logger.Error("Failed to claim job",
			slog.Int64("job_id", pending.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	logger := p.logger.With(
		slog.Int64("job_id", job.ID),
		slog.String("name", job.Name),
		slog.String("worker_id", p.workerID),
	)
	logger.Info("Processing job", slog.Int("attempt", job.Attempts+1))

	handler, err := p.registry.Resolve(job.Name)
	if err != nil {
		// A missing handler will not appear between retries.
		logger.Error("No handler registered for job")
		if _, markErr := p.queue.MarkAsFailed(writeCtx, job.ID, err.Error()); markErr != nil {
			logger.Error("Failed to update job status to FAILED",
				slog.String("error", markErr.Error()),
			)
		}
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	var heartbeat sync.WaitGroup
	heartbeatDone := make(chan struct{})
	heartbeat.Add(1)
	go func() {
		defer heartbeat.Done()
		p.sendJobHeartbeat(jobCtx, cancel, job.ID, heartbeatDone)
	}()

	start := time.Now()
	err = p.execute(jobCtx, handler, *job)
	close(heartbeatDone)
	heartbeat.Wait()

	if err == nil {
		if _, markErr := p.queue.MarkAsFinished(writeCtx, job.ID); markErr != nil {
			logger.Error("Failed to update job status to FINISHED",
				slog.String("error", markErr.Error()),
			)
			return
		}
		logger.Info("Job completed successfully",
			slog.Duration("elapsed", time.Since(start)),
		)
		return
	}

	if ctx.Err() != nil {
		// Interrupted by shutdown, not by the job itself: do not spend an attempt.
		if relErr := p.queue.ReleaseJob(writeCtx, job.ID, p.workerID); relErr != nil {
			logger.Error("Failed to release interrupted job",
				slog.String("error", relErr.Error()),
			)
			return
		}
		logger.Info("Job interrupted by shutdown, released back to the queue",
			slog.Duration("elapsed", time.Since(start)),
		)
		return
	}

	logger.Error("Job execution failed",
		slog.String("error", err.Error()),
		slog.Duration("elapsed", time.Since(start)),
	)

	failed, markErr := p.queue.MarkAsFailed(writeCtx, job.ID, err.Error())
	if markErr != nil {
		logger.Error("Failed to update job status to FAILED",
			slog.String("error", markErr.Error()),
		)
		return
	}

	if failed.Status != domain.JobStatusFailed {
		logger.Info("Job was cancelled while running, not retrying")
		return
	}

	if domain.IsPermanent(err) {
		logger.Warn("Job failed permanently, not retrying")
		return
	}

	retried, retryErr := p.queue.RetryJob(writeCtx, job.ID, failed.MaxAttempts)
	if retryErr != nil {
		logger.Error("Failed to schedule retry",
			slog.String("error", retryErr.Error()),
		)
		return
	}

	if retried {
		logger.Info("Job will be retried",
			slog.Int("attempts", failed.Attempts),
			slog.Int("max_attempts", failed.MaxAttempts),
		)
	} else {
		logger.Warn("Job exceeded max attempts",
			slog.Int("attempts", failed.Attempts),
			slog.Int("max_attempts", failed.MaxAttempts),
		)
	}
}

// execute runs the handler and converts a panic into an error
func (p *Processor) execute(ctx context.Context, handler Handler, job domain.JobRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	if err := handler.Execute(ctx, job); err != nil {
		return err
	}
	// A handler that ignores its context can still return nil after the deadline.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("job timed out after %s", p.jobTimeout)
	}
	return nil
}

// sendJobHeartbeat renews the job lease until done is closed. Losing the lease
// (the job was cancelled or recovered elsewhere) cancels the handler context.
func (p *Processor) sendJobHeartbeat(ctx context.Context, cancel context.CancelFunc, jobID int64, done <-chan struct{}) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			err := p.queue.RenewLease(ctx, jobID, p.workerID)
			if err == nil {
				p.logger.Debug("Job heartbeat updated",
					slog.Int64("job_id", jobID),
				)
				continue
			}

			if errors.Is(err, domain.ErrLeaseLost) {
				p.logger.Warn("Job lease lost, cancelling handler",
					slog.Int64("job_id", jobID),
				)
				cancel()
				return
			}

			p.logger.Warn("Failed to update job heartbeat",
				slog.Int64("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
}
