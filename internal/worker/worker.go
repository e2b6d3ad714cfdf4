package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/climsoft/climsoft-web-sub003/internal/service"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultCleanupCron runs the retention sweep daily at 03:00
	DefaultCleanupCron = "0 3 * * *"

	// DefaultRetentionDays is how long FINISHED jobs are kept
	DefaultRetentionDays = 30

	defaultPollInterval = time.Minute

	scheduleRequestedBy = "scheduler"
)

// JobScheduler is the part of the queue service the worker's cron entries call
type JobScheduler interface {
	JobCreator
	CleanupOldJobs(ctx context.Context, daysOld int) (int64, error)
}

// Schedule creates a job every time its cron expression fires
type Schedule struct {
	Name        string
	JobType     domain.JobType
	Cron        string
	Payload     json.RawMessage
	MaxAttempts int
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Processor     *Processor
	Jobs          JobScheduler
	Consumer      *TriggerConsumer
	PollInterval  time.Duration
	CleanupCron   string
	RetentionDays int
	Schedules     []Schedule
}

// Worker drives the processor, the retention sweep and the configured
// schedules from a single cron instance.
type Worker struct {
	logger        *slog.Logger
	processor     *Processor
	jobs          JobScheduler
	consumer      *TriggerConsumer
	pollInterval  time.Duration
	cleanupCron   string
	retentionDays int
	schedules     []Schedule

	cron *cron.Cron
	wg   sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:        cfg.Logger,
		processor:     cfg.Processor,
		jobs:          cfg.Jobs,
		consumer:      cfg.Consumer,
		pollInterval:  cfg.PollInterval,
		cleanupCron:   cfg.CleanupCron,
		retentionDays: cfg.RetentionDays,
		schedules:     cfg.Schedules,
		cron:          cron.New(),
	}

	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.cleanupCron == "" {
		w.cleanupCron = DefaultCleanupCron
	}
	if w.retentionDays <= 0 {
		w.retentionDays = DefaultRetentionDays
	}
	return w
}

// Start registers the cron entries, runs a first poll cycle and blocks until
// ctx is canceled. Call Stop afterwards to wait for in-flight work.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return err
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.processor.WorkerID()),
		slog.Duration("poll_interval", w.pollInterval),
		slog.String("cleanup_cron", w.cleanupCron),
		slog.Int("retention_days", w.retentionDays),
		slog.Int("schedules", len(w.schedules)),
	)

	w.cron.Start()

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Run(ctx); err != nil {
				w.logger.Error("Trigger consumer failed",
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processor.RunCycle(ctx)
	}()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// register adds every cron entry. Bad expressions fail fast.
func (w *Worker) register(ctx context.Context) error {
	poll := fmt.Sprintf("@every %s", w.pollInterval)
	if _, err := w.cron.AddFunc(poll, func() { w.processor.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule poll cycle: %w", err)
	}

	if _, err := w.cron.AddFunc(w.cleanupCron, func() { w.cleanup(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup %q: %w", w.cleanupCron, err)
	}

	for _, s := range w.schedules {
		if _, err := w.cron.AddFunc(s.Cron, func() { w.trigger(ctx, s) }); err != nil {
			return fmt.Errorf("failed to schedule %q (%s): %w", s.Name, s.Cron, err)
		}
		w.logger.Info("Registered job schedule",
			slog.String("name", s.Name),
			slog.String("cron", s.Cron),
		)
	}

	return nil
}

func (w *Worker) cleanup(ctx context.Context) {
	deleted, err := w.jobs.CleanupOldJobs(ctx, w.retentionDays)
	if err != nil {
		w.logger.Error("Failed to clean up old jobs",
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("Retention sweep complete",
		slog.Int64("deleted", deleted),
	)
}

func (w *Worker) trigger(ctx context.Context, s Schedule) {
	job, err := w.jobs.CreateJob(ctx, service.CreateJobRequest{
		Name:        s.Name,
		JobType:     s.JobType,
		TriggeredBy: domain.TriggerSchedule,
		Payload:     s.Payload,
		RequestedBy: scheduleRequestedBy,
		MaxAttempts: s.MaxAttempts,
	})
	if err != nil {
		w.logger.Error("Failed to create scheduled job",
			slog.String("name", s.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("Scheduled job created",
		slog.Int64("job_id", job.ID),
		slog.String("name", job.Name),
	)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	<-w.cron.Stop().Done()
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
