package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/climsoft/climsoft-web-sub003/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(f *processorFixture, cfg Config) *Worker {
	cfg.Logger = slog.New(slog.DiscardHandler)
	cfg.Processor = f.processor
	cfg.Jobs = f.svc
	return NewWorker(&cfg)
}

func TestWorker_StartRunsFirstCycleAndStops(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	f.registry.MustRegister("demo.task", HandlerFunc(func(context.Context, domain.JobRecord) error {
		return nil
	}))
	created := f.create(t, "demo.task", 0)

	w := newTestWorker(f, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		return f.get(t, created.ID).Status == domain.JobStatusFinished
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	w.Stop()
}

func TestWorker_StartRejectsBadCron(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	w := newTestWorker(f, Config{
		Schedules: []Schedule{{Name: "broken", Cron: "every tuesday"}},
	})
	assert.Error(t, w.Start(context.Background()))

	w = newTestWorker(f, Config{CleanupCron: "61 * * * *"})
	assert.Error(t, w.Start(context.Background()))
}

func TestWorker_TriggerCreatesScheduledJob(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	w := newTestWorker(f, Config{})

	w.trigger(context.Background(), Schedule{
		Name:        "connector.import.synop",
		JobType:     domain.JobTypeConnectorImport,
		Cron:        "*/15 * * * *",
		Payload:     json.RawMessage(`{"connectorId":1}`),
		MaxAttempts: 2,
	})

	jobs, err := f.svc.ListJobs(context.Background(), storage.Filter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "connector.import.synop", job.Name)
	assert.Equal(t, domain.TriggerSchedule, job.TriggeredBy)
	assert.Equal(t, domain.JobTypeConnectorImport, job.JobType)
	assert.Equal(t, 2, job.MaxAttempts)
	assert.Equal(t, scheduleRequestedBy, job.RequestedBy)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}

func TestWorker_CleanupUsesRetention(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	f.registry.MustRegister("demo.task", HandlerFunc(func(context.Context, domain.JobRecord) error {
		return nil
	}))

	created := f.create(t, "demo.task", 0)
	f.processor.RunCycle(context.Background())
	require.Equal(t, domain.JobStatusFinished, f.get(t, created.ID).Status)

	w := newTestWorker(f, Config{RetentionDays: 7})

	w.cleanup(context.Background())
	_, err := f.svc.GetJob(context.Background(), created.ID)
	require.NoError(t, err, "fresh jobs survive")

	f.skew.Store(int64(8 * 24 * time.Hour))
	w.cleanup(context.Background())
	_, err = f.svc.GetJob(context.Background(), created.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
