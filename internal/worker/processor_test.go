package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/climsoft/climsoft-web-sub003/internal/domain"
	"github.com/climsoft/climsoft-web-sub003/internal/service"
	"github.com/climsoft/climsoft-web-sub003/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorFixture struct {
	svc       *service.JobQueueService
	registry  *Registry
	processor *Processor

	// skew shifts the service clock forward
	skew atomic.Int64
}

func newProcessorFixture(t *testing.T, cfg ProcessorConfig) *processorFixture {
	t.Helper()

	f := &processorFixture{registry: NewRegistry()}

	logger := slog.New(slog.DiscardHandler)
	f.svc = service.NewJobQueueService(
		storagetest.NewStorage(t),
		logger,
		service.Config{},
		service.WithClock(func() time.Time {
			return time.Now().Add(time.Duration(f.skew.Load()))
		}),
	)

	cfg.Logger = logger
	cfg.Queue = f.svc
	cfg.Registry = f.registry
	if cfg.WorkerID == "" {
		cfg.WorkerID = "test-processor"
	}
	f.processor = NewProcessor(&cfg)

	return f
}

func (f *processorFixture) create(t *testing.T, name string, maxAttempts int) *domain.JobRecord {
	t.Helper()
	job, err := f.svc.CreateJob(context.Background(), service.CreateJobRequest{
		Name:        name,
		MaxAttempts: maxAttempts,
	})
	require.NoError(t, err)
	return job
}

func (f *processorFixture) get(t *testing.T, id int64) *domain.JobRecord {
	t.Helper()
	job, err := f.svc.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestRunCycle_Success(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	var seen []int64
	f.registry.MustRegister("demo.task", HandlerFunc(func(_ context.Context, job domain.JobRecord) error {
		assert.Equal(t, domain.JobStatusProcessing, job.Status)
		seen = append(seen, job.ID)
		return nil
	}))

	first := f.create(t, "demo.task", 0)
	second := f.create(t, "demo.task", 0)

	assert.True(t, f.processor.RunCycle(context.Background()))
	assert.Equal(t, []int64{first.ID, second.ID}, seen, "dispatched oldest first")

	for _, id := range seen {
		job := f.get(t, id)
		assert.Equal(t, domain.JobStatusFinished, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.Nil(t, job.LeaseOwner)
	}
}

func TestRunCycle_FailureIsRetriedUnderRecordCeiling(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	f.registry.MustRegister("flaky", HandlerFunc(func(context.Context, domain.JobRecord) error {
		return errors.New("station offline")
	}))

	retryable := f.create(t, "flaky", 3)
	lastChance := f.create(t, "flaky", 1)

	f.processor.RunCycle(context.Background())

	job := f.get(t, retryable.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "station offline", *job.ErrorMessage)
	assert.True(t, job.ScheduledAt.After(time.Now()), "retry is delayed by the backoff")

	job = f.get(t, lastChance.ID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestRunCycle_PermanentErrorIsNotRetried(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	f.registry.MustRegister("import", HandlerFunc(func(context.Context, domain.JobRecord) error {
		return domain.NewPermanentError(errors.New("connector deleted"))
	}))

	created := f.create(t, "import", 5)
	f.processor.RunCycle(context.Background())

	job := f.get(t, created.ID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestRunCycle_MissingHandlerFailsTerminally(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	created := f.create(t, "unknown.task", 5)
	assert.True(t, f.processor.RunCycle(context.Background()))

	job := f.get(t, created.ID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, domain.ErrHandlerNotFound.Error())
	assert.Contains(t, *job.ErrorMessage, "unknown.task")
}

func TestRunCycle_HandlerPanicIsRecorded(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})
	f.registry.MustRegister("explode", HandlerFunc(func(context.Context, domain.JobRecord) error {
		panic("nil map")
	}))

	created := f.create(t, "explode", 1)
	assert.True(t, f.processor.RunCycle(context.Background()))

	job := f.get(t, created.ID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "handler panicked")

	// the guard was released
	assert.True(t, f.processor.RunCycle(context.Background()))
}

func TestRunCycle_IsNotReentrant(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	started := make(chan struct{})
	release := make(chan struct{})
	f.registry.MustRegister("slow", HandlerFunc(func(context.Context, domain.JobRecord) error {
		close(started)
		<-release
		return nil
	}))
	created := f.create(t, "slow", 0)

	done := make(chan bool)
	go func() {
		done <- f.processor.RunCycle(context.Background())
	}()

	<-started
	assert.False(t, f.processor.RunCycle(context.Background()), "overlapping trigger is dropped")

	close(release)
	assert.True(t, <-done)

	assert.Equal(t, domain.JobStatusFinished, f.get(t, created.ID).Status)
	assert.True(t, f.processor.RunCycle(context.Background()))
}

func TestRunCycle_BoundedPool(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{Concurrency: 3, BatchSize: 20})

	var running, peak atomic.Int32
	f.registry.MustRegister("parallel", HandlerFunc(func(context.Context, domain.JobRecord) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	}))

	ids := make([]int64, 0, 9)
	for i := 0; i < 9; i++ {
		ids = append(ids, f.create(t, "parallel", 0).ID)
	}

	assert.True(t, f.processor.RunCycle(context.Background()))

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1))
	for _, id := range ids {
		assert.Equal(t, domain.JobStatusFinished, f.get(t, id).Status)
	}
}

func TestRunCycle_BatchSizeCapsWork(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{BatchSize: 2})

	var mu sync.Mutex
	count := 0
	f.registry.MustRegister("demo.task", HandlerFunc(func(context.Context, domain.JobRecord) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	}))

	for i := 0; i < 5; i++ {
		f.create(t, "demo.task", 0)
	}

	f.processor.RunCycle(context.Background())
	assert.Equal(t, 2, count)

	f.processor.RunCycle(context.Background())
	f.processor.RunCycle(context.Background())
	assert.Equal(t, 5, count)
}

func TestRunCycle_CancelInterruptsRunningHandler(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{HeartbeatInterval: 10 * time.Millisecond})

	started := make(chan struct{})
	f.registry.MustRegister("long", HandlerFunc(func(ctx context.Context, _ domain.JobRecord) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	created := f.create(t, "long", 3)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.processor.RunCycle(context.Background())
	}()

	<-started
	_, err := f.svc.CancelJob(context.Background(), created.ID)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not interrupted after cancellation")
	}

	job := f.get(t, created.ID)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestRunCycle_JobTimeout(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{JobTimeout: 30 * time.Millisecond})

	f.registry.MustRegister("stuck", HandlerFunc(func(ctx context.Context, _ domain.JobRecord) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	created := f.create(t, "stuck", 1)

	f.processor.RunCycle(context.Background())

	job := f.get(t, created.ID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, context.DeadlineExceeded.Error())
}

func TestRunCycle_RecoversExpiredLeases(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	var runs atomic.Int32
	f.registry.MustRegister("demo.task", HandlerFunc(func(context.Context, domain.JobRecord) error {
		runs.Add(1)
		return nil
	}))

	created := f.create(t, "demo.task", 3)

	// claimed by a processor that died without finishing
	_, err := f.svc.MarkAsProcessing(context.Background(), created.ID, "crashed-processor")
	require.NoError(t, err)

	f.skew.Store(int64(service.DefaultLeaseDuration + time.Minute))
	assert.True(t, f.processor.RunCycle(context.Background()))

	job := f.get(t, created.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "lease expired", *job.ErrorMessage)
	assert.Equal(t, int32(0), runs.Load(), "retry waits for its backoff")
}

func TestRunCycle_ShutdownReleasesRunningJob(t *testing.T) {
	f := newProcessorFixture(t, ProcessorConfig{})

	started := make(chan struct{})
	f.registry.MustRegister("long", HandlerFunc(func(ctx context.Context, _ domain.JobRecord) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	created := f.create(t, "long", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.processor.RunCycle(ctx)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not stop after shutdown")
	}

	job := f.get(t, created.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status, "interrupted job goes back to the queue")
	assert.Equal(t, 0, job.Attempts, "shutdown does not spend an attempt")
	assert.Nil(t, job.LeaseOwner)
	assert.Nil(t, job.ErrorMessage)

	pending, err := f.svc.GetPendingJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, created.ID, pending[0].ID)
}
