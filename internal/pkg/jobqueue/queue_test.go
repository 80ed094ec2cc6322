package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/FiscalFox/app/models"
)

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		retryDelay      time.Duration
		expectedWorkers int
		expectedDelay   time.Duration
	}{
		{"explicit settings", 5, time.Second, 5, time.Second},
		{"zero values", 0, 0, 2, 30 * time.Second},
		{"negative values", -1, -time.Second, 2, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers, tt.retryDelay)

			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.Equal(t, tt.expectedDelay, queue.retryDelay)
			assert.False(t, queue.running)
		})
	}
}

func TestQueue_CompletedJobIsRemoved(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 1, time.Minute)
	ctx := context.Background()

	var seen uint
	queue.RegisterHandler(JobTypeFiscalStatusCheck, func(_ context.Context, job *Job) error {
		payload, err := FiscalStatusCheckPayloadFromMap(job.Payload)
		require.NoError(t, err)
		seen = payload.FiscalDocumentID
		return nil
	})

	job, err := queue.EnqueueJob(ctx, JobTypeFiscalStatusCheck, FiscalStatusCheckPayload{FiscalDocumentID: 11}.ToMap())
	require.NoError(t, err)

	processed, err := queue.ProcessNext(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, uint(11), seen)

	_, err = queue.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, redis.Nil)

	processing, err := queue.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)

	stats, err := queue.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestQueue_PermanentFailureIsNotRetried(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 1, 10*time.Millisecond)
	ctx := context.Background()

	queue.RegisterHandler(JobTypeFiscalStatusCheck, func(context.Context, *Job) error {
		return fmt.Errorf("%w: document gone", ErrPermanent)
	})

	job, err := queue.EnqueueJob(ctx, JobTypeFiscalStatusCheck, FiscalStatusCheckPayload{FiscalDocumentID: 1}.ToMap())
	require.NoError(t, err)

	_, err = queue.ProcessNext(ctx, time.Second)
	require.NoError(t, err)

	stored, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, stored.MaxRetries, stored.RetryCount)

	time.Sleep(50 * time.Millisecond)
	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestQueue_RetryLaterRequeues(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 1, 20*time.Millisecond)
	ctx := context.Background()

	queue.RegisterHandler(JobTypeFiscalStatusCheck, func(context.Context, *Job) error {
		return ErrRetryLater
	})

	job, err := queue.EnqueueJob(ctx, JobTypeFiscalStatusCheck, FiscalStatusCheckPayload{FiscalDocumentID: 2}.ToMap())
	require.NoError(t, err)

	_, err = queue.ProcessNext(ctx, time.Second)
	require.NoError(t, err)

	stored, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	assert.Eventually(t, func() bool {
		size, err := queue.GetQueueSize(ctx)
		return err == nil && size == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_UnknownTypeFailsPermanently(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 1, time.Minute)
	ctx := context.Background()

	job, err := queue.EnqueueJob(ctx, JobType("unknown"), map[string]interface{}{})
	require.NoError(t, err)

	_, err = queue.ProcessNext(ctx, time.Second)
	require.NoError(t, err)

	stored, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMsg, "unknown job type")
}

func TestQueue_ProcessNextOnEmptyQueue(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 1, time.Minute)

	processed, err := queue.ProcessNext(context.Background(), 100*time.Millisecond)
	assert.False(t, processed)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestQueue_RecoverStuckJobs(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 1, time.Minute)
	ctx := context.Background()

	started := time.Now().Add(-time.Hour)
	stuck := &Job{
		ID:          "stuck-1",
		Type:        JobTypeFiscalStatusCheck,
		Status:      JobStatusProcessing,
		Payload:     FiscalStatusCheckPayload{FiscalDocumentID: 4}.ToMap(),
		CreatedAt:   started,
		UpdatedAt:   started,
		ProcessedAt: &started,
		MaxRetries:  DefaultMaxRetries,
	}
	data, err := json.Marshal(stuck)
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, JobKeyPrefix+stuck.ID, data, JobTTL).Err())
	require.NoError(t, client.LPush(ctx, JobProcessingKey, stuck.ID, "orphan").Err())

	n, err := queue.RecoverStuckJobs(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	processing, err := queue.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)

	stored, err := queue.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
}

func TestManager_SweepPendingOnce(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	pending := []models.FiscalDocument{{}, {}}
	pending[0].ID = 21
	pending[1].ID = 22
	checker := &fakeChecker{pending: pending}

	manager := NewManager(client, checker, ManagerConfig{Workers: 1, RetryDelay: time.Minute})
	ctx := context.Background()

	n, err := manager.SweepPendingOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Already scheduled documents are not queued twice.
	n, err = manager.SweepPendingOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	size, err := manager.GetQueue().GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestManager_StartStop(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	manager := NewManager(client, &fakeChecker{status: models.FiscalStatusAuthorized}, ManagerConfig{Workers: 1})

	assert.False(t, manager.IsRunning())
	manager.Start()
	assert.True(t, manager.IsRunning())

	require.NoError(t, manager.Poller().EnqueueStatusCheck(context.Background(), 8))
	assert.Eventually(t, func() bool {
		stats, err := manager.GetQueue().GetJobStats(context.Background())
		return err == nil && stats[JobStatusCompleted] == 1
	}, 5*time.Second, 50*time.Millisecond)

	exists, err := client.Exists(context.Background(), scheduledKey(8)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "a settled document can be scheduled again")

	manager.Stop()
	assert.False(t, manager.IsRunning())
}
