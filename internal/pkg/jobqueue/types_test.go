package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{"Pending", JobStatusPending, "pending"},
		{"Processing", JobStatusProcessing, "processing"},
		{"Completed", JobStatusCompleted, "completed"},
		{"Failed", JobStatusFailed, "failed"},
		{"Retrying", JobStatusRetrying, "retrying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
	assert.Equal(t, "fiscal_status_check", string(JobTypeFiscalStatusCheck))
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{"failed with retries remaining", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"failed with no retries remaining", &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"completed", &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3}, false},
		{"processing", &Job{Status: JobStatusProcessing, MaxRetries: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StateMethods(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}
	before := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(before))

	job.MarkAsFailed("provider down")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "provider down", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}

// Payloads come back from Redis with numbers decoded as float64.
func TestFiscalStatusCheckPayloadFromStoredJob(t *testing.T) {
	job := Job{
		ID:      "job-1",
		Type:    JobTypeFiscalStatusCheck,
		Payload: FiscalStatusCheckPayload{FiscalDocumentID: 42, Complete: true}.ToMap(),
	}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var stored Job
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.IsType(t, float64(0), stored.Payload["fiscal_document_id"])

	payload, err := FiscalStatusCheckPayloadFromMap(stored.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint(42), payload.FiscalDocumentID)
	assert.True(t, payload.Complete)
}

func TestFiscalStatusCheckPayloadFromMap_Invalid(t *testing.T) {
	_, err := FiscalStatusCheckPayloadFromMap(map[string]interface{}{"fiscal_document_id": "abc"})
	assert.Error(t, err)
}
