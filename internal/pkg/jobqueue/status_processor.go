package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/fiscal"
)

const scheduledKeyPrefix = "fiscal:poll:scheduled:"

// StatusChecker is the part of the fiscal service the poller drives.
type StatusChecker interface {
	CheckStatus(ctx context.Context, tenantID string, documentID uint, complete bool) (*fiscal.CheckResult, error)
	PendingDocuments(ctx context.Context, olderThan time.Duration, limit int) ([]models.FiscalDocument, error)
}

// NewStatusCheckHandler polls the provider for the document in the job. A
// document still waiting for an outcome is retried with backoff. onDone runs
// once the job will not be attempted again, whatever the outcome.
func NewStatusCheckHandler(checker StatusChecker, onDone func(ctx context.Context, documentID uint)) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := FiscalStatusCheckPayloadFromMap(job.Payload)
		if err != nil || payload.FiscalDocumentID == 0 {
			return fmt.Errorf("%w: invalid status check payload", ErrPermanent)
		}

		err = checkStatus(ctx, checker, payload)
		lastAttempt := job.RetryCount+1 >= job.MaxRetries
		if onDone != nil && (err == nil || errors.Is(err, ErrPermanent) || lastAttempt) {
			onDone(ctx, payload.FiscalDocumentID)
		}
		return err
	}
}

func checkStatus(ctx context.Context, checker StatusChecker, payload *FiscalStatusCheckPayload) error {
	res, err := checker.CheckStatus(ctx, "", payload.FiscalDocumentID, payload.Complete)
	if err != nil {
		switch fiscal.KindOf(err) {
		case fiscal.KindNotFound, fiscal.KindValidation, fiscal.KindConfiguration:
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return err
	}

	if res.Document != nil && res.Document.Status.IsPending() {
		return fmt.Errorf("%w: document %d is still %s", ErrRetryLater, res.Document.ID, res.Document.Status)
	}

	if res.Document != nil {
		log.Infof("[StatusPoller] Document %d settled as %s", res.Document.ID, res.Document.Status)
	}
	return nil
}

// BackoffWindow is how long a job may stay outstanding when every attempt is
// retried: the linear delays of all retries plus one more step.
func BackoffWindow(retryDelay time.Duration, maxRetries int) time.Duration {
	steps := maxRetries * (maxRetries + 1) / 2
	return retryDelay * time.Duration(steps)
}

// StatusPoller enqueues status check jobs. It implements fiscal.StatusPoller.
type StatusPoller struct {
	queue  *Queue
	client *redis.Client
	dedupe time.Duration
}

// NewStatusPoller creates a poller. Scheduling a document again is a no-op
// until Release is called for it or dedupe has passed.
func NewStatusPoller(queue *Queue, client *redis.Client, dedupe time.Duration) *StatusPoller {
	return &StatusPoller{queue: queue, client: client, dedupe: dedupe}
}

// EnqueueStatusCheck schedules a poll for documentID.
func (p *StatusPoller) EnqueueStatusCheck(ctx context.Context, documentID uint) error {
	if p.dedupe > 0 && p.client != nil {
		ok, err := p.client.SetNX(ctx, scheduledKey(documentID), "1", p.dedupe).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	_, err := p.queue.EnqueueJob(ctx, JobTypeFiscalStatusCheck, FiscalStatusCheckPayload{FiscalDocumentID: documentID}.ToMap())
	return err
}

// Release drops the scheduling marker of documentID.
func (p *StatusPoller) Release(ctx context.Context, documentID uint) {
	if p.client == nil {
		return
	}
	if err := p.client.Del(ctx, scheduledKey(documentID)).Err(); err != nil {
		log.Warnf("[StatusPoller] Failed to release document %d: %v", documentID, err)
	}
}

func scheduledKey(documentID uint) string {
	return scheduledKeyPrefix + strconv.FormatUint(uint64(documentID), 10)
}
