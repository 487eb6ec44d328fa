package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler runs one claimed job. A nil return marks the job SUCCEEDED. A
// non-nil return is classified through RetryableError: retryable errors are
// rescheduled with backoff until attempts run out, anything else fails the
// job immediately.
type Handler func(ctx context.Context, job *models.PublishJob) error

// RetryableError lets a handler error opt in to retry. Errors that do not
// implement it are treated as permanent.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable walks the error chain for a RetryableError verdict. Unknown
// errors fail closed.
func IsRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// Dispatcher polls one queue and runs claimed jobs on a fixed-size worker
// pool. A lock held longer than LockTTL means the worker stalled; the row is
// reclaimed once, then killed.
type Dispatcher struct {
	Queue    string
	Logger   *logrus.Logger
	WorkerID string
	Handler  Handler

	// OnJobDead fires after a job reaches a terminal failure (permanent
	// error, retries exhausted, or stalled past MaxStalled), so the owner of
	// the task can mark it failed. Optional.
	OnJobDead func(ctx context.Context, job *models.PublishJob, errMsg string)

	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	LockTTL      time.Duration
	MaxStalled   int
}

func NewDispatcher(queueName string, logger *logrus.Logger, handler Handler) *Dispatcher {
	return &Dispatcher{
		Queue:        queueName,
		Logger:       logger,
		WorkerID:     queueName + "-" + uuid.NewString(),
		Handler:      handler,
		Concurrency:  3,
		BatchSize:    10,
		PollInterval: time.Second,
		LockTTL:      15 * time.Second,
		MaxStalled:   1,
	}
}

// Run blocks until ctx is cancelled. Claimed jobs are fanned out to
// Concurrency workers; the send blocks while all workers are busy, so at
// most Concurrency jobs of this queue run at once.
func (d *Dispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	jobs := make(chan *models.PublishJob)
	var wg sync.WaitGroup
	for i := 0; i < d.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				d.process(ctx, job)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		claimed, err := models.ClaimPublishJobs(ctx, d.Queue, d.WorkerID, d.BatchSize, d.LockTTL, d.MaxStalled)
		if err != nil {
			logQueueError(d.Logger, d.Queue, "claim failed", err)
		}
		for _, job := range claimed {
			if job.Status == models.JobStatusFailed {
				// Killed during claim for stalling too often.
				d.finalize(ctx, job, derefOr(job.LastError, "job stalled too many times"))
				continue
			}
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job *models.PublishJob) {
	jobCtx := utils.SetWorkerIdInContext(ctx, d.WorkerID)
	if job.CorrelationId != "" {
		jobCtx = utils.SetCorrelationIdInContext(jobCtx, job.CorrelationId)
	}

	err := d.Handler(jobCtx, job)
	if err == nil {
		if markErr := models.MarkPublishJobSucceeded(ctx, job.ID); markErr != nil {
			logQueueError(d.Logger, d.Queue, "mark succeeded failed", markErr)
		}
		return
	}

	if IsRetryable(err) && job.Attempts < job.MaxAttempts {
		delay := NextBackoff(job.BackoffType, time.Duration(job.BackoffDelay)*time.Millisecond, job.Attempts)
		next := time.Now().UTC().Add(delay)
		if markErr := models.MarkPublishJobRetry(ctx, job.ID, next, err.Error()); markErr != nil {
			logQueueError(d.Logger, d.Queue, "mark retry failed", markErr)
		}
		d.Logger.WithFields(logrus.Fields{
			"queue":           d.Queue,
			"job_id":          job.ID,
			"task_id":         job.TaskId,
			"attempt":         job.Attempts,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Warn("job failed, will retry: " + err.Error())
		return
	}

	dead := IsRetryable(err) // retries exhausted
	if markErr := models.MarkPublishJobFailed(ctx, job.ID, err.Error(), dead); markErr != nil {
		logQueueError(d.Logger, d.Queue, "mark failed failed", markErr)
	}
	d.Logger.WithFields(logrus.Fields{
		"queue":   d.Queue,
		"job_id":  job.ID,
		"task_id": job.TaskId,
		"attempt": job.Attempts,
		"dead":    dead,
	}).Error("job failed permanently: " + err.Error())
	d.finalize(ctx, job, err.Error())
}

func (d *Dispatcher) finalize(ctx context.Context, job *models.PublishJob, errMsg string) {
	if d.OnJobDead == nil {
		return
	}
	d.OnJobDead(ctx, job, errMsg)
}

func derefOr(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}

func logQueueError(logger *logrus.Logger, queueName string, msg string, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{"queue": queueName}).Error(msg + ": " + err.Error())
}
