package queue

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
	"github.com/google/uuid"
)

// ErrJobInProgress is returned by Remove when the job was already claimed by
// a worker. Running work is never interrupted.
var ErrJobInProgress = errors.New("job is already being processed")

// ErrJobExists is returned by Add when the task already has a live job on the
// same queue.
var ErrJobExists = errors.New("task already has a pending job on this queue")

// JobOptions tunes a single enqueue. Zero values fall back to the queue
// defaults registered in DefaultJobOptions.
type JobOptions struct {
	RunAt        time.Time
	MaxAttempts  int
	BackoffType  string
	BackoffDelay time.Duration
}

// DefaultJobOptions returns the retry policy of each queue. The publish queue
// retries transient platform errors a few times with growing gaps; the media
// poll queue re-checks on a fixed cadence; updates behave like publishes.
func DefaultJobOptions(queueName string) JobOptions {
	switch queueName {
	case models.QueuePostMediaTask:
		return JobOptions{
			MaxAttempts:  5,
			BackoffType:  models.BackoffTypeFixed,
			BackoffDelay: 15 * time.Second,
		}
	default:
		return JobOptions{
			MaxAttempts:  3,
			BackoffType:  models.BackoffTypeExponential,
			BackoffDelay: 5 * time.Second,
		}
	}
}

// Service is the producer-side queue API. It persists jobs; dispatchers pick
// them up.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Add enqueues one job for a task. A task holds at most one waiting job per
// queue; a second Add while one still waits returns ErrJobExists. A job that
// is currently executing does not block the Add: a running handler may stage
// a follow-up batch for the same task.
func (s *Service) Add(ctx context.Context, queueName string, taskId string, payload []byte, opts JobOptions) (*models.PublishJob, error) {
	if existing, err := models.GetActivePublishJob(ctx, queueName, taskId); err == nil {
		if existing.Status == models.JobStatusPending {
			return nil, ErrJobExists
		}
	} else if !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}

	defaults := DefaultJobOptions(queueName)
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.BackoffType == "" {
		opts.BackoffType = defaults.BackoffType
	}
	if opts.BackoffDelay <= 0 {
		opts.BackoffDelay = defaults.BackoffDelay
	}
	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}

	job := &models.PublishJob{
		ID:            uuid.NewString(),
		Queue:         queueName,
		TaskId:        taskId,
		Payload:       payload,
		Status:        models.JobStatusPending,
		MaxAttempts:   opts.MaxAttempts,
		BackoffType:   opts.BackoffType,
		BackoffDelay:  opts.BackoffDelay.Milliseconds(),
		RunAt:         runAt,
		CorrelationId: utils.GetCorrelationId(ctx),
	}
	if err := models.CreatePublishJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.PublishJob, error) {
	return models.GetPublishJob(ctx, id)
}

// Remove cancels one waiting job. Jobs already claimed by a worker return
// ErrJobInProgress; finished jobs return ErrorRecordNotFound.
func (s *Service) Remove(ctx context.Context, id string) error {
	job, err := models.GetPublishJob(ctx, id)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.JobStatusProcessing:
		return ErrJobInProgress
	case models.JobStatusPending:
		removed, err := models.DeleteWaitingPublishJob(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			// Claimed between the read and the delete.
			return ErrJobInProgress
		}
		return nil
	default:
		return utils.ErrorRecordNotFound
	}
}
