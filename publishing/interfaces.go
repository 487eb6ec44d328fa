package publishing

import (
	"context"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/queue"
)

// PublishingTaskResult is what a provider call hands back to the state
// machine.
type PublishingTaskResult struct {
	Status   models.PublishStatus
	DataId   string
	WorkLink string
	Message  string
}

// StatusVocabulary maps a platform's raw media-processing strings onto the
// three canonical states. Providers with their own vocabulary override the
// defaults.
type StatusVocabulary struct {
	Processing string
	Completed  string
	Failed     string
}

func DefaultStatusVocabulary() StatusVocabulary {
	return StatusVocabulary{Processing: "processing", Completed: "completed", Failed: "failed"}
}

// Provider is the per-platform publish contract. ImmediatePublish either
// completes synchronously (PUBLISHED) or stages media containers and returns
// PUBLISHING, in which case FinalizePublish aggregates them later once all
// containers finish.
type Provider interface {
	Platform() models.AccountType

	// ValidatePublishParams runs platform pre-flight checks on the task.
	ValidatePublishParams(task *models.PublishTask) error

	ImmediatePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error)

	// FinalizePublish is called only when every container of the task's
	// current batch reached FINISHED. Synchronous providers never stage
	// containers, so it is never called for them.
	FinalizePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error)

	// GetMediaProcessingStatus returns the platform's raw status string for
	// one staged container, to be mapped through Vocabulary.
	GetMediaProcessingStatus(ctx context.Context, account *models.ChannelAccount, mediaId string) (string, error)

	// UpdatePublishedPost edits an already live post in place. Providers
	// without in-place edit return a not-supported error.
	UpdatePublishedPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount, contentType string) (*PublishingTaskResult, error)

	// SupportsUpdate gates the update sub-machine before a job is enqueued.
	SupportsUpdate() bool

	Vocabulary() StatusVocabulary
}

// TaskStore is the durable PublishTask surface the consumers and the
// orchestration service run against.
type TaskStore interface {
	Create(ctx context.Context, task *models.PublishTask) error
	Get(ctx context.Context, id string) (*models.PublishTask, error)
	GetByFlowId(ctx context.Context, flowId string, userId string) (*models.PublishTask, error)
	GetByDataId(ctx context.Context, dataId string, uid string) (*models.PublishTask, error)
	List(ctx context.Context, filter models.PublishTaskFilter) ([]*models.PublishTask, error)
	ListDue(ctx context.Context, end time.Time) ([]*models.PublishTask, error)
	Update(ctx context.Context, id string, upd models.PublishTaskUpdate) error
	Delete(ctx context.Context, id string, userId string) (bool, error)
}

// MediaStore is the media staging surface. Intentionally dumb: no polling
// logic, just rows.
type MediaStore interface {
	Create(ctx context.Context, container *models.PostMediaContainer) error
	ListBatch(ctx context.Context, publishId string, jobId string) ([]*models.PostMediaContainer, error)
	CountFinished(ctx context.Context, publishId string, jobId string) (int64, error)
	UpdateStatus(ctx context.Context, id string, status models.PostMediaStatus, errorMsg string) error
	DeleteByPublishId(ctx context.Context, publishId string) error
}

type RecordStore interface {
	Create(ctx context.Context, record *models.PublishRecord) error
	List(ctx context.Context, filter models.PublishRecordFilter) ([]*models.PublishRecord, error)
}

// AccountStore looks up linked platform accounts and invalidates their
// credentials after an auth failure.
type AccountStore interface {
	Get(ctx context.Context, id string) (*models.ChannelAccount, error)
	Invalidate(ctx context.Context, id string) error
}

// JobQueue is the producer side of the durable queue. Satisfied by
// *queue.Service.
type JobQueue interface {
	Add(ctx context.Context, queueName string, taskId string, payload []byte, opts queue.JobOptions) (*models.PublishJob, error)
	Get(ctx context.Context, id string) (*models.PublishJob, error)
	Remove(ctx context.Context, id string) error
}

// MediaURLResolver turns stored media references (gs:// objects) into URLs
// the platforms can fetch.
type MediaURLResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}
