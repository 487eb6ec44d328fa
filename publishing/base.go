package publishing

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StatusChangeHook fires after a task status transition is persisted. Hooks
// must not block for long; failures are the hook's own problem.
type StatusChangeHook func(ctx context.Context, event config.PublishStatusEvent)

// Core bundles the stores, the queue and the logger shared by the service,
// the consumers and the providers.
type Core struct {
	Tasks    TaskStore
	Media    MediaStore
	Records  RecordStore
	Accounts AccountStore
	Jobs     JobQueue
	Logger   *logrus.Logger

	hookMu sync.RWMutex
	hooks  []StatusChangeHook
}

func NewCore(logger *logrus.Logger) *Core {
	return &Core{
		Tasks:    GormTaskStore{},
		Media:    GormMediaStore{},
		Records:  GormRecordStore{},
		Accounts: GormAccountStore{},
		Jobs:     queue.NewService(),
		Logger:   logger,
	}
}

// RegisterStatusHook adds a status-change listener. Explicit hooks, not a
// broadcast bus: the registered set is fixed at startup.
func (c *Core) RegisterStatusHook(hook StatusChangeHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.hooks = append(c.hooks, hook)
}

func (c *Core) fireStatusChange(ctx context.Context, task *models.PublishTask, oldStatus models.PublishStatus, errMsg string) {
	c.hookMu.RLock()
	hooks := c.hooks
	c.hookMu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	event := config.PublishStatusEvent{
		TaskId:      task.ID,
		FlowId:      task.FlowId,
		UserId:      task.UserId,
		AccountId:   task.AccountId,
		AccountType: string(task.AccountType),
		OldStatus:   string(oldStatus),
		NewStatus:   string(task.Status),
		DataId:      task.DataId,
		WorkLink:    task.WorkLink,
		ErrorMsg:    errMsg,
		OccurredAt:  time.Now().UTC(),
	}
	for _, hook := range hooks {
		hook(ctx, event)
	}
}

// GeneratePostMessage builds the caption: description with hashtagged topics
// appended, or just the hashtags when there is no description.
func GeneratePostMessage(task *models.PublishTask) string {
	var parts []string
	if task.Desc != "" {
		parts = append(parts, task.Desc)
	}
	for _, topic := range task.Topics {
		topic = strings.TrimSpace(strings.TrimPrefix(topic, "#"))
		if topic == "" {
			continue
		}
		parts = append(parts, "#"+topic)
	}
	return strings.Join(parts, " ")
}

// FinalizePayload is the post_media_task job body.
type FinalizePayload struct {
	TaskId string `json:"task_id"`
	JobId  string `json:"job_id"`
}

// SavePostMedia records one staged container. The platform TaskId may still
// be empty when staging failed upstream.
func (c *Core) SavePostMedia(ctx context.Context, container *models.PostMediaContainer) error {
	if container.ID == "" {
		container.ID = uuid.NewString()
	}
	if container.Status == "" {
		container.Status = models.PostMediaStatusCreated
	}
	return c.Media.Create(ctx, container)
}

// EnqueueFinalize queues the finalize pass for one container batch. Providers
// call it only after the LAST container of the batch is staged: the media
// queue starts polling the moment the job exists, and a job raised mid-loop
// would aggregate a partial batch as complete. A second enqueue for the same
// task reuses the waiting job.
func (c *Core) EnqueueFinalize(ctx context.Context, task *models.PublishTask, jobId string) error {
	payload, err := json.Marshal(FinalizePayload{TaskId: task.ID, JobId: jobId})
	if err != nil {
		return err
	}
	_, err = c.Jobs.Add(ctx, models.QueuePostMediaTask, task.ID, payload, queue.JobOptions{})
	if err != nil && err != queue.ErrJobExists {
		return err
	}
	return nil
}

// MediaAggregate is the outcome of one poll pass over a container batch.
type MediaAggregate struct {
	IsCompleted bool
	HasFailed   bool
	FailedMsg   string
	Medias      []*models.PostMediaContainer
}

// MediasProcessingStatus loads the batch for (task, jobId) and polls every
// container not yet FINISHED through the provider. The first FAILED stops
// polling the rest. Zero containers is a non-retryable error: the batch was
// staged before this job could exist.
func (c *Core) MediasProcessingStatus(ctx context.Context, provider Provider, task *models.PublishTask, account *models.ChannelAccount, jobId string) (*MediaAggregate, error) {
	containers, err := c.Media.ListBatch(ctx, task.ID, jobId)
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, NewTaskError("no media containers found for task %s job %s", task.ID, jobId)
	}

	vocab := provider.Vocabulary()
	agg := &MediaAggregate{IsCompleted: true, Medias: containers}
	for _, container := range containers {
		if container.Status == models.PostMediaStatusFinished {
			continue
		}
		raw, err := provider.GetMediaProcessingStatus(ctx, account, container.TaskId)
		if err != nil {
			return nil, err
		}
		switch raw {
		case vocab.Completed:
			if err := c.Media.UpdateStatus(ctx, container.ID, models.PostMediaStatusFinished, ""); err != nil {
				return nil, err
			}
			container.Status = models.PostMediaStatusFinished
		case vocab.Failed:
			msg := "media processing failed on platform"
			if err := c.Media.UpdateStatus(ctx, container.ID, models.PostMediaStatusFailed, msg); err != nil {
				return nil, err
			}
			container.Status = models.PostMediaStatusFailed
			agg.HasFailed = true
			agg.FailedMsg = msg
			agg.IsCompleted = false
			return agg, nil
		default:
			if container.Status != models.PostMediaStatusInProgress {
				if err := c.Media.UpdateStatus(ctx, container.ID, models.PostMediaStatusInProgress, ""); err != nil {
					return nil, err
				}
				container.Status = models.PostMediaStatusInProgress
			}
			agg.IsCompleted = false
		}
	}
	return agg, nil
}

// CompletePublishTask is the single canonical "mark published" procedure.
// It stamps the platform ids, clears dispatch state, then writes the
// PublishRecord best-effort: the post already exists on the platform, so a
// record-write failure is logged and does not revert the status.
func (c *Core) CompletePublishTask(ctx context.Context, task *models.PublishTask, result *PublishingTaskResult) error {
	oldStatus := task.Status
	now := time.Now().UTC()
	published := models.PublishStatusPublished
	empty := ""
	flag := false
	upd := models.PublishTaskUpdate{
		Status:      &published,
		ErrorMsg:    &empty,
		Queued:      &flag,
		InQueue:     &flag,
		PublishTime: &now,
	}
	if result != nil {
		if result.DataId != "" {
			upd.DataId = &result.DataId
		}
		if result.WorkLink != "" {
			upd.WorkLink = &result.WorkLink
		}
	}
	if err := c.Tasks.Update(ctx, task.ID, upd); err != nil {
		return err
	}
	task.Status = published
	task.ErrorMsg = ""
	task.PublishTime = now
	if result != nil {
		if result.DataId != "" {
			task.DataId = result.DataId
		}
		if result.WorkLink != "" {
			task.WorkLink = result.WorkLink
		}
	}

	record := &models.PublishRecord{
		ID:          uuid.NewString(),
		TaskId:      task.ID,
		FlowId:      task.FlowId,
		UserId:      task.UserId,
		AccountId:   task.AccountId,
		AccountType: task.AccountType,
		Type:        task.Type,
		Title:       task.Title,
		Status:      published,
		DataId:      task.DataId,
		WorkLink:    task.WorkLink,
		PublishTime: now,
	}
	if err := c.Records.Create(ctx, record); err != nil {
		config.LogError(c.Logger, "publishing", "CompletePublishTask",
			"publish record write failed for task "+task.ID, nil, err)
	}

	c.fireStatusChange(ctx, task, oldStatus, "")
	return nil
}

// FailPublishTask writes the terminal failure status and errorMsg, the only
// externally observable failure signal.
func (c *Core) FailPublishTask(ctx context.Context, task *models.PublishTask, status models.PublishStatus, errMsg string) error {
	oldStatus := task.Status
	flag := false
	upd := models.PublishTaskUpdate{
		Status:   &status,
		ErrorMsg: &errMsg,
		Queued:   &flag,
		InQueue:  &flag,
	}
	if err := c.Tasks.Update(ctx, task.ID, upd); err != nil {
		return err
	}
	task.Status = status
	task.ErrorMsg = errMsg
	c.fireStatusChange(ctx, task, oldStatus, errMsg)
	return nil
}

// SetTaskStatus persists a non-terminal transition (PUBLISHING, UPDATING).
func (c *Core) SetTaskStatus(ctx context.Context, task *models.PublishTask, status models.PublishStatus) error {
	oldStatus := task.Status
	if err := c.Tasks.Update(ctx, task.ID, models.PublishTaskUpdate{Status: &status}); err != nil {
		return err
	}
	task.Status = status
	c.fireStatusChange(ctx, task, oldStatus, "")
	return nil
}
