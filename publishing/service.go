package publishing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/queue"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
	"github.com/google/uuid"
)

// ImmediatePublishTolerance is the window around "now" inside which a task
// is dispatched immediately instead of waiting for the scanner.
const ImmediatePublishTolerance = 30 * time.Second

var (
	ErrTaskNotFound      = errors.New("publish task not found")
	ErrTaskInProgress    = errors.New("publish task is in progress")
	ErrTaskNotPublished  = errors.New("publish task is not published yet")
	ErrTaskStatusInvalid = errors.New("publish task status does not allow this operation")
	ErrUpdateUnsupported = errors.New("platform does not support updating a published post")
)

// Service is the orchestration façade: it creates tasks, decides immediate
// versus scheduled dispatch, enqueues jobs and exposes query and cancel
// operations.
type Service struct {
	Core     *Core
	Registry *Registry
}

func NewService(core *Core, registry *Registry) *Service {
	return &Service{Core: core, Registry: registry}
}

// CreatePublishTaskInput is the external create request.
type CreatePublishTaskInput struct {
	FlowId      string               `json:"flow_id" validate:"required"`
	AccountId   string               `json:"account_id" validate:"required"`
	AccountType models.AccountType   `json:"account_type" validate:"required"`
	Type        models.PublishType   `json:"type" validate:"required,oneof=video image article"`
	Title       string               `json:"title"`
	Desc        string               `json:"desc"`
	VideoUrl    string               `json:"video_url"`
	CoverUrl    string               `json:"cover_url"`
	ImgUrlList  []string             `json:"img_url_list"`
	Topics      []string             `json:"topics"`
	Option      models.PublishOption `json:"option"`
	PublishTime time.Time            `json:"publish_time"`
	UserId      string               `json:"user_id"`
}

// defaultMetaPostCategory fills the content category for Meta platforms when
// the caller left it out: Facebook defaults to post, Instagram to reel when
// the task carries a video and post otherwise.
func defaultMetaPostCategory(input *CreatePublishTaskInput) {
	switch input.AccountType {
	case models.AccountTypeFacebook:
		if input.Option.Facebook == nil {
			input.Option.Facebook = &models.FacebookOption{}
		}
		if input.Option.Facebook.ContentCategory == "" {
			input.Option.Facebook.ContentCategory = "post"
		}
	case models.AccountTypeInstagram:
		if input.Option.Instagram == nil {
			input.Option.Instagram = &models.InstagramOption{}
		}
		if input.Option.Instagram.ContentCategory == "" {
			if input.VideoUrl != "" {
				input.Option.Instagram.ContentCategory = "reel"
			} else {
				input.Option.Instagram.ContentCategory = "post"
			}
		}
	}
}

// activeOptionVariant picks the option sub-struct matching the task's
// platform. Only the active variant is validated; the others are ignored.
func activeOptionVariant(task *models.PublishTask) interface{} {
	switch task.AccountType {
	case models.AccountTypeBilibili:
		if task.Option.Bilibili != nil {
			return task.Option.Bilibili
		}
	case models.AccountTypeYoutube:
		if task.Option.Youtube != nil {
			return task.Option.Youtube
		}
	case models.AccountTypeFacebook:
		if task.Option.Facebook != nil {
			return task.Option.Facebook
		}
	case models.AccountTypeInstagram:
		if task.Option.Instagram != nil {
			return task.Option.Instagram
		}
	case models.AccountTypeTiktok:
		if task.Option.Tiktok != nil {
			return task.Option.Tiktok
		}
	}
	return nil
}

// CreateTask validates the request, persists the task and, when the publish
// time falls inside the immediate window, enqueues the publish job before
// returning. Duplicate flowIds are rejected, never overwritten.
func (s *Service) CreateTask(ctx context.Context, input *CreatePublishTaskInput) (*models.PublishTask, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, NewTaskError("invalid publish task: %v", err)
	}
	provider, ok := s.Registry.Get(input.AccountType)
	if !ok {
		return nil, NewTaskError("unsupported platform %s", input.AccountType)
	}
	defaultMetaPostCategory(input)

	account, err := s.Core.Accounts.Get(ctx, input.AccountId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, NewTaskError("account %s not found", input.AccountId)
		}
		return nil, err
	}

	publishTime := input.PublishTime
	if publishTime.IsZero() {
		publishTime = time.Now().UTC()
	}

	task := &models.PublishTask{
		ID:          uuid.NewString(),
		FlowId:      input.FlowId,
		UserId:      account.UserId,
		AccountId:   input.AccountId,
		AccountType: input.AccountType,
		Uid:         account.Uid,
		Type:        input.Type,
		Title:       input.Title,
		Desc:        input.Desc,
		VideoUrl:    input.VideoUrl,
		CoverUrl:    input.CoverUrl,
		ImgUrlList:  input.ImgUrlList,
		Topics:      input.Topics,
		Option:      input.Option,
		Status:      models.PublishStatusWaitingForPublish,
		QueueId:     "publish:" + string(input.AccountType) + ":" + uuid.NewString(),
		PublishTime: publishTime,
	}
	if variant := activeOptionVariant(task); variant != nil {
		if err := utils.ValidateStruct(variant); err != nil {
			return nil, NewTaskError("invalid %s option: %v", task.AccountType, err)
		}
	}
	if err := provider.ValidatePublishParams(task); err != nil {
		return nil, err
	}
	if err := s.Core.Tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	if publishTime.After(time.Now().UTC().Add(ImmediatePublishTolerance)) {
		s.Core.Logger.WithField("task_id", task.ID).
			Info("publish task created, scheduled for " + publishTime.Format(time.RFC3339))
		return task, nil
	}
	if err := s.enqueuePublishTask(ctx, task); err != nil {
		return nil, err
	}
	s.Core.Logger.WithField("task_id", task.ID).Info("publish task created and queued immediately")
	return task, nil
}

// ImmediatePayload is the post_publish job body.
type ImmediatePayload struct {
	TaskId string `json:"task_id"`
}

func (s *Service) enqueuePublishTask(ctx context.Context, task *models.PublishTask) error {
	payload, err := json.Marshal(ImmediatePayload{TaskId: task.ID})
	if err != nil {
		return err
	}
	job, err := s.Core.Jobs.Add(ctx, models.QueuePostPublish, task.ID, payload, queue.JobOptions{})
	if err != nil {
		if errors.Is(err, queue.ErrJobExists) {
			return nil
		}
		return err
	}
	flag := true
	return s.Core.Tasks.Update(ctx, task.ID, models.PublishTaskUpdate{
		QueueId: &job.ID,
		Queued:  &flag,
		InQueue: &flag,
	})
}

// EnqueueNow forces a scheduled task into the queue immediately.
func (s *Service) EnqueueNow(ctx context.Context, id string) error {
	task, err := s.Core.Tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	if task.Status != models.PublishStatusWaitingForPublish {
		return ErrTaskStatusInvalid
	}
	now := time.Now().UTC()
	if err := s.Core.Tasks.Update(ctx, task.ID, models.PublishTaskUpdate{PublishTime: &now}); err != nil {
		return err
	}
	return s.enqueuePublishTask(ctx, task)
}

// UpdateTaskInput carries an in-place edit of an already published post.
type UpdateTaskInput struct {
	Id         string               `json:"id" validate:"required"`
	UserId     string               `json:"user_id" validate:"required"`
	Title      string               `json:"title"`
	Desc       string               `json:"desc"`
	VideoUrl   string               `json:"video_url"`
	ImgUrlList []string             `json:"img_url_list"`
	Topics     []string             `json:"topics"`
	Option     *models.PublishOption `json:"option"`
}

// UpdateTask enters the update sub-machine: applies the new content to the
// task row, moves it to WAITING_FOR_UPDATE and enqueues the update job. Only
// PUBLISHED tasks on platforms with in-place edit support qualify.
func (s *Service) UpdateTask(ctx context.Context, input *UpdateTaskInput) error {
	if err := utils.ValidateStruct(input); err != nil {
		return NewTaskError("invalid update request: %v", err)
	}
	task, err := s.Core.Tasks.Get(ctx, input.Id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	if task.UserId != input.UserId {
		return ErrTaskNotFound
	}
	if task.Status != models.PublishStatusPublished {
		return ErrTaskNotPublished
	}
	provider, ok := s.Registry.Get(task.AccountType)
	if !ok || !provider.SupportsUpdate() {
		return ErrUpdateUnsupported
	}
	if task.AccountType == models.AccountTypeFacebook &&
		(task.Option.Facebook == nil || task.Option.Facebook.ContentCategory != "post") {
		return NewTaskError("only the post category supports updates on facebook")
	}

	contentType := "text"
	if input.VideoUrl != "" {
		contentType = "video"
	} else if len(input.ImgUrlList) > 0 {
		contentType = "image"
	}

	waiting := models.PublishStatusWaitingForUpdate
	upd := models.PublishTaskUpdate{
		Status:     &waiting,
		Desc:       &input.Desc,
		Topics:     input.Topics,
		ImgUrlList: input.ImgUrlList,
		Option:     input.Option,
	}
	if input.VideoUrl != "" {
		upd.VideoUrl = &input.VideoUrl
	}
	if err := s.Core.Tasks.Update(ctx, task.ID, upd); err != nil {
		return err
	}

	payload, err := json.Marshal(UpdatePayload{TaskId: task.ID, ContentType: contentType})
	if err != nil {
		return err
	}
	job, err := s.Core.Jobs.Add(ctx, models.QueueUpdatePublishedPost, task.ID, payload, queue.JobOptions{})
	if err != nil {
		if errors.Is(err, queue.ErrJobExists) {
			return nil
		}
		return err
	}
	flag := true
	return s.Core.Tasks.Update(ctx, task.ID, models.PublishTaskUpdate{
		QueueId: &job.ID,
		Queued:  &flag,
		InQueue: &flag,
	})
}

// ChangeTime reschedules a waiting task. The currently queued job, if any,
// is removed; the scanner re-dispatches the task at the new time. A job that
// is already executing rejects the reschedule.
func (s *Service) ChangeTime(ctx context.Context, id string, publishTime time.Time, userId string) error {
	task, err := s.Core.Tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	if task.UserId != userId {
		return ErrTaskNotFound
	}
	if task.Status != models.PublishStatusWaitingForPublish {
		return ErrTaskStatusInvalid
	}
	if task.InQueue && task.QueueId != "" {
		if err := s.removeQueuedJob(ctx, task.QueueId); err != nil {
			return err
		}
	}
	flag := false
	return s.Core.Tasks.Update(ctx, task.ID, models.PublishTaskUpdate{
		PublishTime: &publishTime,
		Queued:      &flag,
		InQueue:     &flag,
	})
}

// DeleteTask removes a task after cancelling its queued job. A job already
// executing cannot be cancelled mid-flight, so the delete is rejected.
func (s *Service) DeleteTask(ctx context.Context, id string, userId string) error {
	task, err := s.Core.Tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	switch task.Status {
	case models.PublishStatusPublishing, models.PublishStatusUpdating:
		return ErrTaskInProgress
	}
	if task.Queued && task.QueueId != "" {
		if err := s.removeQueuedJob(ctx, task.QueueId); err != nil {
			return err
		}
	}
	if err := s.Core.Media.DeleteByPublishId(ctx, task.ID); err != nil {
		return err
	}
	deleted, err := s.Core.Tasks.Delete(ctx, id, userId)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Service) removeQueuedJob(ctx context.Context, jobId string) error {
	err := s.Core.Jobs.Remove(ctx, jobId)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrJobInProgress):
		return ErrTaskInProgress
	case errors.Is(err, utils.ErrorRecordNotFound):
		// Job already finished or was never created; nothing to cancel.
		return nil
	default:
		return err
	}
}

func (s *Service) GetTaskById(ctx context.Context, id string) (*models.PublishTask, error) {
	task, err := s.Core.Tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *Service) GetTaskByFlowId(ctx context.Context, flowId string, userId string) (*models.PublishTask, error) {
	task, err := s.Core.Tasks.GetByFlowId(ctx, flowId, userId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, filter models.PublishTaskFilter) ([]*models.PublishTask, error) {
	return s.Core.Tasks.List(ctx, filter)
}

func (s *Service) ListRecords(ctx context.Context, filter models.PublishRecordFilter) ([]*models.PublishRecord, error) {
	return s.Core.Records.List(ctx, filter)
}

// TikTokWebhookEvent is the raw webhook payload from TikTok.
type TikTokWebhookEvent struct {
	Event      string `json:"event"`
	UserOpenId string `json:"user_openid"`
	Content    string `json:"content"`
}

type tiktokWebhookContent struct {
	PublishId string `json:"publish_id"`
	PostId    string `json:"post_id"`
}

// HandleTikTokWebhook completes a TikTok task once the platform reports the
// post as delivered. The webhook is translated into the same status-update
// surface the consumers use; unknown events are ignored.
func (s *Service) HandleTikTokWebhook(ctx context.Context, event *TikTokWebhookEvent) error {
	if !strings.HasPrefix(event.Event, "post.publish") {
		s.Core.Logger.WithField("event", event.Event).Warn("ignoring unknown tiktok webhook event")
		return nil
	}
	var content tiktokWebhookContent
	if err := json.Unmarshal([]byte(event.Content), &content); err != nil {
		return NewTaskError("malformed tiktok webhook content: %v", err)
	}
	if content.PublishId == "" {
		return NewTaskError("tiktok webhook carries no publish_id")
	}
	task, err := s.Core.Tasks.GetByDataId(ctx, content.PublishId, event.UserOpenId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			s.Core.Logger.WithField("publish_id", content.PublishId).
				Warn("no publish task for tiktok webhook")
			return nil
		}
		return err
	}

	switch event.Event {
	case "post.publish.complete", "post.publish.inbox_delivered", "post.publish.publicly_available":
		if task.Status == models.PublishStatusPublished {
			return nil
		}
		result := &PublishingTaskResult{Status: models.PublishStatusPublished, DataId: task.DataId, WorkLink: task.WorkLink}
		if content.PostId != "" {
			result.DataId = content.PostId
		}
		return s.Core.CompletePublishTask(ctx, task, result)
	case "post.publish.failed":
		return s.Core.FailPublishTask(ctx, task, models.PublishStatusFailed, "tiktok reported publish failure")
	default:
		s.Core.Logger.WithField("event", event.Event).Warn("unhandled tiktok webhook event")
		return nil
	}
}
