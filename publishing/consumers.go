package publishing

import (
	"context"
	"encoding/json"
	"errors"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
)

// Consumers hosts the three queue handlers. Each handler drives one phase of
// the task state machine and classifies its errors through the central
// handler before anything reaches the queue runtime.
type Consumers struct {
	Core     *Core
	Registry *Registry
}

func NewConsumers(core *Core, registry *Registry) *Consumers {
	return &Consumers{Core: core, Registry: registry}
}

// UpdatePayload is the update_published_post job body.
type UpdatePayload struct {
	TaskId      string `json:"task_id"`
	ContentType string `json:"content_type"`
}

func (c *Consumers) loadTask(ctx context.Context, taskId string) (*models.PublishTask, error) {
	task, err := c.Core.Tasks.Get(ctx, taskId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			// Task deleted after the job was queued. Nothing to do.
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

func (c *Consumers) loadProviderAndAccount(ctx context.Context, task *models.PublishTask) (Provider, *models.ChannelAccount, error) {
	provider, ok := c.Registry.Get(task.AccountType)
	if !ok {
		return nil, nil, NewTaskError("unsupported platform %s", task.AccountType)
	}
	account, err := c.Core.Accounts.Get(ctx, task.AccountId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, nil, NewTaskError("account %s not found", task.AccountId)
		}
		return nil, nil, err
	}
	if account.AccessStatus == models.AccessStatusInvalid {
		return nil, nil, NewTaskError("account %s credential is invalid, re-authorize first", task.AccountId)
	}
	return provider, account, nil
}

// HandleImmediatePublish drives WaitingForPublish -> PUBLISHING and onward.
// Duplicate deliveries are dropped by the status read: once the task left
// WaitingForPublish another worker owns it.
func (c *Consumers) HandleImmediatePublish(ctx context.Context, job *models.PublishJob) error {
	task, err := c.loadTask(ctx, job.TaskId)
	if err != nil || task == nil {
		return err
	}
	if task.Status != models.PublishStatusWaitingForPublish {
		c.Core.Logger.WithField("task_id", task.ID).WithField("status", string(task.Status)).
			Info("immediate publish skipped, task already dispatched")
		return nil
	}

	provider, account, err := c.loadProviderAndAccount(ctx, task)
	if err != nil {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusFailed, err)
	}

	// One in-flight publish per account. Contention comes back around on
	// the queue's backoff.
	release, err := utils.AccountLock(ctx, task.AccountId, "lock:publish", "publishing", "HandleImmediatePublish")
	if err != nil {
		if errors.Is(err, utils.ErrLockNotObtained) {
			return NewRetryableError("account %s is busy with another publish", task.AccountId)
		}
		return err
	}
	defer release()

	if err := c.Core.SetTaskStatus(ctx, task, models.PublishStatusPublishing); err != nil {
		return err
	}

	result, err := provider.ImmediatePublish(ctx, task, account)
	if err != nil {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusFailed, err)
	}

	switch result.Status {
	case models.PublishStatusPublished:
		return c.Core.CompletePublishTask(ctx, task, result)
	case models.PublishStatusPublishing:
		// Containers staged (or the platform completes via webhook); the
		// finalize queue or the webhook takes it from here.
		var upd models.PublishTaskUpdate
		if result.DataId != "" {
			upd.DataId = &result.DataId
		}
		if result.WorkLink != "" {
			upd.WorkLink = &result.WorkLink
		}
		if upd.DataId != nil || upd.WorkLink != nil {
			if err := c.Core.Tasks.Update(ctx, task.ID, upd); err != nil {
				return err
			}
		}
		return nil
	default:
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusFailed,
			NewTaskError("provider returned unexpected status %s", result.Status))
	}
}

// HandleFinalizePublish polls one container batch. Not ready yet is a
// retryable error so the queue re-attempts on its fixed cadence instead of
// busy-polling here.
func (c *Consumers) HandleFinalizePublish(ctx context.Context, job *models.PublishJob) error {
	var payload FinalizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return NewTaskError("malformed finalize payload: %v", err)
	}

	task, err := c.loadTask(ctx, payload.TaskId)
	if err != nil || task == nil {
		return err
	}
	if task.Status != models.PublishStatusPublishing {
		c.Core.Logger.WithField("task_id", task.ID).WithField("status", string(task.Status)).
			Info("finalize skipped, task no longer publishing")
		return nil
	}

	provider, account, err := c.loadProviderAndAccount(ctx, task)
	if err != nil {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusFailed, err)
	}

	agg, err := c.Core.MediasProcessingStatus(ctx, provider, task, account, payload.JobId)
	if err != nil {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusFailed, err)
	}
	if agg.HasFailed {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusFailed,
			NewTaskError("%s", agg.FailedMsg))
	}
	if !agg.IsCompleted {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusFailed,
			NewRetryableError("media still processing for task %s", task.ID))
	}

	result, err := provider.FinalizePublish(ctx, task, account)
	if err != nil {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusFailed, err)
	}
	if result.Status == models.PublishStatusPublishing {
		// The provider re-staged an aggregate container under a new batch;
		// its own finalize job is already queued.
		return nil
	}
	return c.Core.CompletePublishTask(ctx, task, result)
}

// HandleUpdatePublishedPost drives the WAITING_FOR_UPDATE -> UPDATING edit
// sub-machine.
func (c *Consumers) HandleUpdatePublishedPost(ctx context.Context, job *models.PublishJob) error {
	var payload UpdatePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return NewTaskError("malformed update payload: %v", err)
	}

	task, err := c.loadTask(ctx, payload.TaskId)
	if err != nil || task == nil {
		return err
	}
	if task.Status != models.PublishStatusWaitingForUpdate {
		c.Core.Logger.WithField("task_id", task.ID).WithField("status", string(task.Status)).
			Info("update skipped, task not waiting for update")
		return nil
	}

	provider, account, err := c.loadProviderAndAccount(ctx, task)
	if err != nil {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusUpdatedFailed, err)
	}

	if err := c.Core.SetTaskStatus(ctx, task, models.PublishStatusUpdating); err != nil {
		return err
	}

	result, err := provider.UpdatePublishedPost(ctx, task, account, payload.ContentType)
	if err != nil {
		return c.Core.HandleConsumerError(ctx, task, models.PublishStatusUpdatedFailed, err)
	}
	published := models.PublishStatusPublished
	upd := models.PublishTaskUpdate{Status: &published}
	if result != nil && result.WorkLink != "" {
		upd.WorkLink = &result.WorkLink
	}
	oldStatus := task.Status
	if err := c.Core.Tasks.Update(ctx, task.ID, upd); err != nil {
		return err
	}
	task.Status = published
	c.Core.fireStatusChange(ctx, task, oldStatus, "")
	return nil
}

// OnJobDead is wired as every dispatcher's terminal-failure callback. It
// covers the paths the handler never saw: retry exhaustion and stalled jobs.
func (c *Consumers) OnJobDead(ctx context.Context, job *models.PublishJob, errMsg string) {
	task, err := c.loadTask(ctx, job.TaskId)
	if err != nil || task == nil {
		return
	}
	failStatus := models.PublishStatusFailed
	if job.Queue == models.QueueUpdatePublishedPost {
		failStatus = models.PublishStatusUpdatedFailed
	}
	switch task.Status {
	case models.PublishStatusPublished, models.PublishStatusFailed, models.PublishStatusUpdatedFailed:
		return
	}
	if err := c.Core.FailPublishTask(ctx, task, failStatus, errMsg); err != nil {
		config.LogError(c.Core.Logger, "publishing", "OnJobDead",
			"could not fail task "+task.ID, nil, err)
	}
}
