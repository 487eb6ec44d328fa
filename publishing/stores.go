package publishing

import (
	"context"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
)

// Database-backed store implementations. Thin delegates to the models
// package; consumers and the service only see the interfaces so tests can
// swap in fakes.

type GormTaskStore struct{}

func (GormTaskStore) Create(ctx context.Context, task *models.PublishTask) error {
	return models.CreatePublishTask(ctx, task)
}

func (GormTaskStore) Get(ctx context.Context, id string) (*models.PublishTask, error) {
	return models.GetPublishTask(ctx, id)
}

func (GormTaskStore) GetByFlowId(ctx context.Context, flowId string, userId string) (*models.PublishTask, error) {
	return models.GetPublishTaskByFlowId(ctx, flowId, userId)
}

func (GormTaskStore) GetByDataId(ctx context.Context, dataId string, uid string) (*models.PublishTask, error) {
	return models.GetPublishTaskByDataId(ctx, dataId, uid)
}

func (GormTaskStore) List(ctx context.Context, filter models.PublishTaskFilter) ([]*models.PublishTask, error) {
	return models.ListPublishTasks(ctx, filter)
}

func (GormTaskStore) ListDue(ctx context.Context, end time.Time) ([]*models.PublishTask, error) {
	return models.ListDuePublishTasks(ctx, end)
}

func (GormTaskStore) Update(ctx context.Context, id string, upd models.PublishTaskUpdate) error {
	return models.UpdatePublishTask(ctx, id, upd)
}

func (GormTaskStore) Delete(ctx context.Context, id string, userId string) (bool, error) {
	return models.DeletePublishTask(ctx, id, userId)
}

type GormMediaStore struct{}

func (GormMediaStore) Create(ctx context.Context, container *models.PostMediaContainer) error {
	return models.CreatePostMediaContainer(ctx, container)
}

func (GormMediaStore) ListBatch(ctx context.Context, publishId string, jobId string) ([]*models.PostMediaContainer, error) {
	return models.ListPostMediaContainers(ctx, publishId, jobId)
}

func (GormMediaStore) CountFinished(ctx context.Context, publishId string, jobId string) (int64, error) {
	return models.CountFinishedPostMedia(ctx, publishId, jobId)
}

func (GormMediaStore) UpdateStatus(ctx context.Context, id string, status models.PostMediaStatus, errorMsg string) error {
	return models.UpdatePostMediaStatus(ctx, id, status, errorMsg)
}

func (GormMediaStore) DeleteByPublishId(ctx context.Context, publishId string) error {
	return models.DeletePostMediaByPublishId(ctx, publishId)
}

type GormRecordStore struct{}

func (GormRecordStore) Create(ctx context.Context, record *models.PublishRecord) error {
	return models.CreatePublishRecord(ctx, record)
}

func (GormRecordStore) List(ctx context.Context, filter models.PublishRecordFilter) ([]*models.PublishRecord, error) {
	return models.ListPublishRecords(ctx, filter)
}

// GormAccountStore reads through a Redis cache. Token state must be fresh
// after invalidation, so writes drop the cached entry.
type GormAccountStore struct{}

// ChannelAccount keeps its tokens out of JSON responses, so the cache entry
// carries them in shadow fields.
type cachedChannelAccount struct {
	models.ChannelAccount
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (GormAccountStore) Get(ctx context.Context, id string) (*models.ChannelAccount, error) {
	if cached, err := utils.RetrieveRedis[cachedChannelAccount](ctx, id); err == nil {
		account := cached.ChannelAccount
		account.AccessToken = cached.AccessToken
		account.RefreshToken = cached.RefreshToken
		return &account, nil
	}

	account, err := models.GetChannelAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := &cachedChannelAccount{
		ChannelAccount: *account,
		AccessToken:    account.AccessToken,
		RefreshToken:   account.RefreshToken,
	}
	if err := utils.StoreRedis(ctx, id, entry); err != nil {
		config.LogError(config.GetLogger(), "publishing", "GormAccountStore.Get", "Failed to cache channel account", id, err)
	}
	return account, nil
}

func (GormAccountStore) Invalidate(ctx context.Context, id string) error {
	if err := models.SetChannelAccountAccessStatus(ctx, id, models.AccessStatusInvalid); err != nil {
		return err
	}
	if err := utils.RemoveRedisItem[cachedChannelAccount](ctx, id); err != nil {
		config.LogError(config.GetLogger(), "publishing", "GormAccountStore.Invalidate", "Failed to drop cached channel account", id, err)
	}
	return nil
}
