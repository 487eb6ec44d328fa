package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
	"gorm.io/gorm"
)

// PostMediaContainer is one platform-side staged upload unit. Containers are
// batched by JobId: every container created together for one finalize pass
// shares a JobId, and a carousel re-aggregation opens a new JobId. Only
// Status (and the platform TaskId once assigned) mutate after creation.
type PostMediaContainer struct {
	ID          string          `gorm:"primary_key;size:36" json:"id"`
	PublishId   string          `gorm:"size:36;not null;index:idx_media_batch,priority:1" json:"publish_id"`
	JobId       string          `gorm:"size:64;not null;index:idx_media_batch,priority:2" json:"job_id"`
	Platform    AccountType     `gorm:"size:32;not null" json:"platform"`
	AccountId   string          `gorm:"size:64;index" json:"account_id"`
	UserId      string          `gorm:"size:64;index" json:"user_id"`
	TaskId      string          `gorm:"size:128;index" json:"task_id"` // platform-assigned container/media id
	Category    PostCategory    `gorm:"size:16" json:"category"`
	SubCategory PostSubCategory `gorm:"size:16" json:"sub_category"`
	MediaUrl    string          `gorm:"size:1024" json:"media_url"`
	Status      PostMediaStatus `gorm:"size:32;index;not null" json:"status"`
	ErrorMsg    string          `gorm:"type:text" json:"error_msg"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreatePostMediaContainer(ctx context.Context, container *PostMediaContainer) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(container).Error
}

func GetPostMediaContainer(ctx context.Context, id string) (*PostMediaContainer, error) {
	db := config.GetDB()
	var container PostMediaContainer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&container).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &container, nil
}

// ListPostMediaContainers returns the container batch of one finalize pass,
// in creation order.
func ListPostMediaContainers(ctx context.Context, publishId string, jobId string) ([]*PostMediaContainer, error) {
	db := config.GetDB()
	var containers []*PostMediaContainer
	if err := db.WithContext(ctx).
		Where("publish_id = ? AND job_id = ?", publishId, jobId).
		Order("created_at ASC").
		Find(&containers).Error; err != nil {
		return nil, err
	}
	return containers, nil
}

func ListUnfinishedPostMedia(ctx context.Context, publishId string) ([]*PostMediaContainer, error) {
	db := config.GetDB()
	var containers []*PostMediaContainer
	if err := db.WithContext(ctx).
		Where("publish_id = ? AND status <> ?", publishId, PostMediaStatusFinished).
		Order("created_at ASC").
		Find(&containers).Error; err != nil {
		return nil, err
	}
	return containers, nil
}

func CountFinishedPostMedia(ctx context.Context, publishId string, jobId string) (int64, error) {
	db := config.GetDB()
	var n int64
	err := db.WithContext(ctx).Model(&PostMediaContainer{}).
		Where("publish_id = ? AND job_id = ? AND status = ?", publishId, jobId, PostMediaStatusFinished).
		Count(&n).Error
	return n, err
}

func UpdatePostMediaStatus(ctx context.Context, id string, status PostMediaStatus, errorMsg string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&PostMediaContainer{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "error_msg": errorMsg}).Error
}

// DeletePostMediaByPublishId removes all containers of a task. Only called
// when the owning task itself is deleted.
func DeletePostMediaByPublishId(ctx context.Context, publishId string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Where("publish_id = ?", publishId).Delete(&PostMediaContainer{}).Error
}
