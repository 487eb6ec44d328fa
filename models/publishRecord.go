package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
	"gorm.io/gorm"
)

// PublishRecord is the immutable history row written when a task reaches a
// terminal state. Tasks can be deleted; records stay for reporting.
type PublishRecord struct {
	ID          string        `gorm:"primary_key;size:36" json:"id"`
	TaskId      string        `gorm:"size:36;index;not null" json:"task_id"`
	FlowId      string        `gorm:"size:64;index" json:"flow_id"`
	UserId      string        `gorm:"size:64;index;not null" json:"user_id"`
	AccountId   string        `gorm:"size:64;index" json:"account_id"`
	AccountType AccountType   `gorm:"size:32" json:"account_type"`
	Type        PublishType   `gorm:"size:16" json:"type"`
	Title       string        `gorm:"size:255" json:"title"`
	Status      PublishStatus `gorm:"size:32;index" json:"status"`
	ErrorMsg    string        `gorm:"type:text" json:"error_msg"`
	DataId      string        `gorm:"size:128" json:"data_id"`
	WorkLink    string        `gorm:"size:1024" json:"work_link"`
	PublishTime time.Time     `json:"publish_time"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func CreatePublishRecord(ctx context.Context, record *PublishRecord) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(record).Error
}

func GetPublishRecord(ctx context.Context, id string) (*PublishRecord, error) {
	db := config.GetDB()
	var record PublishRecord
	if err := db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

type PublishRecordFilter struct {
	UserId      string
	AccountId   string
	AccountType AccountType
	Status      PublishStatus
	TimeFrom    *time.Time
	TimeTo      *time.Time
}

func ListPublishRecords(ctx context.Context, filter PublishRecordFilter) ([]*PublishRecord, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&PublishRecord{})
	if filter.UserId != "" {
		q = q.Where("user_id = ?", filter.UserId)
	}
	if filter.AccountId != "" {
		q = q.Where("account_id = ?", filter.AccountId)
	}
	if filter.AccountType != "" {
		q = q.Where("account_type = ?", filter.AccountType)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.TimeFrom != nil && filter.TimeTo != nil {
		q = q.Where("publish_time >= ? AND publish_time <= ?", filter.TimeFrom, filter.TimeTo)
	}
	var records []*PublishRecord
	if err := q.Order("publish_time DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
