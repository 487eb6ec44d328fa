package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// PublishOption is the per-platform publish parameter union. Only the variant
// matching the task's AccountType is populated and validated.
type PublishOption struct {
	Bilibili  *BilibiliOption  `json:"bilibili,omitempty"`
	Youtube   *YoutubeOption   `json:"youtube,omitempty"`
	Facebook  *FacebookOption  `json:"facebook,omitempty"`
	Instagram *InstagramOption `json:"instagram,omitempty"`
	Tiktok    *TiktokOption    `json:"tiktok,omitempty"`
}

type BilibiliOption struct {
	Tid       int    `json:"tid" validate:"required,gt=0"`
	NoReprint int    `json:"no_reprint,omitempty"`
	Copyright int    `json:"copyright" validate:"required,oneof=1 2"`
	Source    string `json:"source,omitempty"`
}

type YoutubeOption struct {
	PrivacyStatus           string `json:"privacyStatus,omitempty" validate:"omitempty,oneof=public unlisted private"`
	License                 string `json:"license,omitempty" validate:"omitempty,oneof=youtube creativeCommon"`
	CategoryId              string `json:"categoryId" validate:"required"`
	NotifySubscribers       bool   `json:"notifySubscribers,omitempty"`
	Embeddable              bool   `json:"embeddable,omitempty"`
	SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids,omitempty"`
}

type FacebookOption struct {
	PageId          string   `json:"page_id,omitempty"`
	ContentCategory string   `json:"content_category,omitempty" validate:"omitempty,oneof=post reel story"`
	ContentTags     []string `json:"content_tags,omitempty"`
	CustomLabels    []string `json:"custom_labels,omitempty"`
}

type InstagramOption struct {
	ContentCategory string `json:"content_category,omitempty" validate:"omitempty,oneof=post reel story"`
	AltText         string `json:"alt_text,omitempty"`
	Caption         string `json:"caption,omitempty"`
	CoverUrl        string `json:"cover_url,omitempty"`
	LocationId      string `json:"location_id,omitempty"`
}

type TiktokOption struct {
	PrivacyLevel       string `json:"privacy_level" validate:"required,oneof=PUBLIC_TO_EVERYONE MUTUAL_FOLLOW_FRIENDS SELF_ONLY FOLLOWER_OF_CREATOR"`
	DisableDuet        bool   `json:"disable_duet,omitempty"`
	DisableStitch      bool   `json:"disable_stitch,omitempty"`
	DisableComment     bool   `json:"disable_comment,omitempty"`
	BrandOrganicToggle bool   `json:"brand_organic_toggle,omitempty"`
	BrandContentToggle bool   `json:"brand_content_toggle,omitempty"`
}

// PublishTask is one user's intent to publish one piece of content to one
// platform account. Mutated only by the orchestration service and the queue
// consumers; deletion is an explicit external operation.
type PublishTask struct {
	ID          string        `gorm:"primary_key;size:36" json:"id"`
	FlowId      string        `gorm:"size:64;not null;uniqueIndex" json:"flow_id"`
	UserId      string        `gorm:"size:64;index;not null" json:"user_id"`
	AccountId   string        `gorm:"size:64;index;not null" json:"account_id"`
	AccountType AccountType   `gorm:"size:32;not null" json:"account_type"`
	Uid         string        `gorm:"size:64" json:"uid"`
	Type        PublishType   `gorm:"size:16" json:"type"`
	Title       string        `gorm:"size:255" json:"title"`
	Desc        string        `gorm:"type:text" json:"desc"`
	VideoUrl    string        `gorm:"size:1024" json:"video_url"`
	CoverUrl    string        `gorm:"size:1024" json:"cover_url"`
	ImgUrlList  []string      `gorm:"serializer:json" json:"img_url_list"`
	Topics      []string      `gorm:"serializer:json" json:"topics"`
	Option      PublishOption `gorm:"serializer:json" json:"option"`
	Status      PublishStatus `gorm:"size:32;index;not null" json:"status"`
	QueueId     string        `gorm:"size:64;index" json:"queue_id"`
	Queued      bool          `json:"queued"`
	InQueue     bool          `json:"in_queue"`
	ErrorMsg    string        `gorm:"type:text" json:"error_msg"`
	DataId      string        `gorm:"size:128;index" json:"data_id"`
	WorkLink    string        `gorm:"size:1024" json:"work_link"`
	PublishTime time.Time     `gorm:"index" json:"publish_time"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrPublishTaskExists signals a flowId collision: task creation is
// idempotent, the first task wins and is never overwritten.
var ErrPublishTaskExists = errors.New("publish task with this flowId already exists")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func CreatePublishTask(ctx context.Context, task *PublishTask) error {
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(task).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrPublishTaskExists
		}
		return err
	}
	return nil
}

func GetPublishTask(ctx context.Context, id string) (*PublishTask, error) {
	db := config.GetDB()
	var task PublishTask
	if err := db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

func GetPublishTaskByFlowId(ctx context.Context, flowId string, userId string) (*PublishTask, error) {
	db := config.GetDB()
	var task PublishTask
	q := db.WithContext(ctx).Where("flow_id = ?", flowId)
	if userId != "" {
		q = q.Where("user_id = ?", userId)
	}
	if err := q.First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

func GetPublishTaskByDataId(ctx context.Context, dataId string, uid string) (*PublishTask, error) {
	db := config.GetDB()
	var task PublishTask
	if err := db.WithContext(ctx).
		Where("data_id = ? AND uid = ?", dataId, uid).
		First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

// PublishTaskFilter narrows ListPublishTasks. Zero values mean "any".
type PublishTaskFilter struct {
	UserId      string
	AccountId   string
	Uid         string
	AccountType AccountType
	Status      PublishStatus
	Type        PublishType
	TimeFrom    *time.Time
	TimeTo      *time.Time
}

func ListPublishTasks(ctx context.Context, filter PublishTaskFilter) ([]*PublishTask, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&PublishTask{})
	if filter.UserId != "" {
		q = q.Where("user_id = ?", filter.UserId)
	}
	if filter.AccountId != "" {
		q = q.Where("account_id = ?", filter.AccountId)
	}
	if filter.Uid != "" {
		q = q.Where("uid = ?", filter.Uid)
	}
	if filter.AccountType != "" {
		q = q.Where("account_type = ?", filter.AccountType)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.TimeFrom != nil && filter.TimeTo != nil {
		q = q.Where("publish_time >= ? AND publish_time <= ?", filter.TimeFrom, filter.TimeTo)
	}
	var tasks []*PublishTask
	if err := q.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListDuePublishTasks returns scheduled tasks whose publish time falls at or
// before end and that are still waiting, ordered soonest first. Used by the
// interval scanner.
func ListDuePublishTasks(ctx context.Context, end time.Time) ([]*PublishTask, error) {
	db := config.GetDB()
	var tasks []*PublishTask
	if err := db.WithContext(ctx).
		Where("publish_time <= ? AND status = ?", end, PublishStatusWaitingForPublish).
		Order("publish_time ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// PublishTaskUpdate is the subset of task fields mutable after creation.
// Nil pointers are left untouched.
type PublishTaskUpdate struct {
	Status      *PublishStatus
	ErrorMsg    *string
	QueueId     *string
	Queued      *bool
	InQueue     *bool
	DataId      *string
	WorkLink    *string
	PublishTime *time.Time
	Desc        *string
	VideoUrl    *string
	ImgUrlList  []string
	Topics      []string
	Option      *PublishOption
}

func UpdatePublishTask(ctx context.Context, id string, upd PublishTaskUpdate) error {
	values := map[string]interface{}{}
	if upd.Status != nil {
		values["status"] = *upd.Status
	}
	if upd.ErrorMsg != nil {
		values["error_msg"] = *upd.ErrorMsg
	}
	if upd.QueueId != nil {
		values["queue_id"] = *upd.QueueId
	}
	if upd.Queued != nil {
		values["queued"] = *upd.Queued
	}
	if upd.InQueue != nil {
		values["in_queue"] = *upd.InQueue
	}
	if upd.DataId != nil {
		values["data_id"] = *upd.DataId
	}
	if upd.WorkLink != nil {
		values["work_link"] = *upd.WorkLink
	}
	if upd.PublishTime != nil {
		values["publish_time"] = *upd.PublishTime
	}
	if upd.Desc != nil {
		values["desc"] = *upd.Desc
	}
	if upd.VideoUrl != nil {
		values["video_url"] = *upd.VideoUrl
	}
	db := config.GetDB()
	// Serialized columns go through the model so the json serializer applies.
	if upd.ImgUrlList != nil || upd.Topics != nil || upd.Option != nil {
		task, err := GetPublishTask(ctx, id)
		if err != nil {
			return err
		}
		if upd.ImgUrlList != nil {
			task.ImgUrlList = upd.ImgUrlList
		}
		if upd.Topics != nil {
			task.Topics = upd.Topics
		}
		if upd.Option != nil {
			task.Option = *upd.Option
		}
		if err := db.WithContext(ctx).Model(task).
			Select("img_url_list", "topics", "option").
			Updates(task).Error; err != nil {
			return err
		}
	}
	if len(values) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&PublishTask{}).Where("id = ?", id).Updates(values).Error
}

func DeletePublishTask(ctx context.Context, id string, userId string) (bool, error) {
	db := config.GetDB()
	res := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userId).Delete(&PublishTask{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
