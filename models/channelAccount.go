package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
	"gorm.io/gorm"
)

// ChannelAccount is a linked platform account with its stored credential.
// A publish that comes back 401 marks the account INVALID so no further
// publishes are attempted until the user re-authorizes.
type ChannelAccount struct {
	ID           string       `gorm:"primary_key;size:36" json:"id"`
	UserId       string       `gorm:"size:64;index;not null" json:"user_id"`
	AccountType  AccountType  `gorm:"size:32;index;not null" json:"account_type"`
	Uid          string       `gorm:"size:64;index" json:"uid"`
	Nickname     string       `gorm:"size:128" json:"nickname"`
	Avatar       string       `gorm:"size:1024" json:"avatar"`
	AccessToken  string       `gorm:"size:2048" json:"-"`
	RefreshToken string       `gorm:"size:2048" json:"-"`
	TokenExpiry  *time.Time   `json:"token_expiry,omitempty"`
	AccessStatus AccessStatus `gorm:"size:16;not null;default:NORMAL" json:"access_status"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetChannelAccount(ctx context.Context, id string) (*ChannelAccount, error) {
	db := config.GetDB()
	var account ChannelAccount
	if err := db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &account, nil
}

func CreateChannelAccount(ctx context.Context, account *ChannelAccount) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(account).Error
}

func ListChannelAccounts(ctx context.Context, userId string, accountType AccountType) ([]*ChannelAccount, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Where("user_id = ?", userId)
	if accountType != "" {
		q = q.Where("account_type = ?", accountType)
	}
	var accounts []*ChannelAccount
	if err := q.Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// SetChannelAccountAccessStatus flips the credential state. Invalidation is
// one-way from the publisher's point of view; only re-authorization restores
// NORMAL.
func SetChannelAccountAccessStatus(ctx context.Context, id string, status AccessStatus) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&ChannelAccount{}).
		Where("id = ?", id).
		Update("access_status", status).Error
}

func UpdateChannelAccountTokens(ctx context.Context, id string, accessToken, refreshToken string, expiry *time.Time) error {
	db := config.GetDB()
	values := map[string]interface{}{
		"access_token":  accessToken,
		"access_status": AccessStatusNormal,
	}
	if refreshToken != "" {
		values["refresh_token"] = refreshToken
	}
	if expiry != nil {
		values["token_expiry"] = expiry
	}
	return db.WithContext(ctx).Model(&ChannelAccount{}).Where("id = ?", id).Updates(values).Error
}
