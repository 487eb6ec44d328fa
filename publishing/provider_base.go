package publishing

import (
	"context"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

// BaseProvider carries the default behavior shared by all platforms.
// Concrete providers embed it and override what their platform needs.
type BaseProvider struct {
	Core     *Core
	platform models.AccountType
}

func NewBaseProvider(core *Core, platform models.AccountType) BaseProvider {
	return BaseProvider{Core: core, platform: platform}
}

func (b *BaseProvider) Platform() models.AccountType {
	return b.platform
}

// ValidatePublishParams only checks the platform discriminator; platforms
// with real pre-flight rules override this.
func (b *BaseProvider) ValidatePublishParams(task *models.PublishTask) error {
	if task.AccountType == "" {
		return NewTaskError("accountType is required")
	}
	return nil
}

func (b *BaseProvider) FinalizePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	return nil, NewTaskError("platform %s does not stage media containers", b.platform)
}

func (b *BaseProvider) GetMediaProcessingStatus(ctx context.Context, account *models.ChannelAccount, mediaId string) (string, error) {
	return "", NewTaskError("platform %s does not report media processing status", b.platform)
}

func (b *BaseProvider) UpdatePublishedPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount, contentType string) (*PublishingTaskResult, error) {
	return nil, NewTaskError("platform %s does not support editing a published post", b.platform)
}

func (b *BaseProvider) SupportsUpdate() bool {
	return false
}

func (b *BaseProvider) Vocabulary() StatusVocabulary {
	return DefaultStatusVocabulary()
}
