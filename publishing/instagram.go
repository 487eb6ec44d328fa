package publishing

import (
	"context"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"github.com/google/uuid"
)

// Instagram media container types.
const (
	InstagramMediaTypeImage    = "IMAGE"
	InstagramMediaTypeReels    = "REELS"
	InstagramMediaTypeStories  = "STORIES"
	InstagramMediaTypeCarousel = "CAROUSEL"
)

// InstagramContainerRequest mirrors the Graph API media container call.
type InstagramContainerRequest struct {
	MediaType      string
	ImageURL       string
	VideoURL       string
	Caption        string
	IsCarouselItem bool
	Children       []string
}

// InstagramAPI is the authenticated Graph API surface this provider needs.
type InstagramAPI interface {
	CreateMediaContainer(ctx context.Context, account *models.ChannelAccount, req InstagramContainerRequest) (string, error)
	PublishMediaContainer(ctx context.Context, account *models.ChannelAccount, containerId string) (string, error)
	GetContainerStatus(ctx context.Context, account *models.ChannelAccount, containerId string) (string, error)
	GetPostPermalink(ctx context.Context, account *models.ChannelAccount, postId string) (string, error)
}

// InstagramProvider publishes through staged media containers: every image,
// reel or story is created as a container first, then polled, then published.
// A multi-image post aggregates its finished containers into one carousel
// container under a fresh batch before the final publish call.
type InstagramProvider struct {
	BaseProvider
	API      InstagramAPI
	Resolver MediaURLResolver
}

func NewInstagramProvider(core *Core, api InstagramAPI, resolver MediaURLResolver) *InstagramProvider {
	return &InstagramProvider{
		BaseProvider: NewBaseProvider(core, models.AccountTypeInstagram),
		API:          api,
		Resolver:     resolver,
	}
}

func (p *InstagramProvider) Vocabulary() StatusVocabulary {
	return StatusVocabulary{
		Processing: "IN_PROGRESS",
		Completed:  "FINISHED",
		Failed:     "FAILED",
	}
}

func (p *InstagramProvider) ValidatePublishParams(task *models.PublishTask) error {
	opt := task.Option.Instagram
	category := ""
	if opt != nil {
		category = opt.ContentCategory
	}
	switch category {
	case "post":
		if len(task.ImgUrlList) == 0 {
			return NewTaskError("instagram post requires at least one image")
		}
	case "reel":
		if task.VideoUrl == "" {
			return NewTaskError("instagram reel requires a video")
		}
	case "story":
		if task.VideoUrl == "" && len(task.ImgUrlList) == 0 {
			return NewTaskError("instagram story requires a video or an image")
		}
	default:
		return NewTaskError("invalid or missing content category for instagram")
	}
	return nil
}

func (p *InstagramProvider) resolve(ctx context.Context, rawURL string) (string, error) {
	if p.Resolver == nil {
		return rawURL, nil
	}
	return p.Resolver.Resolve(ctx, rawURL)
}

func (p *InstagramProvider) stageContainer(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount, req InstagramContainerRequest, category models.PostCategory, subCategory models.PostSubCategory) error {
	containerId, err := p.API.CreateMediaContainer(ctx, account, req)
	if err != nil {
		return err
	}
	return p.Core.SavePostMedia(ctx, &models.PostMediaContainer{
		PublishId:   task.ID,
		JobId:       task.QueueId,
		Platform:    models.AccountTypeInstagram,
		AccountId:   task.AccountId,
		UserId:      task.UserId,
		TaskId:      containerId,
		Category:    category,
		SubCategory: subCategory,
		Status:      models.PostMediaStatusCreated,
	})
}

func (p *InstagramProvider) ImmediatePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	category := ""
	if task.Option.Instagram != nil {
		category = task.Option.Instagram.ContentCategory
	}
	switch category {
	case "post":
		return p.publishPost(ctx, task, account)
	case "reel":
		return p.publishReel(ctx, task, account)
	case "story":
		if task.VideoUrl != "" {
			return p.publishVideoStory(ctx, task, account)
		}
		return p.publishPhotoStory(ctx, task, account)
	default:
		return nil, NewTaskError("invalid or missing content category for instagram publish task")
	}
}

func (p *InstagramProvider) publishPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	if len(task.ImgUrlList) == 0 {
		return nil, NewTaskError("no image resources")
	}
	isCarouselItem := len(task.ImgUrlList) > 1
	caption := GeneratePostMessage(task)
	if caption == "" {
		caption = task.Title
	}
	for _, imgUrl := range task.ImgUrlList {
		resolved, err := p.resolve(ctx, imgUrl)
		if err != nil {
			return nil, err
		}
		req := InstagramContainerRequest{
			MediaType:      InstagramMediaTypeImage,
			ImageURL:       resolved,
			Caption:        caption,
			IsCarouselItem: isCarouselItem,
		}
		if err := p.stageContainer(ctx, task, account, req, models.PostCategoryPost, models.PostSubCategoryPhoto); err != nil {
			return nil, err
		}
	}
	// The whole batch is staged; only now may the poll job exist.
	if err := p.Core.EnqueueFinalize(ctx, task, task.QueueId); err != nil {
		return nil, err
	}
	return &PublishingTaskResult{Status: models.PublishStatusPublishing}, nil
}

func (p *InstagramProvider) publishReel(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	if task.VideoUrl == "" {
		return nil, NewTaskError("no video resources")
	}
	resolved, err := p.resolve(ctx, task.VideoUrl)
	if err != nil {
		return nil, err
	}
	caption := task.Desc
	if caption == "" {
		caption = task.Title
	}
	req := InstagramContainerRequest{
		MediaType: InstagramMediaTypeReels,
		VideoURL:  resolved,
		Caption:   caption,
	}
	if err := p.stageContainer(ctx, task, account, req, models.PostCategoryReels, models.PostSubCategoryVideo); err != nil {
		return nil, err
	}
	if err := p.Core.EnqueueFinalize(ctx, task, task.QueueId); err != nil {
		return nil, err
	}
	return &PublishingTaskResult{Status: models.PublishStatusPublishing}, nil
}

func (p *InstagramProvider) publishVideoStory(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	resolved, err := p.resolve(ctx, task.VideoUrl)
	if err != nil {
		return nil, err
	}
	caption := GeneratePostMessage(task)
	if caption == "" {
		caption = task.Title
	}
	req := InstagramContainerRequest{
		MediaType: InstagramMediaTypeStories,
		VideoURL:  resolved,
		Caption:   caption,
	}
	if err := p.stageContainer(ctx, task, account, req, models.PostCategoryStory, models.PostSubCategoryVideo); err != nil {
		return nil, err
	}
	if err := p.Core.EnqueueFinalize(ctx, task, task.QueueId); err != nil {
		return nil, err
	}
	return &PublishingTaskResult{Status: models.PublishStatusPublishing}, nil
}

func (p *InstagramProvider) publishPhotoStory(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	if len(task.ImgUrlList) == 0 {
		return nil, NewTaskError("no image resources")
	}
	resolved, err := p.resolve(ctx, task.ImgUrlList[0])
	if err != nil {
		return nil, err
	}
	req := InstagramContainerRequest{
		MediaType: InstagramMediaTypeStories,
		ImageURL:  resolved,
	}
	if err := p.stageContainer(ctx, task, account, req, models.PostCategoryStory, models.PostSubCategoryPhoto); err != nil {
		return nil, err
	}
	if err := p.Core.EnqueueFinalize(ctx, task, task.QueueId); err != nil {
		return nil, err
	}
	return &PublishingTaskResult{Status: models.PublishStatusPublishing}, nil
}

func (p *InstagramProvider) GetMediaProcessingStatus(ctx context.Context, account *models.ChannelAccount, mediaId string) (string, error) {
	return p.API.GetContainerStatus(ctx, account, mediaId)
}

// FinalizePublish runs when every container of the current batch is
// FINISHED. A carousel first aggregates its items into a new container under
// a new batch id and stays PUBLISHING; a single finished container is
// published directly.
func (p *InstagramProvider) FinalizePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	medias, err := p.Core.Media.ListBatch(ctx, task.ID, task.QueueId)
	if err != nil {
		return nil, err
	}
	if len(medias) == 0 {
		return nil, NewTaskError("no media containers found for task %s", task.ID)
	}

	isCarousel := medias[0].Category == models.PostCategoryPost && len(medias) > 1
	if isCarousel {
		children := make([]string, 0, len(medias))
		for _, media := range medias {
			children = append(children, media.TaskId)
		}
		caption := GeneratePostMessage(task)
		if caption == "" {
			caption = task.Title
		}
		// Re-stage the aggregate under a fresh batch id so its own finalize
		// pass polls only the carousel container.
		queueId := uuid.NewString()
		if err := p.Core.Tasks.Update(ctx, task.ID, models.PublishTaskUpdate{QueueId: &queueId}); err != nil {
			return nil, err
		}
		task.QueueId = queueId
		req := InstagramContainerRequest{
			MediaType: InstagramMediaTypeCarousel,
			Children:  children,
			Caption:   caption,
		}
		if err := p.stageContainer(ctx, task, account, req, models.PostCategoryPost, models.PostSubCategoryPhoto); err != nil {
			return nil, err
		}
		if err := p.Core.EnqueueFinalize(ctx, task, queueId); err != nil {
			return nil, err
		}
		return &PublishingTaskResult{Status: models.PublishStatusPublishing}, nil
	}

	containerId := medias[0].TaskId
	postId, err := p.API.PublishMediaContainer(ctx, account, containerId)
	if err != nil {
		return nil, err
	}
	permalink, err := p.API.GetPostPermalink(ctx, account, postId)
	if err != nil {
		// Permalink is cosmetic; the post is live.
		p.Core.Logger.WithField("task_id", task.ID).
			Warn("could not fetch instagram permalink: " + err.Error())
		permalink = ""
	}
	return &PublishingTaskResult{
		Status:   models.PublishStatusPublished,
		DataId:   postId,
		WorkLink: permalink,
	}, nil
}
