package publishing

import (
	"context"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

// FacebookUploadSession is one chunked video upload in progress.
type FacebookUploadSession struct {
	SessionId   string
	VideoId     string
	StartOffset int64
	EndOffset   int64
}

// FacebookAPI is the authenticated Graph API surface this provider needs.
// Hosted videos (reels, video stories) go through an upload-url flow; feed
// videos use the chunked session flow.
type FacebookAPI interface {
	PublishFeedPost(ctx context.Context, account *models.ChannelAccount, message string) (string, error)
	UploadImage(ctx context.Context, account *models.ChannelAccount, imageURL string) (string, error)
	PublishPhotoPost(ctx context.Context, account *models.ChannelAccount, photoIds []string, message string) (string, error)
	RemoteFileSize(ctx context.Context, url string) (int64, error)
	InitVideoUpload(ctx context.Context, account *models.ChannelAccount, fileSize int64) (*FacebookUploadSession, error)
	TransferVideoChunk(ctx context.Context, account *models.ChannelAccount, sessionId string, sourceURL string, startOffset int64, endOffset int64) (int64, int64, error)
	FinalizeVideoUpload(ctx context.Context, account *models.ChannelAccount, sessionId string) error
	PublishVideoPost(ctx context.Context, account *models.ChannelAccount, videoId string, description string) (string, error)
	UploadHostedVideo(ctx context.Context, account *models.ChannelAccount, sourceURL string) (string, error)
	FinishHostedVideo(ctx context.Context, account *models.ChannelAccount, videoId string, description string, asReel bool) error
	PublishPhotoStory(ctx context.Context, account *models.ChannelAccount, photoId string) error
	GetVideoStatus(ctx context.Context, account *models.ChannelAccount, videoId string) (string, error)
	UpdatePostMessage(ctx context.Context, account *models.ChannelAccount, postId string, message string) error
}

// FacebookProvider mixes both publish styles: feed and photo posts complete
// synchronously, reels and video stories stage a hosted video that the
// finalize queue publishes once Facebook finishes processing it.
type FacebookProvider struct {
	BaseProvider
	API      FacebookAPI
	Resolver MediaURLResolver
}

func NewFacebookProvider(core *Core, api FacebookAPI, resolver MediaURLResolver) *FacebookProvider {
	return &FacebookProvider{
		BaseProvider: NewBaseProvider(core, models.AccountTypeFacebook),
		API:          api,
		Resolver:     resolver,
	}
}

func (p *FacebookProvider) ValidatePublishParams(task *models.PublishTask) error {
	opt := task.Option.Facebook
	if opt == nil || opt.ContentCategory == "" {
		return NewTaskError("facebook content_category is required")
	}
	if len(task.ImgUrlList) == 0 && task.VideoUrl == "" && task.Desc == "" {
		return NewTaskError("facebook publish requires media or a description")
	}
	switch opt.ContentCategory {
	case "post":
	case "reel":
		if task.VideoUrl == "" {
			return NewTaskError("facebook reel requires a video")
		}
		if len(task.ImgUrlList) > 0 {
			return NewTaskError("facebook reel does not support images")
		}
	case "story":
		if task.VideoUrl == "" && len(task.ImgUrlList) == 0 {
			return NewTaskError("facebook story requires a video or an image")
		}
	default:
		return NewTaskError("unsupported facebook content category %s", opt.ContentCategory)
	}
	return nil
}

func (p *FacebookProvider) resolve(ctx context.Context, rawURL string) (string, error) {
	if p.Resolver == nil {
		return rawURL, nil
	}
	return p.Resolver.Resolve(ctx, rawURL)
}

func (p *FacebookProvider) ImmediatePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	category := ""
	if task.Option.Facebook != nil {
		category = task.Option.Facebook.ContentCategory
	}
	switch category {
	case "post":
		if len(task.ImgUrlList) == 0 && task.VideoUrl == "" {
			return p.publishFeedPost(ctx, task, account)
		}
		return p.publishMediaPost(ctx, task, account)
	case "reel":
		return p.stageHostedVideo(ctx, task, account, models.PostCategoryReels)
	case "story":
		if len(task.ImgUrlList) > 0 {
			return p.publishPhotoStory(ctx, task, account)
		}
		return p.stageHostedVideo(ctx, task, account, models.PostCategoryStory)
	default:
		return nil, NewTaskError("no facebook content category specified")
	}
}

func (p *FacebookProvider) publishFeedPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	if task.Desc == "" {
		return nil, NewTaskError("feed post requires a description")
	}
	postId, err := p.API.PublishFeedPost(ctx, account, GeneratePostMessage(task))
	if err != nil {
		return nil, err
	}
	return &PublishingTaskResult{
		Status:   models.PublishStatusPublished,
		DataId:   postId,
		WorkLink: "https://www.facebook.com/" + task.Uid + "_" + postId,
	}, nil
}

func (p *FacebookProvider) publishMediaPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	if len(task.ImgUrlList) > 0 {
		photoIds := make([]string, 0, len(task.ImgUrlList))
		for _, imgUrl := range task.ImgUrlList {
			resolved, err := p.resolve(ctx, imgUrl)
			if err != nil {
				return nil, err
			}
			photoId, err := p.API.UploadImage(ctx, account, resolved)
			if err != nil {
				return nil, err
			}
			photoIds = append(photoIds, photoId)
		}
		postId, err := p.API.PublishPhotoPost(ctx, account, photoIds, GeneratePostMessage(task))
		if err != nil {
			return nil, err
		}
		return &PublishingTaskResult{
			Status:   models.PublishStatusPublished,
			DataId:   postId,
			WorkLink: "https://www.facebook.com/" + task.Uid + "_" + postId,
		}, nil
	}
	return p.publishChunkedVideoPost(ctx, task, account)
}

func (p *FacebookProvider) publishChunkedVideoPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	resolved, err := p.resolve(ctx, task.VideoUrl)
	if err != nil {
		return nil, err
	}
	fileSize, err := p.API.RemoteFileSize(ctx, resolved)
	if err != nil {
		return nil, err
	}
	session, err := p.API.InitVideoUpload(ctx, account, fileSize)
	if err != nil {
		return nil, err
	}
	start, end := session.StartOffset, session.EndOffset
	for start < fileSize-1 {
		start, end, err = p.API.TransferVideoChunk(ctx, account, session.SessionId, resolved, start, end)
		if err != nil {
			return nil, err
		}
	}
	if err := p.API.FinalizeVideoUpload(ctx, account, session.SessionId); err != nil {
		return nil, err
	}
	postId, err := p.API.PublishVideoPost(ctx, account, session.VideoId, GeneratePostMessage(task))
	if err != nil {
		return nil, err
	}
	return &PublishingTaskResult{
		Status:   models.PublishStatusPublished,
		DataId:   postId,
		WorkLink: "https://www.facebook.com/" + task.Uid + "_" + postId,
	}, nil
}

func (p *FacebookProvider) publishPhotoStory(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	resolved, err := p.resolve(ctx, task.ImgUrlList[0])
	if err != nil {
		return nil, err
	}
	photoId, err := p.API.UploadImage(ctx, account, resolved)
	if err != nil {
		return nil, err
	}
	if err := p.API.PublishPhotoStory(ctx, account, photoId); err != nil {
		return nil, err
	}
	return &PublishingTaskResult{
		Status:   models.PublishStatusPublished,
		DataId:   photoId,
		WorkLink: "https://www.facebook.com/stories/" + photoId,
	}, nil
}

// stageHostedVideo uploads the video through the hosted upload-url flow and
// leaves publishing to the finalize queue once processing finishes.
func (p *FacebookProvider) stageHostedVideo(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount, category models.PostCategory) (*PublishingTaskResult, error) {
	if task.VideoUrl == "" {
		return nil, NewTaskError("%s requires a video", category)
	}
	resolved, err := p.resolve(ctx, task.VideoUrl)
	if err != nil {
		return nil, err
	}
	videoId, err := p.API.UploadHostedVideo(ctx, account, resolved)
	if err != nil {
		return nil, err
	}
	if err := p.Core.SavePostMedia(ctx, &models.PostMediaContainer{
		PublishId:   task.ID,
		JobId:       task.QueueId,
		Platform:    models.AccountTypeFacebook,
		AccountId:   task.AccountId,
		UserId:      task.UserId,
		TaskId:      videoId,
		Category:    category,
		SubCategory: models.PostSubCategoryVideo,
		Status:      models.PostMediaStatusCreated,
	}); err != nil {
		return nil, err
	}
	if err := p.Core.EnqueueFinalize(ctx, task, task.QueueId); err != nil {
		return nil, err
	}
	return &PublishingTaskResult{Status: models.PublishStatusPublishing}, nil
}

func (p *FacebookProvider) GetMediaProcessingStatus(ctx context.Context, account *models.ChannelAccount, mediaId string) (string, error) {
	return p.API.GetVideoStatus(ctx, account, mediaId)
}

func (p *FacebookProvider) FinalizePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	medias, err := p.Core.Media.ListBatch(ctx, task.ID, task.QueueId)
	if err != nil {
		return nil, err
	}
	if len(medias) == 0 {
		return nil, NewTaskError("no media containers found for task %s", task.ID)
	}

	videoId := medias[0].TaskId
	asReel := medias[0].Category == models.PostCategoryReels
	if err := p.API.FinishHostedVideo(ctx, account, videoId, GeneratePostMessage(task), asReel); err != nil {
		return nil, err
	}
	segment := "stories"
	if asReel {
		segment = "reel"
	}
	return &PublishingTaskResult{
		Status:   models.PublishStatusPublished,
		DataId:   videoId,
		WorkLink: "https://www.facebook.com/" + segment + "/" + videoId,
	}, nil
}

func (p *FacebookProvider) SupportsUpdate() bool {
	return true
}

// UpdatePublishedPost rewrites the message of a published feed post. Only
// the post category supports in-place edits.
func (p *FacebookProvider) UpdatePublishedPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount, contentType string) (*PublishingTaskResult, error) {
	if task.Option.Facebook == nil || task.Option.Facebook.ContentCategory != "post" {
		return nil, NewTaskError("only the post category supports updates on facebook")
	}
	if task.DataId == "" {
		return nil, NewTaskError("task %s has no published post id", task.ID)
	}
	if err := p.API.UpdatePostMessage(ctx, account, task.DataId, GeneratePostMessage(task)); err != nil {
		return nil, err
	}
	return &PublishingTaskResult{
		Status:   models.PublishStatusPublished,
		DataId:   task.DataId,
		WorkLink: task.WorkLink,
	}, nil
}
