package publishing

import (
	"context"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

const (
	youtubeMaxTitleLen = 100
	youtubeMaxDescLen  = 5000
)

// YouTubeVideoParams is one upload request.
type YouTubeVideoParams struct {
	Title             string
	Description       string
	Tags              []string
	CategoryId        string
	PrivacyStatus     string
	License           string
	NotifySubscribers bool
	Embeddable        bool
	MadeForKids       bool
	SourceURL         string
}

// YouTubeAPI is the authenticated Data API surface this provider needs.
type YouTubeAPI interface {
	UploadVideo(ctx context.Context, account *models.ChannelAccount, params YouTubeVideoParams) (string, error)
	UpdateVideo(ctx context.Context, account *models.ChannelAccount, videoId string, title string, description string) error
}

// YouTubeProvider is the synchronous style: one resumable upload call and the
// post is live, no container staging.
type YouTubeProvider struct {
	BaseProvider
	API      YouTubeAPI
	Resolver MediaURLResolver
}

func NewYouTubeProvider(core *Core, api YouTubeAPI, resolver MediaURLResolver) *YouTubeProvider {
	return &YouTubeProvider{
		BaseProvider: NewBaseProvider(core, models.AccountTypeYoutube),
		API:          api,
		Resolver:     resolver,
	}
}

func (p *YouTubeProvider) ValidatePublishParams(task *models.PublishTask) error {
	if task.VideoUrl == "" {
		return NewTaskError("youtube publish requires a video")
	}
	if task.Title == "" {
		return NewTaskError("youtube video title is required")
	}
	if len([]rune(task.Title)) > youtubeMaxTitleLen {
		return NewTaskError("youtube video title exceeds %d characters", youtubeMaxTitleLen)
	}
	if len([]rune(task.Desc)) > youtubeMaxDescLen {
		return NewTaskError("youtube video description exceeds %d characters", youtubeMaxDescLen)
	}
	if task.Option.Youtube == nil || task.Option.Youtube.CategoryId == "" {
		return NewTaskError("youtube categoryId is required")
	}
	return nil
}

func (p *YouTubeProvider) ImmediatePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	resolved := task.VideoUrl
	if p.Resolver != nil {
		var err error
		resolved, err = p.Resolver.Resolve(ctx, task.VideoUrl)
		if err != nil {
			return nil, err
		}
	}

	opt := task.Option.Youtube
	params := YouTubeVideoParams{
		Title:       task.Title,
		Description: task.Desc,
		Tags:        task.Topics,
		SourceURL:   resolved,
	}
	if opt != nil {
		params.CategoryId = opt.CategoryId
		params.PrivacyStatus = opt.PrivacyStatus
		params.License = opt.License
		params.NotifySubscribers = opt.NotifySubscribers
		params.Embeddable = opt.Embeddable
		params.MadeForKids = opt.SelfDeclaredMadeForKids
	}
	if params.PrivacyStatus == "" {
		params.PrivacyStatus = "public"
	}

	videoId, err := p.API.UploadVideo(ctx, account, params)
	if err != nil {
		return nil, err
	}
	return &PublishingTaskResult{
		Status:   models.PublishStatusPublished,
		DataId:   videoId,
		WorkLink: "https://www.youtube.com/watch?v=" + videoId,
	}, nil
}

func (p *YouTubeProvider) SupportsUpdate() bool {
	return true
}

// UpdatePublishedPost edits title and description in place. YouTube cannot
// swap the video itself.
func (p *YouTubeProvider) UpdatePublishedPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount, contentType string) (*PublishingTaskResult, error) {
	if task.DataId == "" {
		return nil, NewTaskError("task %s has no published video id", task.ID)
	}
	if contentType != "" && contentType != "text" {
		return nil, NewTaskError("youtube only supports text edits, got %s", contentType)
	}
	if err := p.API.UpdateVideo(ctx, account, task.DataId, task.Title, task.Desc); err != nil {
		return nil, err
	}
	return &PublishingTaskResult{
		Status:   models.PublishStatusPublished,
		DataId:   task.DataId,
		WorkLink: task.WorkLink,
	}, nil
}
