package platform

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/publishing"
)

// YouTubeClient uploads through the Data API v3 with the account's OAuth
// token. Uploads stream straight from the resolved media URL.
type YouTubeClient struct{}

func NewYouTubeClient() *YouTubeClient {
	return &YouTubeClient{}
}

func (c *YouTubeClient) service(ctx context.Context, account *models.ChannelAccount) (*youtube.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: account.AccessToken})
	svc, err := youtube.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, networkError("youtube", "newService", err)
	}
	return svc, nil
}

func mapYouTubeError(operation string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &publishing.PlatformError{
			Platform:  "youtube",
			Operation: operation,
			Status:    gerr.Code,
			Message:   gerr.Message,
		}
	}
	return networkError("youtube", operation, err)
}

func (c *YouTubeClient) UploadVideo(ctx context.Context, account *models.ChannelAccount, params publishing.YouTubeVideoParams) (string, error) {
	svc, err := c.service(ctx, account)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Get(params.SourceURL)
	if err != nil {
		return "", networkError("youtube", "uploadVideo", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError("youtube", "uploadVideo", resp.StatusCode, []byte("failed to fetch source video"))
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       params.Title,
			Description: params.Description,
			Tags:        params.Tags,
			CategoryId:  params.CategoryId,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           params.PrivacyStatus,
			License:                 params.License,
			Embeddable:              params.Embeddable,
			SelfDeclaredMadeForKids: params.MadeForKids,
		},
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video).
		NotifySubscribers(params.NotifySubscribers).
		Media(resp.Body)
	uploaded, err := call.Context(ctx).Do()
	if err != nil {
		return "", mapYouTubeError("uploadVideo", err)
	}
	return uploaded.Id, nil
}

func (c *YouTubeClient) UpdateVideo(ctx context.Context, account *models.ChannelAccount, videoId string, title string, description string) error {
	svc, err := c.service(ctx, account)
	if err != nil {
		return err
	}

	// The update call replaces the whole snippet, so fetch the current one
	// to preserve categoryId and tags.
	list, err := svc.Videos.List([]string{"snippet"}).Id(videoId).Context(ctx).Do()
	if err != nil {
		return mapYouTubeError("updateVideo", err)
	}
	if len(list.Items) == 0 {
		return &publishing.PlatformError{
			Platform:  "youtube",
			Operation: "updateVideo",
			Status:    http.StatusNotFound,
			Message:   "video " + videoId + " not found",
		}
	}

	video := list.Items[0]
	if title != "" {
		video.Snippet.Title = title
	}
	video.Snippet.Description = description

	_, err = svc.Videos.Update([]string{"snippet"}, &youtube.Video{
		Id:      videoId,
		Snippet: video.Snippet,
	}).Context(ctx).Do()
	if err != nil {
		return mapYouTubeError("updateVideo", err)
	}
	return nil
}
