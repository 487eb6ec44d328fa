package platform

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/publishing"
)

const facebookAPIBase = "https://graph.facebook.com/v23.0"

// FacebookClient talks to the Facebook Graph API with a page access token.
// The account Uid is the page id.
type FacebookClient struct {
	BaseURL string
}

func NewFacebookClient() *FacebookClient {
	return &FacebookClient{BaseURL: facebookAPIBase}
}

func (c *FacebookClient) PublishFeedPost(ctx context.Context, account *models.ChannelAccount, message string) (string, error) {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("message", message)

	var out struct {
		Id string `json:"id"`
	}
	endpoint := c.BaseURL + "/" + account.Uid + "/feed"
	if err := postForm(ctx, "facebook", "publishFeedPost", endpoint, form, &out); err != nil {
		return "", err
	}
	return out.Id, nil
}

func (c *FacebookClient) UploadImage(ctx context.Context, account *models.ChannelAccount, imageURL string) (string, error) {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("url", imageURL)
	form.Set("published", "false")

	var out struct {
		Id string `json:"id"`
	}
	endpoint := c.BaseURL + "/" + account.Uid + "/photos"
	if err := postForm(ctx, "facebook", "uploadImage", endpoint, form, &out); err != nil {
		return "", err
	}
	return out.Id, nil
}

func (c *FacebookClient) PublishPhotoPost(ctx context.Context, account *models.ChannelAccount, photoIds []string, message string) (string, error) {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	if message != "" {
		form.Set("message", message)
	}
	for i, photoId := range photoIds {
		form.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":"%s"}`, photoId))
	}

	var out struct {
		Id string `json:"id"`
	}
	endpoint := c.BaseURL + "/" + account.Uid + "/feed"
	if err := postForm(ctx, "facebook", "publishPhotoPost", endpoint, form, &out); err != nil {
		return "", err
	}
	return out.Id, nil
}

func (c *FacebookClient) RemoteFileSize(ctx context.Context, rawURL string) (int64, error) {
	return remoteFileSize(ctx, "facebook", rawURL)
}

func (c *FacebookClient) InitVideoUpload(ctx context.Context, account *models.ChannelAccount, fileSize int64) (*publishing.FacebookUploadSession, error) {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("upload_phase", "start")
	form.Set("file_size", strconv.FormatInt(fileSize, 10))

	var out struct {
		UploadSessionId string `json:"upload_session_id"`
		VideoId         string `json:"video_id"`
		StartOffset     string `json:"start_offset"`
		EndOffset       string `json:"end_offset"`
	}
	endpoint := c.BaseURL + "/" + account.Uid + "/videos"
	if err := postForm(ctx, "facebook", "initVideoUpload", endpoint, form, &out); err != nil {
		return nil, err
	}

	start, _ := strconv.ParseInt(out.StartOffset, 10, 64)
	end, _ := strconv.ParseInt(out.EndOffset, 10, 64)
	return &publishing.FacebookUploadSession{
		SessionId:   out.UploadSessionId,
		VideoId:     out.VideoId,
		StartOffset: start,
		EndOffset:   end,
	}, nil
}

func (c *FacebookClient) TransferVideoChunk(ctx context.Context, account *models.ChannelAccount, sessionId string, sourceURL string, startOffset int64, endOffset int64) (int64, int64, error) {
	chunk, err := fetchRange(ctx, "facebook", sourceURL, publishing.ChunkRange{Start: startOffset, End: endOffset - 1})
	if err != nil {
		return 0, 0, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("access_token", account.AccessToken)
	_ = writer.WriteField("upload_phase", "transfer")
	_ = writer.WriteField("upload_session_id", sessionId)
	_ = writer.WriteField("start_offset", strconv.FormatInt(startOffset, 10))
	part, err := writer.CreateFormFile("video_file_chunk", "chunk.mp4")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build chunk form: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return 0, 0, fmt.Errorf("failed to build chunk form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, 0, fmt.Errorf("failed to build chunk form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/"+account.Uid+"/videos", &body)
	if err != nil {
		return 0, 0, networkError("facebook", "transferVideoChunk", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out struct {
		StartOffset string `json:"start_offset"`
		EndOffset   string `json:"end_offset"`
	}
	if err := doRequest(ctx, "facebook", "transferVideoChunk", req, &out); err != nil {
		return 0, 0, err
	}
	start, _ := strconv.ParseInt(out.StartOffset, 10, 64)
	end, _ := strconv.ParseInt(out.EndOffset, 10, 64)
	return start, end, nil
}

func (c *FacebookClient) FinalizeVideoUpload(ctx context.Context, account *models.ChannelAccount, sessionId string) error {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("upload_phase", "finish")
	form.Set("upload_session_id", sessionId)

	endpoint := c.BaseURL + "/" + account.Uid + "/videos"
	return postForm(ctx, "facebook", "finalizeVideoUpload", endpoint, form, nil)
}

func (c *FacebookClient) PublishVideoPost(ctx context.Context, account *models.ChannelAccount, videoId string, description string) (string, error) {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	if description != "" {
		form.Set("description", description)
	}

	endpoint := c.BaseURL + "/" + videoId
	if err := postForm(ctx, "facebook", "publishVideoPost", endpoint, form, nil); err != nil {
		return "", err
	}
	return account.Uid + "_" + videoId, nil
}

func (c *FacebookClient) UploadHostedVideo(ctx context.Context, account *models.ChannelAccount, sourceURL string) (string, error) {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("upload_phase", "start")

	var started struct {
		VideoId   string `json:"video_id"`
		UploadURL string `json:"upload_url"`
	}
	endpoint := c.BaseURL + "/" + account.Uid + "/video_reels"
	if err := postForm(ctx, "facebook", "uploadHostedVideo", endpoint, form, &started); err != nil {
		return "", err
	}

	// The rupload endpoint pulls the file itself from the hosted URL.
	req, err := http.NewRequest(http.MethodPost, started.UploadURL, nil)
	if err != nil {
		return "", networkError("facebook", "uploadHostedVideo", err)
	}
	req.Header.Set("Authorization", "OAuth "+account.AccessToken)
	req.Header.Set("file_url", sourceURL)
	if err := doRequest(ctx, "facebook", "uploadHostedVideo", req, nil); err != nil {
		return "", err
	}
	return started.VideoId, nil
}

func (c *FacebookClient) FinishHostedVideo(ctx context.Context, account *models.ChannelAccount, videoId string, description string, asReel bool) error {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("upload_phase", "finish")
	form.Set("video_id", videoId)
	form.Set("video_state", "PUBLISHED")
	if description != "" {
		form.Set("description", description)
	}

	resource := "/video_stories"
	if asReel {
		resource = "/video_reels"
	}
	endpoint := c.BaseURL + "/" + account.Uid + resource
	return postForm(ctx, "facebook", "finishHostedVideo", endpoint, form, nil)
}

func (c *FacebookClient) PublishPhotoStory(ctx context.Context, account *models.ChannelAccount, photoId string) error {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("photo_id", photoId)

	endpoint := c.BaseURL + "/" + account.Uid + "/photo_stories"
	return postForm(ctx, "facebook", "publishPhotoStory", endpoint, form, nil)
}

func (c *FacebookClient) GetVideoStatus(ctx context.Context, account *models.ChannelAccount, videoId string) (string, error) {
	var out struct {
		Status struct {
			VideoStatus string `json:"video_status"`
		} `json:"status"`
	}
	endpoint := c.BaseURL + "/" + videoId +
		"?fields=status&access_token=" + url.QueryEscape(account.AccessToken)
	if err := getJSON(ctx, "facebook", "getVideoStatus", endpoint, &out); err != nil {
		return "", err
	}

	// Normalize Graph vocabulary onto the provider's processing states.
	switch strings.ToLower(out.Status.VideoStatus) {
	case "ready":
		return "completed", nil
	case "error":
		return "failed", nil
	case "processing", "uploading", "encoding":
		return "processing", nil
	default:
		return out.Status.VideoStatus, nil
	}
}

func (c *FacebookClient) UpdatePostMessage(ctx context.Context, account *models.ChannelAccount, postId string, message string) error {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("message", message)

	return postForm(ctx, "facebook", "updatePostMessage", c.BaseURL+"/"+postId, form, nil)
}
