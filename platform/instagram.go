package platform

import (
	"context"
	"net/url"
	"strings"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/publishing"
)

const instagramAPIBase = "https://graph.instagram.com/v23.0"

// InstagramClient talks to the Instagram Graph API. The account Uid is the
// IG user id, the access token is the long-lived user token.
type InstagramClient struct {
	BaseURL string
}

func NewInstagramClient() *InstagramClient {
	return &InstagramClient{BaseURL: instagramAPIBase}
}

func (c *InstagramClient) CreateMediaContainer(ctx context.Context, account *models.ChannelAccount, req publishing.InstagramContainerRequest) (string, error) {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	if req.MediaType != "" {
		form.Set("media_type", req.MediaType)
	}
	if req.ImageURL != "" {
		form.Set("image_url", req.ImageURL)
	}
	if req.VideoURL != "" {
		form.Set("video_url", req.VideoURL)
	}
	if req.Caption != "" {
		form.Set("caption", req.Caption)
	}
	if req.IsCarouselItem {
		form.Set("is_carousel_item", "true")
	}
	if len(req.Children) > 0 {
		form.Set("children", strings.Join(req.Children, ","))
	}

	var out struct {
		Id string `json:"id"`
	}
	endpoint := c.BaseURL + "/" + account.Uid + "/media"
	if err := postForm(ctx, "instagram", "createMediaContainer", endpoint, form, &out); err != nil {
		return "", err
	}
	return out.Id, nil
}

func (c *InstagramClient) PublishMediaContainer(ctx context.Context, account *models.ChannelAccount, containerId string) (string, error) {
	form := url.Values{}
	form.Set("access_token", account.AccessToken)
	form.Set("creation_id", containerId)

	var out struct {
		Id string `json:"id"`
	}
	endpoint := c.BaseURL + "/" + account.Uid + "/media_publish"
	if err := postForm(ctx, "instagram", "publishMediaContainer", endpoint, form, &out); err != nil {
		return "", err
	}
	return out.Id, nil
}

func (c *InstagramClient) GetContainerStatus(ctx context.Context, account *models.ChannelAccount, containerId string) (string, error) {
	var out struct {
		StatusCode string `json:"status_code"`
	}
	endpoint := c.BaseURL + "/" + containerId +
		"?fields=status_code&access_token=" + url.QueryEscape(account.AccessToken)
	if err := getJSON(ctx, "instagram", "getContainerStatus", endpoint, &out); err != nil {
		return "", err
	}
	return out.StatusCode, nil
}

func (c *InstagramClient) GetPostPermalink(ctx context.Context, account *models.ChannelAccount, postId string) (string, error) {
	var out struct {
		Permalink string `json:"permalink"`
	}
	endpoint := c.BaseURL + "/" + postId +
		"?fields=permalink&access_token=" + url.QueryEscape(account.AccessToken)
	if err := getJSON(ctx, "instagram", "getPostPermalink", endpoint, &out); err != nil {
		return "", err
	}
	return out.Permalink, nil
}
