package platform

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/publishing"
)

const tiktokAPIBase = "https://open.tiktokapis.com/v2"

// TikTokClient talks to the TikTok content posting API. Uploads go to a
// one-shot upload URL handed out by the init call.
type TikTokClient struct {
	BaseURL string
}

func NewTikTokClient() *TikTokClient {
	return &TikTokClient{BaseURL: tiktokAPIBase}
}

type tiktokInitRequest struct {
	PostInfo   tiktokPostInfo   `json:"post_info"`
	SourceInfo tiktokSourceInfo `json:"source_info"`
}

type tiktokPostInfo struct {
	Title              string `json:"title"`
	PrivacyLevel       string `json:"privacy_level"`
	DisableDuet        bool   `json:"disable_duet"`
	DisableStitch      bool   `json:"disable_stitch"`
	DisableComment     bool   `json:"disable_comment"`
	BrandOrganicToggle bool   `json:"brand_organic_toggle"`
	BrandContentToggle bool   `json:"brand_content_toggle"`
}

type tiktokSourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int64  `json:"video_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunkCount int    `json:"total_chunk_count"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishId string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *TikTokClient) InitVideoPublish(ctx context.Context, account *models.ChannelAccount, post publishing.TikTokPostInfo, videoSize int64, chunkSize int64, totalChunks int) (*publishing.TikTokInitResult, error) {
	payload := tiktokInitRequest{
		PostInfo: tiktokPostInfo{
			Title:              post.Title,
			PrivacyLevel:       post.PrivacyLevel,
			DisableDuet:        post.DisableDuet,
			DisableStitch:      post.DisableStitch,
			DisableComment:     post.DisableComment,
			BrandOrganicToggle: post.BrandOrganicToggle,
			BrandContentToggle: post.BrandContentToggle,
		},
		SourceInfo: tiktokSourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       videoSize,
			ChunkSize:       chunkSize,
			TotalChunkCount: totalChunks,
		},
	}

	var out tiktokInitResponse
	endpoint := c.BaseURL + "/post/publish/video/init/"
	if err := postJSON(ctx, "tiktok", "initVideoPublish", endpoint, account.AccessToken, payload, &out); err != nil {
		return nil, err
	}
	if out.Error.Code != "" && out.Error.Code != "ok" {
		return nil, statusError("tiktok", "initVideoPublish", http.StatusBadRequest,
			[]byte(out.Error.Code+": "+out.Error.Message))
	}
	return &publishing.TikTokInitResult{
		PublishId: out.Data.PublishId,
		UploadURL: out.Data.UploadURL,
	}, nil
}

func (c *TikTokClient) RemoteFileSize(ctx context.Context, rawURL string) (int64, error) {
	return remoteFileSize(ctx, "tiktok", rawURL)
}

func (c *TikTokClient) UploadChunk(ctx context.Context, uploadURL string, sourceURL string, chunk publishing.ChunkRange, totalSize int64, mimeType string) error {
	data, err := fetchRange(ctx, "tiktok", sourceURL, chunk)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return networkError("tiktok", "uploadChunk", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", chunk.Start, chunk.End, totalSize))
	req.ContentLength = int64(len(data))

	return doRequest(ctx, "tiktok", "uploadChunk", req, nil)
}
