package publishing

import (
	"context"
	"fmt"
	"path"
	"strings"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

const tiktokChunkSize = 5 * 1024 * 1024

// ChunkRange is one byte range of a chunked upload, inclusive on both ends.
type ChunkRange struct {
	Start int64
	End   int64
}

// PlanChunks splits totalSize bytes into upload ranges of chunkSize. Files
// smaller than one chunk go up in a single range; a trailing remainder is
// folded into the last chunk.
func PlanChunks(totalSize int64, chunkSize int64) []ChunkRange {
	if totalSize <= 0 {
		return nil
	}
	if chunkSize <= 0 || totalSize < chunkSize {
		return []ChunkRange{{Start: 0, End: totalSize - 1}}
	}
	totalChunks := totalSize / chunkSize
	if totalChunks == 0 {
		totalChunks = 1
	}
	chunks := make([]ChunkRange, 0, totalChunks)
	var start int64
	for i := int64(0); i < totalChunks-1; i++ {
		chunks = append(chunks, ChunkRange{Start: start, End: start + chunkSize - 1})
		start += chunkSize
	}
	chunks = append(chunks, ChunkRange{Start: start, End: totalSize - 1})
	return chunks
}

// TikTokPostInfo mirrors the direct-post init call.
type TikTokPostInfo struct {
	Title              string
	PrivacyLevel       string
	DisableDuet        bool
	DisableStitch      bool
	DisableComment     bool
	BrandOrganicToggle bool
	BrandContentToggle bool
}

// TikTokInitResult is the platform's answer to an upload init.
type TikTokInitResult struct {
	PublishId string
	UploadURL string
}

// TikTokAPI is the authenticated platform surface this provider needs.
// RemoteFileSize and UploadChunk work against the source media URL because
// TikTok ingests raw bytes rather than a pull URL in this flow.
type TikTokAPI interface {
	InitVideoPublish(ctx context.Context, account *models.ChannelAccount, post TikTokPostInfo, videoSize int64, chunkSize int64, totalChunks int) (*TikTokInitResult, error)
	RemoteFileSize(ctx context.Context, url string) (int64, error)
	UploadChunk(ctx context.Context, uploadURL string, sourceURL string, chunk ChunkRange, totalSize int64, mimeType string) error
}

// TikTokProvider uploads the video in chunks and returns PUBLISHING with the
// platform publish id; the task is completed later by the post.publish.*
// webhook, not by the finalize queue.
type TikTokProvider struct {
	BaseProvider
	API      TikTokAPI
	Resolver MediaURLResolver
}

func NewTikTokProvider(core *Core, api TikTokAPI, resolver MediaURLResolver) *TikTokProvider {
	return &TikTokProvider{
		BaseProvider: NewBaseProvider(core, models.AccountTypeTiktok),
		API:          api,
		Resolver:     resolver,
	}
}

var tiktokPrivacyLevels = map[string]bool{
	"PUBLIC_TO_EVERYONE":    true,
	"MUTUAL_FOLLOW_FRIENDS": true,
	"SELF_ONLY":             true,
	"FOLLOWER_OF_CREATOR":   true,
}

func (p *TikTokProvider) ValidatePublishParams(task *models.PublishTask) error {
	if task.VideoUrl == "" {
		return NewTaskError("tiktok publish requires a video")
	}
	opt := task.Option.Tiktok
	if opt == nil || opt.PrivacyLevel == "" {
		return NewTaskError("tiktok privacy_level is required")
	}
	if !tiktokPrivacyLevels[opt.PrivacyLevel] {
		return NewTaskError("invalid tiktok privacy_level %s", opt.PrivacyLevel)
	}
	return nil
}

func videoMimeType(rawURL string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.SplitN(rawURL, "?", 2)[0]), "."))
	if ext == "" || ext == "mp4" {
		return "video/mp4"
	}
	return "video/" + ext
}

func (p *TikTokProvider) ImmediatePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	resolved := task.VideoUrl
	if p.Resolver != nil {
		var err error
		resolved, err = p.Resolver.Resolve(ctx, task.VideoUrl)
		if err != nil {
			return nil, err
		}
	}

	totalSize, err := p.API.RemoteFileSize(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if totalSize <= 0 {
		return nil, NewTaskError("could not determine video size for task %s", task.ID)
	}

	chunks := PlanChunks(totalSize, tiktokChunkSize)
	chunkSize := int64(tiktokChunkSize)
	if len(chunks) == 1 {
		chunkSize = totalSize
	}

	opt := task.Option.Tiktok
	title := task.Title
	if title == "" {
		title = task.Desc
	}
	post := TikTokPostInfo{
		Title:              title,
		PrivacyLevel:       opt.PrivacyLevel,
		DisableDuet:        opt.DisableDuet,
		DisableStitch:      opt.DisableStitch,
		DisableComment:     opt.DisableComment,
		BrandOrganicToggle: opt.BrandOrganicToggle,
		BrandContentToggle: opt.BrandContentToggle,
	}

	initRes, err := p.API.InitVideoPublish(ctx, account, post, totalSize, chunkSize, len(chunks))
	if err != nil {
		return nil, err
	}
	if initRes == nil || initRes.PublishId == "" {
		return nil, NewTaskError("tiktok publish init returned no publish id")
	}

	mimeType := videoMimeType(task.VideoUrl)
	for _, chunk := range chunks {
		if err := p.API.UploadChunk(ctx, initRes.UploadURL, resolved, chunk, totalSize, mimeType); err != nil {
			return nil, err
		}
	}

	return &PublishingTaskResult{
		Status:   models.PublishStatusPublishing,
		DataId:   initRes.PublishId,
		WorkLink: fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", task.Uid, initRes.PublishId),
	}, nil
}
