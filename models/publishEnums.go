package models

// PublishStatus is the lifecycle state of a PublishTask.
// WaitingForPublish tasks are either scheduled for later or sitting in the queue.
type PublishStatus string

const (
	PublishStatusWaitingForPublish PublishStatus = "WaitingForPublish"
	PublishStatusPublishing        PublishStatus = "PUBLISHING"
	PublishStatusWaitingForUpdate  PublishStatus = "WAITING_FOR_UPDATE"
	PublishStatusUpdating          PublishStatus = "UPDATING"
	PublishStatusPublished         PublishStatus = "PUBLISHED"
	PublishStatusFailed            PublishStatus = "FAILED"
	PublishStatusUpdatedFailed     PublishStatus = "UPDATED_FAILED"
)

// AccountType discriminates the target platform of a task.
type AccountType string

const (
	AccountTypeInstagram AccountType = "instagram"
	AccountTypeYoutube   AccountType = "youtube"
	AccountTypeTiktok    AccountType = "tiktok"
	AccountTypeFacebook  AccountType = "facebook"
	AccountTypeBilibili  AccountType = "bilibili"
)

// PublishType is the kind of content being published.
type PublishType string

const (
	PublishTypeVideo   PublishType = "video"
	PublishTypeImage   PublishType = "image"
	PublishTypeArticle PublishType = "article"
)

type PostCategory string

const (
	PostCategoryPost  PostCategory = "POST"
	PostCategoryReels PostCategory = "REELS"
	PostCategoryStory PostCategory = "STORY"
)

type PostSubCategory string

const (
	PostSubCategoryPlaintext PostSubCategory = "PLAINTEXT"
	PostSubCategoryPhoto     PostSubCategory = "PHOTO"
	PostSubCategoryVideo     PostSubCategory = "VIDEO"
)

// PostMediaStatus tracks one staged media container at the platform side.
type PostMediaStatus string

const (
	PostMediaStatusCreated    PostMediaStatus = "CREATED"
	PostMediaStatusInProgress PostMediaStatus = "IN_PROGRESS"
	PostMediaStatusFinished   PostMediaStatus = "FINISHED"
	PostMediaStatusFailed     PostMediaStatus = "FAILED"
)

// AccessStatus is the usability of a stored platform credential.
type AccessStatus string

const (
	AccessStatusNormal  AccessStatus = "NORMAL"
	AccessStatusInvalid AccessStatus = "INVALID"
)

// Job statuses for PublishJob.Status.
// Keep these as strings (DB values) for backwards compatibility.
const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusSucceeded  = "SUCCEEDED"
	JobStatusFailed     = "FAILED"
	JobStatusDead       = "DEAD"
)

// Backoff strategies for PublishJob.BackoffType.
const (
	BackoffTypeExponential = "exponential"
	BackoffTypeFixed       = "fixed"
)

// Queue names. One dispatcher per queue.
const (
	QueuePostPublish         = "post_publish"
	QueuePostMediaTask       = "post_media_task"
	QueueUpdatePublishedPost = "update_published_post"
)
