package publishing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

type fakeInstagramAPI struct {
	createContainer func(req InstagramContainerRequest) (string, error)
	statuses        map[string]string
	publishResult   string
	permalink       string
}

func (a *fakeInstagramAPI) CreateMediaContainer(ctx context.Context, account *models.ChannelAccount, req InstagramContainerRequest) (string, error) {
	return a.createContainer(req)
}

func (a *fakeInstagramAPI) PublishMediaContainer(ctx context.Context, account *models.ChannelAccount, containerId string) (string, error) {
	return a.publishResult, nil
}

func (a *fakeInstagramAPI) GetContainerStatus(ctx context.Context, account *models.ChannelAccount, containerId string) (string, error) {
	if status, ok := a.statuses[containerId]; ok {
		return status, nil
	}
	return "IN_PROGRESS", nil
}

func (a *fakeInstagramAPI) GetPostPermalink(ctx context.Context, account *models.ChannelAccount, postId string) (string, error) {
	return a.permalink, nil
}

func instagramAccount(id string) *models.ChannelAccount {
	account := testAccount(id)
	account.AccountType = models.AccountTypeInstagram
	return account
}

func instagramPostTask(id string, images ...string) *models.PublishTask {
	task := testTask(id, "acc-1", models.PublishStatusWaitingForPublish)
	task.AccountType = models.AccountTypeInstagram
	task.QueueId = "batch-1"
	task.ImgUrlList = images
	task.Option.Instagram = &models.InstagramOption{ContentCategory: "post"}
	return task
}

// The poll job may not exist until every container of the batch is staged:
// the media queue starts polling the moment the job is created, and a job
// raised mid-loop would treat a partial batch as complete.
func TestInstagramPost_FinalizeEnqueuedOnlyAfterFullBatch(t *testing.T) {
	env := newTestEnv(instagramAccount("acc-1"))
	var staged int
	api := &fakeInstagramAPI{
		createContainer: func(req InstagramContainerRequest) (string, error) {
			if len(env.jobs.added) != 0 {
				t.Errorf("finalize job existed with only %d container(s) staged", staged)
			}
			staged++
			return fmt.Sprintf("ig-%d", staged), nil
		},
	}
	provider := NewInstagramProvider(env.core, api, nil)
	task := instagramPostTask("task-1", "https://example.com/a.jpg", "https://example.com/b.jpg")
	seedTask(t, env, task)

	result, err := provider.ImmediatePublish(context.Background(), task, instagramAccount("acc-1"))
	if err != nil {
		t.Fatalf("ImmediatePublish: %v", err)
	}
	if result.Status != models.PublishStatusPublishing {
		t.Errorf("status = %s, want PUBLISHING", result.Status)
	}
	if staged != 2 {
		t.Fatalf("containers staged = %d, want 2", staged)
	}
	if len(env.jobs.added) != 1 {
		t.Fatalf("finalize jobs = %d, want exactly 1 after the loop", len(env.jobs.added))
	}
	var payload FinalizePayload
	if err := json.Unmarshal(env.jobs.added[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.TaskId != "task-1" || payload.JobId != "batch-1" {
		t.Errorf("payload = %+v, want the staged batch", payload)
	}
	containers, _ := env.media.ListBatch(context.Background(), "task-1", "batch-1")
	if len(containers) != 2 {
		t.Errorf("containers in batch = %d, want 2", len(containers))
	}
}

// Full carousel path: stage both images, aggregate them into one carousel
// container under a fresh batch, then publish once the carousel finishes.
func TestInstagramCarousel_RoundTrip(t *testing.T) {
	env := newTestEnv(instagramAccount("acc-1"))
	var staged int
	api := &fakeInstagramAPI{
		createContainer: func(req InstagramContainerRequest) (string, error) {
			staged++
			return fmt.Sprintf("ig-%d", staged), nil
		},
		statuses: map[string]string{
			"ig-1": "FINISHED", "ig-2": "FINISHED", "ig-3": "FINISHED",
		},
		publishResult: "post-77",
		permalink:     "https://www.instagram.com/p/abc/",
	}
	provider := NewInstagramProvider(env.core, api, nil)
	consumers := NewConsumers(env.core, NewRegistry(provider))
	seedTask(t, env, instagramPostTask("task-1", "https://example.com/a.jpg", "https://example.com/b.jpg"))

	if err := consumers.HandleImmediatePublish(context.Background(), &models.PublishJob{TaskId: "task-1"}); err != nil {
		t.Fatalf("HandleImmediatePublish: %v", err)
	}
	if len(env.jobs.added) != 1 {
		t.Fatalf("finalize jobs after staging = %d, want 1", len(env.jobs.added))
	}

	// First finalize pass: the dispatcher has claimed the job, so a new
	// batch may enqueue its own follow-up.
	first := env.jobs.added[0]
	env.jobs.jobs[first.ID].Status = models.JobStatusProcessing
	if err := consumers.HandleFinalizePublish(context.Background(), &models.PublishJob{TaskId: "task-1", Payload: first.Payload}); err != nil {
		t.Fatalf("finalize pass 1: %v", err)
	}
	task, _ := env.tasks.Get(context.Background(), "task-1")
	if task.Status != models.PublishStatusPublishing {
		t.Fatalf("status after aggregation = %s, want PUBLISHING", task.Status)
	}
	if staged != 3 {
		t.Fatalf("containers staged = %d, want 3 (2 items + carousel)", staged)
	}
	if len(env.jobs.added) != 2 {
		t.Fatalf("finalize jobs = %d, want a second one for the carousel batch", len(env.jobs.added))
	}

	// Second pass publishes the finished carousel.
	second := env.jobs.added[1]
	env.jobs.jobs[second.ID].Status = models.JobStatusProcessing
	if err := consumers.HandleFinalizePublish(context.Background(), &models.PublishJob{TaskId: "task-1", Payload: second.Payload}); err != nil {
		t.Fatalf("finalize pass 2: %v", err)
	}
	task, _ = env.tasks.Get(context.Background(), "task-1")
	if task.Status != models.PublishStatusPublished {
		t.Errorf("status = %s, want PUBLISHED", task.Status)
	}
	if task.DataId != "post-77" {
		t.Errorf("dataId = %q, want post-77", task.DataId)
	}
	if task.WorkLink != "https://www.instagram.com/p/abc/" {
		t.Errorf("workLink = %q", task.WorkLink)
	}
	if len(env.records.records) != 1 {
		t.Errorf("records = %d, want 1", len(env.records.records))
	}
}
