package publishing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/queue"
)

func newTestService(env *testEnv, providers ...Provider) *Service {
	return NewService(env.core, NewRegistry(providers...))
}

func createInput(flowId, accountId string) *CreatePublishTaskInput {
	return &CreatePublishTaskInput{
		FlowId:      flowId,
		AccountId:   accountId,
		AccountType: models.AccountTypeFacebook,
		Type:        models.PublishTypeArticle,
		Title:       "hello",
		Desc:        "hello world",
	}
}

func TestCreateTask_ImmediateWindowQueuesJob(t *testing.T) {
	env := newTestEnv(testAccount("acc-1"))
	svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})

	task, err := svc.CreateTask(context.Background(), createInput("flow-1", "acc-1"))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != models.PublishStatusWaitingForPublish {
		t.Errorf("status = %s, want WaitingForPublish", task.Status)
	}
	if len(env.jobs.added) != 1 {
		t.Fatalf("jobs queued = %d, want 1", len(env.jobs.added))
	}
	if env.jobs.added[0].Queue != models.QueuePostPublish {
		t.Errorf("queue = %s, want %s", env.jobs.added[0].Queue, models.QueuePostPublish)
	}
	stored, _ := env.tasks.Get(context.Background(), task.ID)
	if !stored.Queued || !stored.InQueue {
		t.Error("dispatch flags not set after immediate enqueue")
	}
	if stored.QueueId != env.jobs.added[0].ID {
		t.Errorf("queueId = %q, want the job id", stored.QueueId)
	}
}

func TestCreateTask_FutureScheduleSkipsQueue(t *testing.T) {
	env := newTestEnv(testAccount("acc-1"))
	svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})

	input := createInput("flow-1", "acc-1")
	input.PublishTime = time.Now().UTC().Add(2 * time.Hour)
	task, err := svc.CreateTask(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if len(env.jobs.added) != 0 {
		t.Errorf("jobs queued = %d, want 0 for a scheduled task", len(env.jobs.added))
	}
	stored, _ := env.tasks.Get(context.Background(), task.ID)
	if stored.Queued || stored.InQueue {
		t.Error("scheduled task must not carry dispatch flags")
	}
}

func TestCreateTask_DuplicateFlowIdRejected(t *testing.T) {
	env := newTestEnv(testAccount("acc-1"))
	svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})

	if _, err := svc.CreateTask(context.Background(), createInput("flow-1", "acc-1")); err != nil {
		t.Fatalf("first CreateTask: %v", err)
	}
	_, err := svc.CreateTask(context.Background(), createInput("flow-1", "acc-1"))
	if !errors.Is(err, models.ErrPublishTaskExists) {
		t.Fatalf("err = %v, want ErrPublishTaskExists", err)
	}
}

func TestCreateTask_Rejections(t *testing.T) {
	env := newTestEnv(testAccount("acc-1"))
	svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})

	cases := []struct {
		name  string
		input *CreatePublishTaskInput
	}{
		{"missing flowId", &CreatePublishTaskInput{AccountId: "acc-1", AccountType: models.AccountTypeFacebook, Type: models.PublishTypeArticle}},
		{"unknown publish type", &CreatePublishTaskInput{FlowId: "f", AccountId: "acc-1", AccountType: models.AccountTypeFacebook, Type: "carousel"}},
		{"unregistered platform", &CreatePublishTaskInput{FlowId: "f", AccountId: "acc-1", AccountType: models.AccountTypeBilibili, Type: models.PublishTypeVideo}},
		{"unknown account", createInput("f", "acc-missing")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateTask(context.Background(), tc.input); err == nil {
				t.Fatal("expected rejection")
			}
			if len(env.jobs.added) != 0 {
				t.Fatal("rejected task must not enqueue a job")
			}
		})
	}
}

func TestCreateTask_ValidatesActiveOptionVariant(t *testing.T) {
	env := newTestEnv(&models.ChannelAccount{
		ID: "acc-tt", UserId: "user-1", AccountType: models.AccountTypeTiktok,
		AccessStatus: models.AccessStatusNormal,
	})
	svc := newTestService(env, &fakeProvider{platform: models.AccountTypeTiktok})

	input := &CreatePublishTaskInput{
		FlowId:      "flow-1",
		AccountId:   "acc-tt",
		AccountType: models.AccountTypeTiktok,
		Type:        models.PublishTypeVideo,
		VideoUrl:    "https://example.com/v.mp4",
		Option:      models.PublishOption{Tiktok: &models.TiktokOption{PrivacyLevel: "FRIENDS_OF_FRIENDS"}},
	}
	if _, err := svc.CreateTask(context.Background(), input); err == nil {
		t.Fatal("expected rejection for an invalid privacy level")
	}
}

func TestCreateTask_DefaultsInstagramCategory(t *testing.T) {
	env := newTestEnv(&models.ChannelAccount{
		ID: "acc-ig", UserId: "user-1", AccountType: models.AccountTypeInstagram,
		AccessStatus: models.AccessStatusNormal,
	})
	svc := newTestService(env, &fakeProvider{platform: models.AccountTypeInstagram})

	input := &CreatePublishTaskInput{
		FlowId:      "flow-1",
		AccountId:   "acc-ig",
		AccountType: models.AccountTypeInstagram,
		Type:        models.PublishTypeVideo,
		VideoUrl:    "https://example.com/v.mp4",
	}
	task, err := svc.CreateTask(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Option.Instagram == nil || task.Option.Instagram.ContentCategory != "reel" {
		t.Errorf("video task should default to the reel category, got %+v", task.Option.Instagram)
	}
}

func TestEnqueueNow(t *testing.T) {
	t.Run("waiting task is queued", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		seedTask(t, env, testTask("task-1", "acc-1", models.PublishStatusWaitingForPublish))

		if err := svc.EnqueueNow(context.Background(), "task-1"); err != nil {
			t.Fatalf("EnqueueNow: %v", err)
		}
		if len(env.jobs.added) != 1 {
			t.Fatalf("jobs queued = %d, want 1", len(env.jobs.added))
		}
	})
	t.Run("published task is rejected", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		seedTask(t, env, testTask("task-1", "acc-1", models.PublishStatusPublished))

		if err := svc.EnqueueNow(context.Background(), "task-1"); !errors.Is(err, ErrTaskStatusInvalid) {
			t.Fatalf("err = %v, want ErrTaskStatusInvalid", err)
		}
	})
	t.Run("missing task", func(t *testing.T) {
		env := newTestEnv()
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		if err := svc.EnqueueNow(context.Background(), "gone"); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("err = %v, want ErrTaskNotFound", err)
		}
	})
}

func publishedFacebookTask(id string) *models.PublishTask {
	task := testTask(id, "acc-1", models.PublishStatusPublished)
	task.DataId = "post-1"
	task.Option.Facebook = &models.FacebookOption{ContentCategory: "post"}
	return task
}

func TestUpdateTask(t *testing.T) {
	input := func(id string) *UpdateTaskInput {
		return &UpdateTaskInput{Id: id, UserId: "user-1", Desc: "edited"}
	}

	t.Run("enters the update machine and queues the job", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook, supportsUpdate: true})
		seedTask(t, env, publishedFacebookTask("task-1"))

		if err := svc.UpdateTask(context.Background(), input("task-1")); err != nil {
			t.Fatalf("UpdateTask: %v", err)
		}
		task, _ := env.tasks.Get(context.Background(), "task-1")
		if task.Status != models.PublishStatusWaitingForUpdate {
			t.Errorf("status = %s, want WAITING_FOR_UPDATE", task.Status)
		}
		if task.Desc != "edited" {
			t.Errorf("desc = %q, want the edited text", task.Desc)
		}
		if len(env.jobs.added) != 1 || env.jobs.added[0].Queue != models.QueueUpdatePublishedPost {
			t.Fatalf("expected one job on %s, got %+v", models.QueueUpdatePublishedPost, env.jobs.added)
		}
		var payload UpdatePayload
		if err := json.Unmarshal(env.jobs.added[0].Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.ContentType != "text" {
			t.Errorf("contentType = %q, want text", payload.ContentType)
		}
	})

	t.Run("not published yet", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook, supportsUpdate: true})
		seedTask(t, env, testTask("task-1", "acc-1", models.PublishStatusWaitingForPublish))

		if err := svc.UpdateTask(context.Background(), input("task-1")); !errors.Is(err, ErrTaskNotPublished) {
			t.Fatalf("err = %v, want ErrTaskNotPublished", err)
		}
	})

	t.Run("platform without in-place edit", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook, supportsUpdate: false})
		seedTask(t, env, publishedFacebookTask("task-1"))

		if err := svc.UpdateTask(context.Background(), input("task-1")); !errors.Is(err, ErrUpdateUnsupported) {
			t.Fatalf("err = %v, want ErrUpdateUnsupported", err)
		}
	})

	t.Run("facebook reel rejects update", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook, supportsUpdate: true})
		task := publishedFacebookTask("task-1")
		task.Option.Facebook.ContentCategory = "reel"
		seedTask(t, env, task)

		if err := svc.UpdateTask(context.Background(), input("task-1")); err == nil {
			t.Fatal("expected rejection for a non-post category")
		}
	})

	t.Run("other user's task looks missing", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook, supportsUpdate: true})
		seedTask(t, env, publishedFacebookTask("task-1"))

		in := input("task-1")
		in.UserId = "someone-else"
		if err := svc.UpdateTask(context.Background(), in); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("err = %v, want ErrTaskNotFound", err)
		}
	})
}

func TestChangeTime(t *testing.T) {
	newTime := time.Now().UTC().Add(3 * time.Hour)

	t.Run("reschedules and cancels the queued job", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		task := testTask("task-1", "acc-1", models.PublishStatusWaitingForPublish)
		job, err := env.jobs.Add(context.Background(), models.QueuePostPublish, "task-1", nil, queue.JobOptions{})
		if err != nil {
			t.Fatalf("seed job: %v", err)
		}
		task.QueueId = job.ID
		task.Queued = true
		task.InQueue = true
		seedTask(t, env, task)

		if err := svc.ChangeTime(context.Background(), "task-1", newTime, "user-1"); err != nil {
			t.Fatalf("ChangeTime: %v", err)
		}
		if len(env.jobs.removed) != 1 {
			t.Fatalf("removed jobs = %d, want 1", len(env.jobs.removed))
		}
		stored, _ := env.tasks.Get(context.Background(), "task-1")
		if !stored.PublishTime.Equal(newTime) {
			t.Errorf("publishTime = %v, want %v", stored.PublishTime, newTime)
		}
		if stored.Queued || stored.InQueue {
			t.Error("dispatch flags must be cleared so the scanner re-queues")
		}
	})

	t.Run("executing job blocks the reschedule", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		task := testTask("task-1", "acc-1", models.PublishStatusWaitingForPublish)
		job, _ := env.jobs.Add(context.Background(), models.QueuePostPublish, "task-1", nil, queue.JobOptions{})
		env.jobs.jobs[job.ID].Status = models.JobStatusProcessing
		task.QueueId = job.ID
		task.InQueue = true
		seedTask(t, env, task)

		if err := svc.ChangeTime(context.Background(), "task-1", newTime, "user-1"); !errors.Is(err, ErrTaskInProgress) {
			t.Fatalf("err = %v, want ErrTaskInProgress", err)
		}
	})

	t.Run("terminal task rejects reschedule", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		seedTask(t, env, testTask("task-1", "acc-1", models.PublishStatusFailed))

		if err := svc.ChangeTime(context.Background(), "task-1", newTime, "user-1"); !errors.Is(err, ErrTaskStatusInvalid) {
			t.Fatalf("err = %v, want ErrTaskStatusInvalid", err)
		}
	})
}

func TestDeleteTask(t *testing.T) {
	t.Run("removes task, job and containers", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		task := testTask("task-1", "acc-1", models.PublishStatusWaitingForPublish)
		job, _ := env.jobs.Add(context.Background(), models.QueuePostPublish, "task-1", nil, queue.JobOptions{})
		task.QueueId = job.ID
		task.Queued = true
		seedTask(t, env, task)
		stageContainer(t, env, "c-1", "task-1", "job-1", "m-1", models.PostMediaStatusCreated)

		if err := svc.DeleteTask(context.Background(), "task-1", "user-1"); err != nil {
			t.Fatalf("DeleteTask: %v", err)
		}
		if _, err := env.tasks.Get(context.Background(), "task-1"); err == nil {
			t.Error("task still present after delete")
		}
		if len(env.jobs.removed) != 1 {
			t.Errorf("removed jobs = %d, want 1", len(env.jobs.removed))
		}
		if len(env.media.deleted) != 1 || env.media.deleted[0] != "task-1" {
			t.Errorf("container cleanup not run: %v", env.media.deleted)
		}
	})

	t.Run("publishing task cannot be deleted", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		seedTask(t, env, testTask("task-1", "acc-1", models.PublishStatusPublishing))

		if err := svc.DeleteTask(context.Background(), "task-1", "user-1"); !errors.Is(err, ErrTaskInProgress) {
			t.Fatalf("err = %v, want ErrTaskInProgress", err)
		}
	})

	t.Run("other user's task looks missing", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeFacebook})
		seedTask(t, env, testTask("task-1", "acc-1", models.PublishStatusWaitingForPublish))

		if err := svc.DeleteTask(context.Background(), "task-1", "intruder"); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("err = %v, want ErrTaskNotFound", err)
		}
	})
}

func TestHandleTikTokWebhook(t *testing.T) {
	seedTikTokTask := func(t *testing.T, env *testEnv, status models.PublishStatus) {
		t.Helper()
		task := testTask("task-1", "acc-1", status)
		task.AccountType = models.AccountTypeTiktok
		task.Uid = "open-1"
		task.DataId = "pub-123"
		seedTask(t, env, task)
	}
	event := func(name string, content interface{}) *TikTokWebhookEvent {
		raw, _ := json.Marshal(content)
		return &TikTokWebhookEvent{Event: name, UserOpenId: "open-1", Content: string(raw)}
	}

	t.Run("publish complete finishes the task", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeTiktok})
		seedTikTokTask(t, env, models.PublishStatusPublishing)

		err := svc.HandleTikTokWebhook(context.Background(),
			event("post.publish.complete", map[string]string{"publish_id": "pub-123", "post_id": "vid-9"}))
		if err != nil {
			t.Fatalf("HandleTikTokWebhook: %v", err)
		}
		task, _ := env.tasks.Get(context.Background(), "task-1")
		if task.Status != models.PublishStatusPublished {
			t.Errorf("status = %s, want PUBLISHED", task.Status)
		}
		if task.DataId != "vid-9" {
			t.Errorf("dataId = %q, want the platform post id", task.DataId)
		}
		if len(env.records.records) != 1 {
			t.Errorf("records = %d, want 1", len(env.records.records))
		}
	})

	t.Run("duplicate delivery is idempotent", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeTiktok})
		seedTikTokTask(t, env, models.PublishStatusPublished)

		err := svc.HandleTikTokWebhook(context.Background(),
			event("post.publish.complete", map[string]string{"publish_id": "pub-123"}))
		if err != nil {
			t.Fatalf("HandleTikTokWebhook: %v", err)
		}
		if len(env.records.records) != 0 {
			t.Error("already published task must not gain another record")
		}
	})

	t.Run("publish failed fails the task", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeTiktok})
		seedTikTokTask(t, env, models.PublishStatusPublishing)

		err := svc.HandleTikTokWebhook(context.Background(),
			event("post.publish.failed", map[string]string{"publish_id": "pub-123"}))
		if err != nil {
			t.Fatalf("HandleTikTokWebhook: %v", err)
		}
		task, _ := env.tasks.Get(context.Background(), "task-1")
		if task.Status != models.PublishStatusFailed {
			t.Errorf("status = %s, want FAILED", task.Status)
		}
	})

	t.Run("unknown event is ignored", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeTiktok})
		seedTikTokTask(t, env, models.PublishStatusPublishing)

		err := svc.HandleTikTokWebhook(context.Background(),
			event("authorization.removed", map[string]string{"publish_id": "pub-123"}))
		if err != nil {
			t.Fatalf("HandleTikTokWebhook: %v", err)
		}
		task, _ := env.tasks.Get(context.Background(), "task-1")
		if task.Status != models.PublishStatusPublishing {
			t.Errorf("status = %s, want unchanged PUBLISHING", task.Status)
		}
	})

	t.Run("webhook for an unknown publish id is dropped", func(t *testing.T) {
		env := newTestEnv(testAccount("acc-1"))
		svc := newTestService(env, &fakeProvider{platform: models.AccountTypeTiktok})

		err := svc.HandleTikTokWebhook(context.Background(),
			event("post.publish.complete", map[string]string{"publish_id": "nope"}))
		if err != nil {
			t.Fatalf("HandleTikTokWebhook: %v", err)
		}
	})
}

func TestGeneratePostMessage(t *testing.T) {
	cases := []struct {
		name string
		task models.PublishTask
		want string
	}{
		{"description only", models.PublishTask{Desc: "launch day"}, "launch day"},
		{"topics appended as hashtags", models.PublishTask{Desc: "launch day", Topics: []string{"golang", "release"}}, "launch day #golang #release"},
		{"topics already hashtagged", models.PublishTask{Topics: []string{"#golang"}}, "#golang"},
		{"blank topics skipped", models.PublishTask{Desc: "x", Topics: []string{"", "  ", "go"}}, "x #go"},
		{"empty task", models.PublishTask{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GeneratePostMessage(&tc.task); got != tc.want {
				t.Errorf("GeneratePostMessage = %q, want %q", got, tc.want)
			}
		})
	}
}
