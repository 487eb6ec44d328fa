package publishing

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mediaflowhq/publisher_backend/models"
	"bitbucket.org/mediaflowhq/publisher_backend/queue"
	"bitbucket.org/mediaflowhq/publisher_backend/utils"
)

// In-memory stores for exercising the consumers and the service without a
// database or Redis.

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.PublishTask
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]*models.PublishTask{}}
}

func (s *fakeTaskStore) Create(ctx context.Context, task *models.PublishTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.FlowId == task.FlowId {
			return models.ErrPublishTaskExists
		}
	}
	copied := *task
	s.tasks[task.ID] = &copied
	return nil
}

func (s *fakeTaskStore) Get(ctx context.Context, id string) (*models.PublishTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *fakeTaskStore) GetByFlowId(ctx context.Context, flowId string, userId string) (*models.PublishTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.FlowId == flowId && (userId == "" || task.UserId == userId) {
			copied := *task
			return &copied, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (s *fakeTaskStore) GetByDataId(ctx context.Context, dataId string, uid string) (*models.PublishTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.DataId == dataId && (uid == "" || task.Uid == uid) {
			copied := *task
			return &copied, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (s *fakeTaskStore) List(ctx context.Context, filter models.PublishTaskFilter) ([]*models.PublishTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PublishTask
	for _, task := range s.tasks {
		if filter.UserId != "" && task.UserId != filter.UserId {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		copied := *task
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeTaskStore) ListDue(ctx context.Context, end time.Time) ([]*models.PublishTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PublishTask
	for _, task := range s.tasks {
		if task.Status == models.PublishStatusWaitingForPublish && !task.PublishTime.After(end) {
			copied := *task
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) Update(ctx context.Context, id string, upd models.PublishTaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	if upd.Status != nil {
		task.Status = *upd.Status
	}
	if upd.ErrorMsg != nil {
		task.ErrorMsg = *upd.ErrorMsg
	}
	if upd.QueueId != nil {
		task.QueueId = *upd.QueueId
	}
	if upd.Queued != nil {
		task.Queued = *upd.Queued
	}
	if upd.InQueue != nil {
		task.InQueue = *upd.InQueue
	}
	if upd.DataId != nil {
		task.DataId = *upd.DataId
	}
	if upd.WorkLink != nil {
		task.WorkLink = *upd.WorkLink
	}
	if upd.PublishTime != nil {
		task.PublishTime = *upd.PublishTime
	}
	if upd.Desc != nil {
		task.Desc = *upd.Desc
	}
	if upd.VideoUrl != nil {
		task.VideoUrl = *upd.VideoUrl
	}
	if upd.ImgUrlList != nil {
		task.ImgUrlList = upd.ImgUrlList
	}
	if upd.Topics != nil {
		task.Topics = upd.Topics
	}
	if upd.Option != nil {
		task.Option = *upd.Option
	}
	return nil
}

func (s *fakeTaskStore) Delete(ctx context.Context, id string, userId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || (userId != "" && task.UserId != userId) {
		return false, nil
	}
	delete(s.tasks, id)
	return true, nil
}

type fakeMediaStore struct {
	mu         sync.Mutex
	containers map[string]*models.PostMediaContainer
	deleted    []string
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{containers: map[string]*models.PostMediaContainer{}}
}

func (s *fakeMediaStore) Create(ctx context.Context, container *models.PostMediaContainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *container
	s.containers[container.ID] = &copied
	return nil
}

func (s *fakeMediaStore) ListBatch(ctx context.Context, publishId string, jobId string) ([]*models.PostMediaContainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PostMediaContainer
	for _, c := range s.containers {
		if c.PublishId == publishId && c.JobId == jobId {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeMediaStore) CountFinished(ctx context.Context, publishId string, jobId string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.containers {
		if c.PublishId == publishId && c.JobId == jobId && c.Status == models.PostMediaStatusFinished {
			n++
		}
	}
	return n, nil
}

func (s *fakeMediaStore) UpdateStatus(ctx context.Context, id string, status models.PostMediaStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	c.Status = status
	c.ErrorMsg = errorMsg
	return nil
}

func (s *fakeMediaStore) DeleteByPublishId(ctx context.Context, publishId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.containers {
		if c.PublishId == publishId {
			delete(s.containers, id)
		}
	}
	s.deleted = append(s.deleted, publishId)
	return nil
}

type fakeRecordStore struct {
	mu      sync.Mutex
	records []*models.PublishRecord
}

func (s *fakeRecordStore) Create(ctx context.Context, record *models.PublishRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records = append(s.records, &copied)
	return nil
}

func (s *fakeRecordStore) List(ctx context.Context, filter models.PublishRecordFilter) ([]*models.PublishRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PublishRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

type fakeAccountStore struct {
	mu          sync.Mutex
	accounts    map[string]*models.ChannelAccount
	invalidated []string
}

func newFakeAccountStore(accounts ...*models.ChannelAccount) *fakeAccountStore {
	s := &fakeAccountStore{accounts: map[string]*models.ChannelAccount{}}
	for _, account := range accounts {
		s.accounts[account.ID] = account
	}
	return s
}

func (s *fakeAccountStore) Get(ctx context.Context, id string) (*models.ChannelAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *fakeAccountStore) Invalidate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, id)
	if account, ok := s.accounts[id]; ok {
		account.AccessStatus = models.AccessStatusInvalid
	}
	return nil
}

type fakeJobQueue struct {
	mu      sync.Mutex
	jobs    map[string]*models.PublishJob
	added   []*models.PublishJob
	removed []string
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{jobs: map[string]*models.PublishJob{}}
}

func (q *fakeJobQueue) Add(ctx context.Context, queueName string, taskId string, payload []byte, opts queue.JobOptions) (*models.PublishJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.Queue == queueName && job.TaskId == taskId && job.Status == models.JobStatusPending {
			return nil, queue.ErrJobExists
		}
	}
	job := &models.PublishJob{
		ID:      uuid.NewString(),
		Queue:   queueName,
		TaskId:  taskId,
		Payload: payload,
		Status:  models.JobStatusPending,
	}
	q.jobs[job.ID] = job
	q.added = append(q.added, job)
	return job, nil
}

func (q *fakeJobQueue) Get(ctx context.Context, id string) (*models.PublishJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return job, nil
}

func (q *fakeJobQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	if job.Status == models.JobStatusProcessing {
		return queue.ErrJobInProgress
	}
	delete(q.jobs, id)
	q.removed = append(q.removed, id)
	return nil
}

// fakeProvider lets each test script the platform behavior.
type fakeProvider struct {
	platform       models.AccountType
	validateErr    error
	publishResult  *PublishingTaskResult
	publishErr     error
	publishCalls   int
	finalizeResult *PublishingTaskResult
	finalizeErr    error
	finalizeCalls  int
	mediaStatuses  map[string]string
	updateResult   *PublishingTaskResult
	updateErr      error
	updateCalls    int
	supportsUpdate bool
	vocabulary     *StatusVocabulary
}

func (p *fakeProvider) Platform() models.AccountType { return p.platform }

func (p *fakeProvider) ValidatePublishParams(task *models.PublishTask) error { return p.validateErr }

func (p *fakeProvider) ImmediatePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	p.publishCalls++
	return p.publishResult, p.publishErr
}

func (p *fakeProvider) FinalizePublish(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount) (*PublishingTaskResult, error) {
	p.finalizeCalls++
	return p.finalizeResult, p.finalizeErr
}

func (p *fakeProvider) GetMediaProcessingStatus(ctx context.Context, account *models.ChannelAccount, mediaId string) (string, error) {
	if status, ok := p.mediaStatuses[mediaId]; ok {
		return status, nil
	}
	return "processing", nil
}

func (p *fakeProvider) UpdatePublishedPost(ctx context.Context, task *models.PublishTask, account *models.ChannelAccount, contentType string) (*PublishingTaskResult, error) {
	p.updateCalls++
	return p.updateResult, p.updateErr
}

func (p *fakeProvider) SupportsUpdate() bool { return p.supportsUpdate }

func (p *fakeProvider) Vocabulary() StatusVocabulary {
	if p.vocabulary != nil {
		return *p.vocabulary
	}
	return DefaultStatusVocabulary()
}

type testEnv struct {
	core     *Core
	tasks    *fakeTaskStore
	media    *fakeMediaStore
	records  *fakeRecordStore
	accounts *fakeAccountStore
	jobs     *fakeJobQueue
}

func newTestEnv(accounts ...*models.ChannelAccount) *testEnv {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		tasks:    newFakeTaskStore(),
		media:    newFakeMediaStore(),
		records:  &fakeRecordStore{},
		accounts: newFakeAccountStore(accounts...),
		jobs:     newFakeJobQueue(),
	}
	env.core = &Core{
		Tasks:    env.tasks,
		Media:    env.media,
		Records:  env.records,
		Accounts: env.accounts,
		Jobs:     env.jobs,
		Logger:   logger,
	}
	return env
}
