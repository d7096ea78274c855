package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragme/features/job"
	"ragme/internal/middleware"
	"ragme/internal/worker"
)

type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) WriteWebpages(ctx context.Context, urls []string) error {
	args := m.Called(ctx, urls)
	return args.Error(0)
}

type MockJobStore struct {
	mock.Mock
}

func (m *MockJobStore) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func taskMessage(t *testing.T, payload job.TaskPayload) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &nsq.Message{Body: body}
}

func TestIngestConsumer_HandleMessage_Success(t *testing.T) {
	docs := new(MockOrchestrator)
	jobs := new(MockJobStore)
	consumer := worker.NewIngestConsumer(docs, jobs)

	jobs.On("UpdateStatus", mock.Anything, "job-1", job.StatusRunning, "").Return(nil)
	docs.On("WriteWebpages", mock.Anything, []string{"http://a", "http://b"}).Return(nil)
	jobs.On("UpdateStatus", mock.Anything, "job-1", job.StatusCompleted, "").Return(nil)

	msg := taskMessage(t, job.TaskPayload{
		JobID:         "job-1",
		URLs:          []string{"http://a", "http://b"},
		CorrelationID: "corr-1",
	})

	err := consumer.HandleMessage(msg)
	assert.NoError(t, err)

	docs.AssertExpectations(t)
	jobs.AssertExpectations(t)
}

func TestIngestConsumer_HandleMessage_RestoresCorrelationID(t *testing.T) {
	docs := new(MockOrchestrator)
	jobs := new(MockJobStore)
	consumer := worker.NewIngestConsumer(docs, jobs)

	jobs.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	docs.On("WriteWebpages", mock.MatchedBy(func(ctx context.Context) bool {
		return middleware.GetCorrelationID(ctx) == "corr-42"
	}), mock.Anything).Return(nil)

	msg := taskMessage(t, job.TaskPayload{
		JobID:         "job-1",
		URLs:          []string{"http://a"},
		CorrelationID: "corr-42",
	})

	require.NoError(t, consumer.HandleMessage(msg))
	docs.AssertExpectations(t)
}

func TestIngestConsumer_HandleMessage_IngestFailureMarksJobFailed(t *testing.T) {
	docs := new(MockOrchestrator)
	jobs := new(MockJobStore)
	consumer := worker.NewIngestConsumer(docs, jobs)

	jobs.On("UpdateStatus", mock.Anything, "job-1", job.StatusRunning, "").Return(nil)
	docs.On("WriteWebpages", mock.Anything, mock.Anything).Return(errors.New("fetch http://a: timeout"))
	jobs.On("UpdateStatus", mock.Anything, "job-1", job.StatusFailed, "fetch http://a: timeout").Return(nil)

	msg := taskMessage(t, job.TaskPayload{JobID: "job-1", URLs: []string{"http://a"}})

	// Failures are recorded in the jobs table, not requeued by NSQ.
	err := consumer.HandleMessage(msg)
	assert.NoError(t, err)

	jobs.AssertExpectations(t)
}

func TestIngestConsumer_HandleMessage_InvalidJSONDropped(t *testing.T) {
	docs := new(MockOrchestrator)
	jobs := new(MockJobStore)
	consumer := worker.NewIngestConsumer(docs, jobs)

	msg := &nsq.Message{Body: []byte("not json at all")}

	err := consumer.HandleMessage(msg)
	assert.NoError(t, err)

	docs.AssertNotCalled(t, "WriteWebpages", mock.Anything, mock.Anything)
	jobs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestConsumer_HandleMessage_EmptyBodyDropped(t *testing.T) {
	docs := new(MockOrchestrator)
	jobs := new(MockJobStore)
	consumer := worker.NewIngestConsumer(docs, jobs)

	err := consumer.HandleMessage(&nsq.Message{Body: nil})
	assert.NoError(t, err)

	docs.AssertNotCalled(t, "WriteWebpages", mock.Anything, mock.Anything)
}

func TestIngestConsumer_HandleMessage_MissingFieldsDropped(t *testing.T) {
	docs := new(MockOrchestrator)
	jobs := new(MockJobStore)
	consumer := worker.NewIngestConsumer(docs, jobs)

	msg := taskMessage(t, job.TaskPayload{JobID: "", URLs: []string{"http://a"}})
	require.NoError(t, consumer.HandleMessage(msg))

	msg = taskMessage(t, job.TaskPayload{JobID: "job-1", URLs: nil})
	require.NoError(t, consumer.HandleMessage(msg))

	docs.AssertNotCalled(t, "WriteWebpages", mock.Anything, mock.Anything)
	jobs.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestConsumer_HandleMessage_RunningUpdateFailureStillIngests(t *testing.T) {
	docs := new(MockOrchestrator)
	jobs := new(MockJobStore)
	consumer := worker.NewIngestConsumer(docs, jobs)

	jobs.On("UpdateStatus", mock.Anything, "job-1", job.StatusRunning, "").Return(errors.New("db hiccup"))
	docs.On("WriteWebpages", mock.Anything, []string{"http://a"}).Return(nil)
	jobs.On("UpdateStatus", mock.Anything, "job-1", job.StatusCompleted, "").Return(nil)

	msg := taskMessage(t, job.TaskPayload{JobID: "job-1", URLs: []string{"http://a"}})
	require.NoError(t, consumer.HandleMessage(msg))

	docs.AssertExpectations(t)
	jobs.AssertExpectations(t)
}
