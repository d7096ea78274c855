package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ragme/internal/config"
	"ragme/internal/middleware"
)

// ErrNotRetryable is returned when retry is requested for a job that
// has not failed.
var ErrNotRetryable = errors.New("only failed jobs can be retried")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo Repository
	pub  EventPublisher
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub}
}

// Create persists a queued job and publishes its task to NSQ. The job is
// marked failed when the publish does not go through, so it stays
// retryable instead of queued forever.
func (s *Service) Create(ctx context.Context, urls []string) (*Job, error) {
	j := &Job{URLs: urls, Status: StatusQueued}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	if err := s.publish(ctx, j); err != nil {
		_ = s.repo.UpdateStatus(ctx, j.ID, StatusFailed, err.Error())
		return nil, fmt.Errorf("publish ingest task: %w", err)
	}

	return j, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry re-publishes a failed job and moves it back to queued.
func (s *Service) Retry(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != StatusFailed {
		return ErrNotRetryable
	}

	if err := s.publish(ctx, j); err != nil {
		return fmt.Errorf("publish ingest task: %w", err)
	}

	return s.repo.UpdateStatus(ctx, id, StatusQueued, "")
}

func (s *Service) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *Service) publish(ctx context.Context, j *Job) error {
	body, err := json.Marshal(TaskPayload{
		JobID:         j.ID,
		URLs:          j.URLs,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	return s.pub.Publish(config.TopicIngest, body)
}
