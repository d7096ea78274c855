package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"ragme/features/job"
	"ragme/internal/middleware"
)

// Orchestrator is the ingestion entry point the consumer drives.
type Orchestrator interface {
	WriteWebpages(ctx context.Context, urls []string) error
}

// JobStore tracks job lifecycle transitions.
type JobStore interface {
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
}

// IngestConsumer processes queued ingestion jobs from NSQ. Every
// message is acked exactly once: malformed payloads are dropped rather
// than requeued, and ingestion failures land in the jobs table where
// the retry endpoint can pick them up.
type IngestConsumer struct {
	docs Orchestrator
	jobs JobStore
}

func NewIngestConsumer(docs Orchestrator, jobs JobStore) *IngestConsumer {
	return &IngestConsumer{docs: docs, jobs: jobs}
}

func (c *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload job.TaskPayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid task payload, dropping", "error", err)
		return nil
	}

	if payload.JobID == "" || len(payload.URLs) == 0 {
		slog.ErrorContext(ctx, "missing required fields, dropping", "job_id", payload.JobID, "urls", len(payload.URLs))
		return nil
	}

	slog.InfoContext(ctx, "processing ingestion job", "job_id", payload.JobID, "urls", len(payload.URLs))

	if err := c.jobs.UpdateStatus(ctx, payload.JobID, job.StatusRunning, ""); err != nil {
		slog.WarnContext(ctx, "failed to mark job running", "job_id", payload.JobID, "error", err)
	}

	if err := c.docs.WriteWebpages(ctx, payload.URLs); err != nil {
		slog.ErrorContext(ctx, "ingestion failed", "job_id", payload.JobID, "error", err)
		if uerr := c.jobs.UpdateStatus(ctx, payload.JobID, job.StatusFailed, err.Error()); uerr != nil {
			slog.WarnContext(ctx, "failed to mark job failed", "job_id", payload.JobID, "error", uerr)
		}
		return nil
	}

	if err := c.jobs.UpdateStatus(ctx, payload.JobID, job.StatusCompleted, ""); err != nil {
		slog.WarnContext(ctx, "failed to mark job completed", "job_id", payload.JobID, "error", err)
	}

	slog.InfoContext(ctx, "ingestion job completed", "job_id", payload.JobID)
	return nil
}
