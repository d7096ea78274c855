package job

import (
	"time"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job tracks one asynchronous ingestion request through its lifecycle.
type Job struct {
	ID        string    `json:"id"`
	URLs      []string  `json:"urls"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskPayload is the NSQ message body published for a job. The ingest
// worker decodes it, restores the correlation ID, and processes the URLs.
type TaskPayload struct {
	JobID         string   `json:"job_id"`
	URLs          []string `json:"urls"`
	CorrelationID string   `json:"correlation_id"`
}
