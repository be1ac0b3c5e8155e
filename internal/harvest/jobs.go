package harvest

import (
	"context"
	"time"
)

// JobStatus represents the lifecycle state of a queued harvest.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Job is the metadata kept for each submitted harvest.
type Job struct {
	ID         string     `json:"id"`
	EntityName string     `json:"entity_name"`
	EntityKey  string     `json:"entity_key"`
	Status     JobStatus  `json:"status"`
	Submitted  time.Time  `json:"submitted_at"`
	Started    *time.Time `json:"started_at,omitempty"`
	Finished   *time.Time `json:"finished_at,omitempty"`
	ErrorText  string     `json:"error_text,omitempty"`
	Documents  int        `json:"documents"`
	Texts      int        `json:"texts"`
}

// JobOutcome is the counters and error recorded on a status change.
type JobOutcome struct {
	ErrorText string
	Documents int
	Texts     int
}

// JobStore persists harvest job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, outcome JobOutcome) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID      string
	EntityName string
	Attempt    int
	Submitted  int64
}

// Queue provides enqueue/dequeue semantics for harvest jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
