package models

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusAborted   JobStatus = "aborted"
)

// Job is one schedulable, cancellable, progress-reporting unit of
// background work. The persisted job rows are the durable audit trail of
// everything the scheduler ran.
type Job struct {
	ID           string    `json:"id"`
	AccountID    int64     `json:"accountId"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Priority     int       `json:"priority"` // higher = sooner
	Status       JobStatus `json:"status"`
	Trigger      string    `json:"trigger"`
	CreatedAt    int64     `json:"createdAt"`
	StartedAt    *int64    `json:"startedAt"`
	CompletedAt  *int64    `json:"completedAt"`
	Duration     *int64    `json:"duration"`
	ErrorMessage *string   `json:"errorMessage"`
}

// JobLogLine is one timestamped line of a job's append-only progress log.
type JobLogLine struct {
	JobID     string `json:"jobId"`
	Timestamp int64  `json:"timestamp"`
	Line      string `json:"line"`
}
