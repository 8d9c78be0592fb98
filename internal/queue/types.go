package queue

import "time"

// Status is an enrichment job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one pending or settled enrichment unit.
type Job struct {
	ID          string
	Source      string // "github" | "slack" | "api"
	AccountID   string
	Narrative   string
	ResponseURL *string // Slack response_url for the best-effort callback
	Status      Status
	Attempt     int
	DedupeKey   *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
}

// EnqueueRequest describes a job to enqueue.
type EnqueueRequest struct {
	Source      string
	AccountID   string
	Narrative   string
	ResponseURL string
	// DedupeKey makes redelivered webhooks idempotent; see DeliveryDedupeKey.
	DedupeKey string
}
