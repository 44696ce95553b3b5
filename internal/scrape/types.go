// Package scrape defines the scrape job model and the service that drives it.
package scrape

import (
	"encoding/json"
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued        JobStatus = "queued"
	JobStatusRunning       JobStatus = "running"
	JobStatusSucceeded     JobStatus = "succeeded"
	JobStatusFailed        JobStatus = "failed"
	JobStatusMissingOutput JobStatus = "missing_output"
)

// Terminal reports whether no further transition is expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusMissingOutput:
		return true
	default:
		return false
	}
}

// Job is the metadata kept for each submitted scrape.
type Job struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Status      JobStatus  `json:"status"`
	Submitted   time.Time  `json:"submitted_at"`
	Started     *time.Time `json:"started_at,omitempty"`
	Finished    *time.Time `json:"finished_at,omitempty"`
	ErrorText   string     `json:"error_text,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	BlobURI     string     `json:"blob_uri,omitempty"`
}

// QueueItem wraps a job ready to run. Done receives exactly one Outcome and
// must be buffered so the worker never blocks on an abandoned request.
type QueueItem struct {
	JobID      string
	URL        string
	OutputPath string
	Submitted  time.Time
	Done       chan Outcome
}

// Outcome is what a worker reports back for one job.
type Outcome struct {
	JobID  string
	Status JobStatus
	Data   json.RawMessage
	Err    error
}

// Result is returned to the caller of a successful scrape.
type Result struct {
	JobID string          `json:"job_id"`
	Data  json.RawMessage `json:"data"`
}

// CompletionEvent is published after a successful job.
type CompletionEvent struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	ContentHash string    `json:"content_hash"`
	BlobURI     string    `json:"blob_uri,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// FetchResponse is a fetched page handed to extraction.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
