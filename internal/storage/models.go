package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	// JobSkipped marks a job that finished without doing work; LastError
	// holds the reason.
	JobSkipped = "skipped"
)

// JobTypeIngestSource is the job type for asynchronous URL ingestion.
const JobTypeIngestSource = "ingest_source"

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed", "skipped"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Finished reports whether the job reached a terminal status.
func (j Job) Finished() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobSkipped
}
