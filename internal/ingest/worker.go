package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/workbench/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	SkipJob(id string, reason string) error
	FailJob(id string, errMsg string) error
}

// Ingester runs a single ingestion.
type Ingester interface {
	Ingest(ctx context.Context, req Request) (Result, error)
}

// Payload is the JSON body of an ingest_source job.
type Payload struct {
	Origin    string `json:"origin"`
	Permanent bool   `json:"permanent"`
	Title     string `json:"title,omitempty"`
}

// NewJob builds a pending ingest_source job for a URL.
func NewJob(p Payload) (storage.Job, error) {
	if p.Origin == "" {
		return storage.Job{}, errors.New("origin is required")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        storage.JobTypeIngestSource,
		PayloadJSON: string(b),
	}, nil
}

// Worker processes ingest_source jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	pipeline Ingester
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pipeline Ingester, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		pipeline: pipeline,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest_source job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobTypeIngestSource})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	err = w.processJob(ctx, job)
	switch {
	case errors.Is(err, ErrDuplicate):
		// Retrying cannot help; the source is already in the knowledge base.
		w.logger.Info("job skipped, source already exists", "job_id", job.ID)
		if skipErr := w.store.SkipJob(job.ID, err.Error()); skipErr != nil {
			return true, fmt.Errorf("skipping job %s: %w", job.ID, skipErr)
		}
		return true, nil
	case err != nil:
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	res, err := w.pipeline.Ingest(ctx, Request{
		Origin:    payload.Origin,
		Title:     payload.Title,
		Permanent: payload.Permanent,
	})
	if err != nil {
		return err
	}
	w.logger.Info("job completed", "job_id", job.ID, "source_id", res.SourceID, "chunks", res.Chunks)
	return nil
}
