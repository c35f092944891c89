// Package tracing exports LLM and embedding calls as runs to a LangSmith
// compatible endpoint. It is only active when an API key is configured.
package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run is one traced call.
type Run struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	RunType   string         `json:"run_type"`
	Project   string         `json:"session_name"`
	Inputs    map[string]any `json:"inputs"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
}

const (
	queueSize   = 256
	postTimeout = 10 * time.Second
)

// Recorder posts runs in the background so tracing never adds latency to
// the traced call. Runs are dropped when the queue is full.
type Recorder struct {
	endpoint   string
	apiKey     string
	project    string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Run
	wg     sync.WaitGroup
}

// NewRecorder starts a Recorder posting to endpoint + "/runs".
func NewRecorder(endpoint, apiKey, project string) *Recorder {
	r := &Recorder{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		project:    project,
		httpClient: &http.Client{Timeout: postTimeout},
		logger:     slog.Default().With("component", "tracing"),
		queue:      make(chan Run, queueSize),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Record enqueues run, filling in ID and project when unset.
func (r *Recorder) Record(run Run) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Project == "" {
		run.Project = r.project
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- run:
	default:
		r.logger.Warn("trace queue full, dropping run", "name", run.Name)
	}
}

// Close flushes queued runs and stops the background poster. Runs recorded
// afterwards are discarded.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for run := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		if err := r.post(ctx, run); err != nil {
			r.logger.Debug("posting run failed", "name", run.Name, "error", err)
		}
		cancel()
	}
}

func (r *Recorder) post(ctx context.Context, run Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/runs", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
