package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/workbench/internal/ingest"
	"github.com/kalambet/workbench/internal/loader"
	"github.com/kalambet/workbench/internal/rag"
	"github.com/kalambet/workbench/internal/retrieval"
	"github.com/kalambet/workbench/internal/storage"
)

const maxRequestBodySize = 1 << 20

const maxTopK = 50

// IngestRequest queues ingestion of a web page or YouTube video.
type IngestRequest struct {
	URL       string `json:"url"`
	Permanent bool   `json:"permanent"`
	Title     string `json:"title"`
}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// JobResponse reports the state of an ingestion job.
type JobResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SourceResponse is one live source.
type SourceResponse struct {
	SourceID   string               `json:"source_id"`
	SourceType retrieval.SourceType `json:"source_type"`
	Origin     string               `json:"origin"`
	Title      string               `json:"title"`
	Language   string               `json:"language"`
	Permanent  bool                 `json:"permanent"`
	CreatedAt  time.Time            `json:"created_at"`
	ExpiresAt  *time.Time           `json:"expires_at,omitempty"`
	Chunks     int                  `json:"chunks"`
}

// NewAppHandler returns the JSON API. Mount it under /api.
func NewAppHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/ingest", handleIngest(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Post("/ask", handleAsk(deps))
	r.Get("/recall", handleRecall(deps))
	r.Get("/sources", handleListSources(deps))
	r.Delete("/sources/{id}", handleDeleteSource(deps))
	r.Post("/sweep", handleSweep(deps))

	return r
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}
		if _, err := loader.Classify(req.URL); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url must be an https web page or a YouTube video")
			return
		}

		job, err := ingest.NewJob(ingest.Payload{Origin: req.URL, Permanent: req.Permanent, Title: req.Title})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}
		if err := deps.Jobs.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     job.ID,
			"status": "queued",
		})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := deps.Jobs.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "job %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, JobResponse{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		})
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		if req.TopK > maxTopK {
			req.TopK = maxTopK
		}

		ans, err := deps.Asker.Ask(r.Context(), req.Question, req.TopK)
		if errors.Is(err, rag.ErrEmptyQuestion) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to answer: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

func handleRecall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", rag.DefaultTopK, maxTopK)
		if limit == 0 {
			limit = rag.DefaultTopK
		}

		chunks, err := deps.Retriever.Retrieve(r.Context(), q, limit)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "recall failed: %v", err)
			return
		}
		if chunks == nil {
			chunks = []retrieval.ContextChunk{}
		}
		writeJSON(w, http.StatusOK, chunks)
	}
}

func handleListSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := deps.Sources.ListSources(r.Context(), deps.now())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sources: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toSourceResponses(sources))
	}
}

func handleDeleteSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		n, err := deps.Sources.DeleteSource(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete source: %v", err)
			return
		}
		if n == 0 {
			httpError(w, http.StatusNotFound, "not_found_error", "source %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "chunks": n})
	}
}

func handleSweep(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.Sweeper.RunOnce(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "sweep failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func toSourceResponses(sources []retrieval.Source) []SourceResponse {
	out := make([]SourceResponse, len(sources))
	for i, s := range sources {
		out[i] = SourceResponse{
			SourceID:   s.SourceID,
			SourceType: s.SourceType,
			Origin:     s.Origin,
			Title:      s.Title,
			Language:   s.Language,
			Permanent:  s.Permanent,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
			Chunks:     s.Chunks,
		}
	}
	return out
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
