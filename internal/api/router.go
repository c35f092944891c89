package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the full HTTP surface: HTML pages at the root, the JSON
// API under /api and a health probe.
func NewRouter(deps Deps, retention time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Mount("/api", NewAppHandler(deps))
	r.Mount("/", NewWebHandler(deps, retention))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
