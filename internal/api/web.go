package api

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/workbench/internal/ingest"
	"github.com/kalambet/workbench/internal/rag"
	"github.com/kalambet/workbench/internal/retrieval"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// maxUploadSize caps multipart bodies on /ingest.
const maxUploadSize = 32 << 20

const noInputMessage = "No valid input provided. Please upload a PDF or enter a URL."

type pageData struct {
	Flashes   []Flash
	Sources   []retrieval.Source
	Question  string
	Answer    *rag.Answer
	Retention string
}

type web struct {
	deps      Deps
	flash     flasher
	retention time.Duration
}

// NewWebHandler returns the HTML interface: the home page, synchronous
// ingestion, question answering and source deletion.
func NewWebHandler(deps Deps, retention time.Duration) http.Handler {
	h := &web{deps: deps, flash: flasher{secret: deps.SessionSecret}, retention: retention}

	r := chi.NewRouter()
	r.Get("/", h.handleIndex)
	r.Post("/ingest", h.handleIngest)
	r.Post("/ask", h.handleAsk)
	r.Post("/sources/{id}/delete", h.handleDelete)

	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	return r
}

func (h *web) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pageData{Flashes: h.flash.pop(w, r)})
}

func (h *web) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	sources, err := h.deps.Sources.ListSources(r.Context(), h.deps.now())
	if err != nil {
		slog.Error("listing sources for page", "error", err)
		data.Flashes = append(data.Flashes, Flash{Category: FlashError, Message: "Unable to list the knowledge base."})
	}
	data.Sources = sources
	data.Retention = humanDuration(h.retention)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTmpl.Execute(w, data); err != nil {
		slog.Error("rendering page", "error", err)
	}
}

func (h *web) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleIngest ingests an uploaded PDF or a URL and reports the outcome as a
// flash message on the home page.
func (h *web) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.flash.add(w, r, FlashError, "UNABLE TO UPLOAD KNOWLEDGE: the upload could not be read.")
		h.redirectHome(w, r)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	req := ingest.Request{Permanent: r.FormValue("permanent") != ""}

	file, header, err := r.FormFile("pdf_file")
	switch {
	case err == nil && header.Filename != "":
		defer file.Close()
		req.Origin = secureFilename(header.Filename)
		req.File = file
		req.Size = header.Size
	default:
		req.Origin = strings.TrimSpace(r.FormValue("source_url"))
	}

	if req.Origin == "" {
		h.flash.add(w, r, FlashWarning, noInputMessage)
		h.redirectHome(w, r)
		return
	}

	res, err := h.deps.Ingester.Ingest(r.Context(), req)
	switch {
	case errors.Is(err, ingest.ErrDuplicate):
		h.flash.add(w, r, FlashWarning, fmt.Sprintf("KNOWLEDGE ALREADY EXISTS: '%s' has already been ingested.", req.Origin))
	case err != nil:
		slog.Error("ingestion failed", "origin", req.Origin, "error", err)
		h.flash.add(w, r, FlashError, fmt.Sprintf("UNABLE TO UPLOAD KNOWLEDGE: An error occurred with '%s'.", req.Origin))
	default:
		h.flash.add(w, r, FlashSuccess, fmt.Sprintf("KNOWLEDGE UPLOADED: Successfully ingested '%s'.", res.Origin))
	}
	h.redirectHome(w, r)
}

func (h *web) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	question := strings.TrimSpace(r.FormValue("question"))
	data := pageData{Question: question}

	if question == "" {
		data.Flashes = []Flash{{Category: FlashWarning, Message: "Please enter a question."}}
		h.render(w, r, http.StatusBadRequest, data)
		return
	}

	ans, err := h.deps.Asker.Ask(r.Context(), question, 0)
	if err != nil {
		slog.Error("answering question failed", "error", err)
		data.Flashes = []Flash{{Category: FlashError, Message: "Unable to answer right now. The language model request failed."}}
		h.render(w, r, http.StatusBadGateway, data)
		return
	}
	data.Answer = &ans
	h.render(w, r, http.StatusOK, data)
}

func (h *web) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.deps.Sources.DeleteSource(r.Context(), id)
	switch {
	case err != nil:
		slog.Error("deleting source failed", "source_id", id, "error", err)
		h.flash.add(w, r, FlashError, "Unable to delete the source.")
	case n == 0:
		h.flash.add(w, r, FlashWarning, "The source was already gone.")
	default:
		h.flash.add(w, r, FlashSuccess, fmt.Sprintf("Deleted %d chunks.", n))
	}
	h.redirectHome(w, r)
}

// secureFilename reduces an uploaded name to a safe base name.
func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	s := strings.TrimLeft(b.String(), "._")
	if s == "" {
		return "upload.pdf"
	}
	return s
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a while"
	case d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
	return d.String()
}
