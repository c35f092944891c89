package tracing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestRecorder_PostsRuns(t *testing.T) {
	var mu sync.Mutex
	var got []Run
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var run Run
		if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
			t.Errorf("decoding run: %v", err)
		}
		mu.Lock()
		got = append(got, run)
		keys = append(keys, r.Header.Get("x-api-key"))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	rec := NewRecorder(srv.URL+"/", "ls-key", "workbench-test")
	start := time.Now().UTC()
	rec.Record(Run{Name: "chat", RunType: "llm", Inputs: map[string]any{"q": "hi"}, StartTime: start, EndTime: start})
	rec.Record(Run{Name: "embed", RunType: "embedding", Project: "other", StartTime: start, EndTime: start})
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("posted %d runs, want 2", len(got))
	}
	if got[0].ID == "" {
		t.Error("run ID should be generated")
	}
	if got[0].Project != "workbench-test" {
		t.Errorf("Project = %q, want default project", got[0].Project)
	}
	if got[1].Project != "other" {
		t.Errorf("Project = %q, want explicit project kept", got[1].Project)
	}
	if keys[0] != "ls-key" {
		t.Errorf("x-api-key = %q", keys[0])
	}
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	rec := NewRecorder("http://127.0.0.1:0", "k", "p")
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRecorder_RecordAfterCloseIsDropped(t *testing.T) {
	rec := NewRecorder("http://127.0.0.1:0", "k", "p")
	rec.Close()
	rec.Record(Run{Name: "late"})
}
