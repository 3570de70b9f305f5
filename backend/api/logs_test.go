package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sysproxy/backend/service/applog"
)

func TestGETAppLogs_InvalidSince_ReturnsBadRequest(t *testing.T) {
	t.Parallel()

	router := NewRouter(newTestFacade(t, nil))

	for _, q := range []string{"not-a-number", "-1"} {
		req := httptest.NewRequest(http.MethodGet, "/app/logs?since="+q, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("since=%s: expected status %d, got %d: %s", q, http.StatusBadRequest, rec.Code, rec.Body.String())
		}
	}
}

func TestGETAppLogs_ReturnsChunk(t *testing.T) {
	t.Parallel()

	facade := newTestFacade(t, nil)
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	facade.SetAppLog(path, time.Now())
	router := NewRouter(facade)

	req := httptest.NewRequest(http.MethodGet, "/app/logs?since=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var chunk applog.Chunk
	if err := json.Unmarshal(rec.Body.Bytes(), &chunk); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chunk.Text != "llo\n" || chunk.End != 6 {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}
}
