package allowlist

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"sysproxy/backend/domain"
	"sysproxy/backend/events"
)

// sampleAllowlist is long enough to pass the minimum payload size.
var sampleAllowlist = strings.Repeat("*.example.cn\nfoo.example.com\n", 5) + "; Update Date: 2024-01-01\n"

func serveBody(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T) (*Fetcher, *Store) {
	t.Helper()
	store := NewStore(t.TempDir(), "")
	f := NewFetcher(store, http.DefaultClient, nil)
	f.spawn = func(_ string, fn func()) { fn() }
	return f, store
}

func TestFetcher_RawPayloadPersistedVerbatim(t *testing.T) {
	t.Parallel()

	f, store := newTestFetcher(t)
	srv := serveBody(t, http.StatusOK, sampleAllowlist)

	if err := f.Refresh(context.Background(), srv.URL); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, err := store.Load(store.Path())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != sampleAllowlist {
		t.Fatalf("expected verbatim payload, got %q", got)
	}

	st, _ := os.Stat(store.Path())
	if !st.ModTime().Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)) {
		t.Fatalf("expected mtime synced to update date, got %v", st.ModTime())
	}
}

func TestFetcher_Base64PayloadPersistedDecoded(t *testing.T) {
	t.Parallel()

	f, store := newTestFetcher(t)
	encoded := base64.StdEncoding.EncodeToString([]byte(sampleAllowlist))
	// gfwlist 风格：每 64 字符换行
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 64 {
		end := i + 64
		if end > len(encoded) {
			end = len(encoded)
		}
		wrapped.WriteString(encoded[i:end])
		wrapped.WriteString("\n")
	}
	srv := serveBody(t, http.StatusOK, wrapped.String())

	if err := f.Refresh(context.Background(), srv.URL); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, _ := store.Load(store.Path())
	if got != sampleAllowlist {
		t.Fatalf("expected decoded payload, got %q", got)
	}
}

func TestFetcher_RejectedPayloadsLeaveCacheUnchanged(t *testing.T) {
	t.Parallel()

	notAllowlist := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("plain text without wildcard ", 10)))
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"short body", http.StatusOK, "*.a.cn\n"},
		{"non-200", http.StatusNotFound, sampleAllowlist},
		{"not base64", http.StatusOK, strings.Repeat("<html>error page</html>", 10)},
		{"base64 of something else", http.StatusOK, notAllowlist},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, store := newTestFetcher(t)
			const prior = "*.prior.cn\n"
			if err := store.Save(prior); err != nil {
				t.Fatalf("save prior: %v", err)
			}
			srv := serveBody(t, tt.status, tt.body)

			err := f.Refresh(context.Background(), srv.URL)
			if !errors.Is(err, domain.ErrFetch) {
				t.Fatalf("expected ErrFetch, got %v", err)
			}
			got, _ := store.Load(store.Path())
			if got != prior {
				t.Fatalf("cache changed to %q", got)
			}
		})
	}
}

func TestFetcher_TransportError(t *testing.T) {
	t.Parallel()

	f, store := newTestFetcher(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := f.Refresh(context.Background(), url); !errors.Is(err, domain.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if _, err := store.Load(store.Path()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no cache file, got %v", err)
	}
}

func TestFetcher_EmptyURL(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t)
	if err := f.Refresh(context.Background(), " "); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestFetcher_RefreshAsyncPublishesEvent(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	got := make(chan events.AllowlistEvent, 1)
	bus.Subscribe(events.EventAllowlistUpdated, func(e events.Event) {
		got <- e.(events.AllowlistEvent)
	})

	store := NewStore(t.TempDir(), "")
	f := NewFetcher(store, http.DefaultClient, bus)
	srv := serveBody(t, http.StatusOK, sampleAllowlist)

	f.RefreshAsync(srv.URL)

	select {
	case e := <-got:
		if e.Path != store.Path() || e.Bytes != len(sampleAllowlist) {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("refresh did not complete")
	}
}
