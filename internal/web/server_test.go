package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/ingest"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/sync"
	"github.com/conorfennell/knoldeck/internal/timing"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func openCollection(t *testing.T) *collection.Collection {
	t.Helper()
	cfg := config.Default()
	cfg.Collection.Path = ":memory:"
	cfg.Ingest.ReposDir = t.TempDir()
	clock := timing.NewManualClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	col, err := collection.Open(context.Background(), &cfg, clock, collection.WithLogger(quiet))
	require.NoError(t, err)
	t.Cleanup(func() { col.Close() })
	return col
}

func startServer(t *testing.T, col *collection.Collection) *httptest.Server {
	t.Helper()
	srv, err := NewServer(col, WithLogger(quiet), WithIngester(ingest.New(col, ingest.WithLogger(quiet))))
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func TestSyncOverHTTP(t *testing.T) {
	ctx := context.Background()
	server := openCollection(t)
	ts := startServer(t, server)

	first := openCollection(t)
	_, _, err := first.AddNote(ctx, collection.NewNote{Fields: []string{"front", "back"}})
	require.NoError(t, err)
	res, err := first.Sync(ctx, NewClient(ts.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, sync.Uploaded, res.Outcome)

	second := openCollection(t)
	res, err = second.Sync(ctx, NewClient(ts.URL+"/"), nil)
	require.NoError(t, err)
	assert.Equal(t, sync.Downloaded, res.Outcome)

	_, _, err = second.AddNote(ctx, collection.NewNote{Fields: []string{"from second"}})
	require.NoError(t, err)
	res, err = second.Sync(ctx, NewClient(ts.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, sync.Merged, res.Outcome)
	assert.Equal(t, 2, res.Pushed, "one note and one card")

	res, err = first.Sync(ctx, NewClient(ts.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, sync.Merged, res.Outcome)
	assert.Equal(t, 2, res.Pulled)

	for _, c := range []*collection.Collection{first, second} {
		want, err := server.Checksum(ctx)
		require.NoError(t, err)
		got, err := c.Checksum(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestClientMapsErrors(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t, openCollection(t))
	client := NewClient(ts.URL)

	started, err := client.Start(ctx, sync.StartRequest{BatchSize: 10})
	require.NoError(t, err)
	_, err = client.Start(ctx, sync.StartRequest{BatchSize: 10})
	assert.ErrorIs(t, err, sync.ErrBusy)

	_, err = client.Pull(ctx, sync.PullRequest{Session: "nope"})
	assert.ErrorIs(t, err, sync.ErrUnknownSession)

	_, err = client.Finish(ctx, sync.FinishRequest{Session: started.Session, Checksum: "wrong"})
	assert.ErrorIs(t, err, sync.ErrChecksumMismatch)

	require.NoError(t, client.Abort(ctx, started.Session))
}

func TestClientNetworkFailures(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"plain 502", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}},
		{"internal error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(errorResponse{Code: "internal", Error: "disk full"})
		}},
		{"garbled body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()
			_, err := NewClient(ts.URL).Meta(ctx)
			assert.ErrorIs(t, err, sync.ErrNetworkFailure)
		})
	}

	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	_, err := NewClient(ts.URL).Meta(ctx)
	assert.ErrorIs(t, err, sync.ErrNetworkFailure, "connection refused")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{sync.ErrBusy, http.StatusConflict, "busy"},
		{storage.ErrNotFound, http.StatusNotFound, "not_found"},
		{errBadRequest("bad"), http.StatusBadRequest, "bad_request"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("Expected %d %q for %v, but got %d %q", tt.status, tt.code, tt.err, status, code)
		}
	}
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if len(data) > 0 && data[0] == '{' {
			require.NoError(t, json.Unmarshal(data, &out))
		}
	}
	return resp, out
}

func TestStudyRoutes(t *testing.T) {
	ctx := context.Background()
	col := openCollection(t)
	ts := startServer(t, col)

	resp, _ := do(t, http.MethodGet, ts.URL+"/review/next", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, cards, err := col.AddNote(ctx, collection.NewNote{Fields: []string{"question", "answer"}, Tags: []string{"go"}})
	require.NoError(t, err)

	resp, deck := do(t, http.MethodGet, ts.URL+"/deck", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, deck["has_due_cards"])
	assert.Equal(t, float64(1), deck["due_count"])

	resp, next := do(t, http.MethodGet, ts.URL+"/review/next", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"question", "answer"}, next["fields"])
	assert.Len(t, next["options"], 4)

	url := ts.URL + "/review/" + jsonNumber(int64(cards[0].ID))
	resp, body := do(t, http.MethodPost, url, `{"grade":"purple"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", body["code"])

	resp, answered := do(t, http.MethodPost, url, `{"grade":"easy"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), answered["reps"])

	resp, body = do(t, http.MethodPost, ts.URL+"/review/12345", `{"grade":"good"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/review/abc", `{"grade":"good"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestSourceRoutes(t *testing.T) {
	col := openCollection(t)
	ts := startServer(t, col)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("Q: one\nA: two\n"), 0o644))

	get := func() []sourceView {
		resp, err := http.Get(ts.URL + "/sources")
		require.NoError(t, err)
		defer resp.Body.Close()
		var out []sourceView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}
	assert.Empty(t, get())

	resp, _ := do(t, http.MethodPost, ts.URL+"/sources", `{"path":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, _ := json.Marshal(sourceRequest{Path: dir})
	resp, _ = do(t, http.MethodPost, ts.URL+"/sources", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sources := get()
	require.Len(t, sources, 1)
	assert.Equal(t, storage.SourceLocal, sources[0].Type)

	resp, err := http.Post(ts.URL+"/ingest", "application/json", nil)
	require.NoError(t, err)
	var reports []ingestReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reports))
	resp.Body.Close()
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Added)
	assert.NotEmpty(t, get()[0].LastScanned)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/sources/"+jsonNumber(sources[0].ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, get())

	resp, _ = do(t, http.MethodDelete, ts.URL+"/sources/999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
