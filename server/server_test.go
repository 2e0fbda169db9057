package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type mockRunLister struct {
	runs  []RunSummary
	err   error
	limit int
}

func (m *mockRunLister) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	m.limit = limit
	return m.runs, m.err
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func writeCard(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), pngHeader, 0644))
}

func TestHealth(t *testing.T) {
	s := New(t.TempDir())
	rec := serve(s, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	s := New(t.TempDir())
	rec := serve(s, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServeCard(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "20261014_1.png")
	s := New(dir)

	rec := serve(s, http.MethodGet, "/cards/20261014_1.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngHeader, rec.Body.Bytes())
}

func TestServeCardHead(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "20261014_2.png")
	s := New(dir)

	rec := serve(s, http.MethodHead, "/cards/20261014_2.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestServeCardEscapedName(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "my card.png")
	s := New(dir)

	rec := serve(s, http.MethodGet, "/cards/my%20card.png")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeCardNotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	writeCard(t, filepath.Join(dir, "sub"), "hidden.png")
	s := New(dir)

	for _, target := range []string{
		"/cards/missing.png",
		"/cards/",
		"/cards/sub",
		"/cards/sub/hidden.png",
		"/cards/..%2Fsecret",
	} {
		rec := serve(s, http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestRunsEndpoint(t *testing.T) {
	started := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	lister := &mockRunLister{runs: []RunSummary{
		{ID: "run-1", Query: "증시", Status: "success", Cards: 2, Posts: 1, StartedAt: started},
	}}
	s := New(t.TempDir(), WithRunLister(lister))

	rec := serve(s, http.MethodGet, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, lister.limit)

	var got []RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].ID)
	assert.Equal(t, 2, got[0].Cards)
	assert.Nil(t, got[0].FinishedAt)
	assert.True(t, started.Equal(got[0].StartedAt))
}

func TestRunsEndpointDefaultsAndErrors(t *testing.T) {
	lister := &mockRunLister{}
	s := New(t.TempDir(), WithRunLister(lister))

	rec := serve(s, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, lister.limit)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(s, http.MethodGet, "/api/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	lister.err = errors.New("db closed")
	rec = serve(s, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunsEndpointDisabled(t *testing.T) {
	s := New(t.TempDir())
	rec := serve(s, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(t.TempDir())
	err = s.Run(context.Background(), ln.Addr().String())
	assert.Error(t, err)
}
