// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvrsn/listpub/internal/config"
	"github.com/dvrsn/listpub/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.APIToken = "secret"

	s := New(cfg, jobs.Deps{Config: cfg}, "test")
	s.refreshFn = func(ctx context.Context, deps jobs.Deps) *jobs.Status {
		return &jobs.Status{
			LastRun:   time.Now().UTC(),
			Artifacts: map[string]jobs.ArtifactStatus{"film.m3u": {Entries: 3}},
		}
	}
	return s
}

func TestHealthz(t *testing.T) {
	h := testServer(t).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestStatusPendingBeforeFirstRun(t *testing.T) {
	h := testServer(t).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pending")
}

func TestRefreshRequiresToken(t *testing.T) {
	h := testServer(t).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshFailsClosedWithoutConfiguredToken(t *testing.T) {
	s := testServer(t)
	cfg := s.cfg
	cfg.APIToken = ""
	s.UpdateConfig(cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.Header.Set("Authorization", "Bearer anything")
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRunsAndReportsStatus(t *testing.T) {
	s := testServer(t)
	h := s.Routes()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var st jobs.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3, st.Artifacts["film.m3u"].Entries)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "film.m3u")
}

func TestRefreshConflictWhileRunning(t *testing.T) {
	s := testServer(t)
	release := make(chan struct{})
	started := make(chan struct{})
	s.refreshFn = func(ctx context.Context, deps jobs.Deps) *jobs.Status {
		close(started)
		<-release
		return &jobs.Status{Artifacts: map[string]jobs.ArtifactStatus{}}
	}
	h := s.Routes()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
		req.Header.Set("Authorization", "Bearer secret")
		h.ServeHTTP(rec, req)
	}()

	<-started
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	close(release)
	<-done
}

func TestFileServerServesArtifacts(t *testing.T) {
	s := testServer(t)
	path := filepath.Join(s.cfg.DataDir, "lista.m3u")
	require.NoError(t, os.WriteFile(path, []byte("#EXTM3U\n"), 0o644))
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lista.m3u", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/x-mpegurl; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "#EXTM3U\n", rec.Body.String())

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/lista.m3u", nil)
	req.Header.Set("If-None-Match", etag)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestFileServerRejectsTraversal(t *testing.T) {
	h := testServer(t).Routes()

	for _, path := range []string{
		"/../etc/passwd",
		"/%2e%2e/etc/passwd",
		"/%252e%252e/secret",
		"/foo%00.m3u",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, "path %s", path)
	}
}

func TestFileServerHidesCacheDir(t *testing.T) {
	s := testServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.cfg.DataDir, ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.DataDir, ".cache", "MANIFEST"), []byte("x"), 0o644))
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.cache/MANIFEST", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFileServerUnknownFile(t *testing.T) {
	h := testServer(t).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.m3u", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileServerRejectsDirectoryListing(t *testing.T) {
	h := testServer(t).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
