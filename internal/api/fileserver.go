// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dvrsn/listpub/internal/log"
	"github.com/dvrsn/listpub/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

// secureFileServer serves published artifacts from the data directory with
// checks against path traversal, symlink escapes and directory listing.
func (s *Server) secureFileServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "api")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			deny(w, logger, r.URL.Path, "method_not_allowed", http.StatusMethodNotAllowed)
			return
		}

		path := r.URL.Path
		if isPathTraversal(path) {
			deny(w, logger, path, "path_escape", http.StatusForbidden)
			return
		}
		if path == "" || path == "/" || strings.HasSuffix(path, "/") {
			deny(w, logger, path, "directory_listing", http.StatusForbidden)
			return
		}

		s.mu.RLock()
		dataDir := s.cfg.DataDir
		s.mu.RUnlock()

		absDataDir, err := filepath.Abs(dataDir)
		if err != nil {
			deny(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		fullPath := filepath.Join(absDataDir, path)

		realPath, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				deny(w, logger, path, "not_found", http.StatusNotFound)
				return
			}
			deny(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		realDataDir, err := filepath.EvalSymlinks(absDataDir)
		if err != nil {
			deny(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}

		// filepath.Rel catches symlink escapes that string prefix checks miss.
		relPath, err := filepath.Rel(realDataDir, realPath)
		if err != nil || strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
			logger.Warn().
				Str("event", "file_req.denied").
				Str("path", path).
				Str("resolved_path", realPath).
				Str("reason", "path_escape").
				Msg("path escapes data directory")
			metrics.IncFileRequest("4xx")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		// Never serve the metadata cache.
		if relPath == ".cache" || strings.HasPrefix(relPath, ".cache"+string(filepath.Separator)) {
			deny(w, logger, path, "path_escape", http.StatusForbidden)
			return
		}

		// #nosec G304 -- realPath is validated to reside inside the data directory
		f, err := os.Open(realPath)
		if err != nil {
			deny(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		defer func() {
			_ = f.Close()
		}()

		info, err := f.Stat()
		if err != nil {
			deny(w, logger, path, "internal_error", http.StatusInternalServerError)
			return
		}
		if info.IsDir() {
			deny(w, logger, path, "directory_listing", http.StatusForbidden)
			return
		}

		// Weak ETag from modtime and size; artifacts are republished by
		// whole-file rename so this changes exactly when the content may.
		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=300")
		if r.Header.Get("If-None-Match") == etag {
			metrics.IncFileRequest("3xx")
			w.WriteHeader(http.StatusNotModified)
			return
		}

		switch {
		case strings.HasSuffix(strings.ToLower(info.Name()), ".xml"):
			w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		case strings.HasSuffix(strings.ToLower(info.Name()), ".m3u"),
			strings.HasSuffix(strings.ToLower(info.Name()), ".m3u8"):
			w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
		case strings.HasSuffix(strings.ToLower(info.Name()), ".gz"):
			w.Header().Set("Content-Type", "application/gzip")
		}

		logger.Info().
			Str("event", "file_req.allowed").
			Str("path", path).
			Msg("serving artifact")
		metrics.IncFileRequest("2xx")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

func deny(w http.ResponseWriter, logger zerolog.Logger, path, reason string, code int) {
	logger.Warn().
		Str("event", "file_req.denied").
		Str("path", path).
		Str("reason", reason).
		Msg("artifact request denied")
	metrics.IncFileRequest(statusClass(code))
	http.Error(w, http.StatusText(code), code)
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// isPathTraversal decodes the path multiple times to catch double encodings,
// applies Unicode normalization and searches for dangerous sequences
// including NUL bytes.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		} else if d2, err2 := url.QueryUnescape(decoded); err2 == nil {
			decoded = d2
		}
		if decoded == prev {
			break
		}
	}

	lower := strings.ToLower(decoded)
	for _, pat := range []string{"..", "%00", "%c0%ae", "%e0%80%ae"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	if strings.IndexByte(decoded, 0x00) >= 0 {
		return true
	}
	normalized := strings.ToLower(norm.NFC.String(decoded))
	return strings.Contains(normalized, "..")
}
