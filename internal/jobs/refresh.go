// SPDX-License-Identifier: MIT

package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dvrsn/listpub/internal/epg"
	"github.com/dvrsn/listpub/internal/log"
	"github.com/dvrsn/listpub/internal/metrics"
	"github.com/dvrsn/listpub/internal/playlist"
	"github.com/google/uuid"
)

// Refresh regenerates every enabled artifact and republishes it under its
// fixed name in the data directory. Artifacts are independent: a failed
// build or write is recorded in the returned Status and leaves the previous
// file untouched, while the remaining artifacts still publish.
func Refresh(ctx context.Context, deps Deps) *Status {
	jobID := uuid.NewString()
	ctx = log.ContextWithJobID(ctx, jobID)
	logger := log.WithComponentFromContext(ctx, "jobs")

	start := time.Now()
	st := &Status{
		LastRun:   start.UTC(),
		Artifacts: make(map[string]ArtifactStatus),
	}
	cfg := deps.Config

	logger.Info().Str("event", "refresh.start").Msg("starting refresh")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error().Err(err).Str("event", "refresh.failed").Msg("data directory unavailable")
		metrics.IncRefresh("failure")
		st.Artifacts["data_dir"] = ArtifactStatus{Error: err.Error()}
		return st
	}

	if cfg.Film.Enabled {
		st.Artifacts[cfg.Film.Filename] = runArtifact(ctx, cfg.Film.Filename, func() (int, error) {
			return publishFilm(ctx, deps)
		})
	}
	if cfg.Series.Enabled {
		st.Artifacts[cfg.Series.Filename] = runArtifact(ctx, cfg.Series.Filename, func() (int, error) {
			return publishSeries(ctx, deps)
		})
	}
	if cfg.EPG.Enabled {
		st.Artifacts[cfg.EPG.Filename] = runArtifact(ctx, cfg.EPG.Filename, func() (int, error) {
			return publishEPG(ctx, deps)
		})
	}
	if cfg.Channels.Enabled {
		st.Artifacts[cfg.Channels.Filename] = runArtifact(ctx, cfg.Channels.Filename, func() (int, error) {
			return publishChannels(ctx, deps)
		})
	}

	st.Duration = time.Since(start)
	metrics.ObserveRefreshDuration(st.Duration.Seconds())
	metrics.IncRefresh(refreshOutcome(st))

	logger.Info().
		Str("event", "refresh.done").
		Dur("duration", st.Duration).
		Bool("failed", st.Failed()).
		Msg("refresh finished")
	return st
}

func runArtifact(ctx context.Context, name string, run func() (int, error)) ArtifactStatus {
	logger := log.WithComponentFromContext(ctx, "jobs")

	n, err := run()
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "artifact.failed").
			Str("artifact", name).
			Msg("artifact kept at previous version")
		return ArtifactStatus{Error: err.Error()}
	}
	metrics.RecordArtifactEntries(name, n)
	logger.Info().
		Str("event", "artifact.published").
		Str("artifact", name).
		Int("entries", n).
		Msg("artifact published")
	return ArtifactStatus{Entries: n}
}

func refreshOutcome(st *Status) string {
	failed, ok := 0, 0
	for _, a := range st.Artifacts {
		if a.Error != "" {
			failed++
		} else {
			ok++
		}
	}
	switch {
	case failed == 0:
		return "success"
	case ok == 0:
		return "failure"
	default:
		return "partial"
	}
}

func publishFilm(ctx context.Context, deps Deps) (int, error) {
	name := deps.Config.Film.Filename
	doc, err := buildFilm(ctx, deps)
	if err != nil {
		metrics.IncArtifactBuildError(name)
		return 0, fmt.Errorf("build: %w", err)
	}
	path := filepath.Join(deps.Config.DataDir, name)
	if err := publish(ctx, path, func(w io.Writer) error {
		return playlist.Write(w, doc)
	}); err != nil {
		metrics.IncArtifactWriteError(name)
		return 0, err
	}
	return len(doc.Entries()), nil
}

func publishSeries(ctx context.Context, deps Deps) (int, error) {
	name := deps.Config.Series.Filename
	doc, err := buildSeries(ctx, deps)
	if err != nil {
		metrics.IncArtifactBuildError(name)
		return 0, fmt.Errorf("build: %w", err)
	}
	path := filepath.Join(deps.Config.DataDir, name)
	if err := publish(ctx, path, func(w io.Writer) error {
		return playlist.Write(w, doc)
	}); err != nil {
		metrics.IncArtifactWriteError(name)
		return 0, err
	}
	return len(doc.Entries()), nil
}

func publishChannels(ctx context.Context, deps Deps) (int, error) {
	name := deps.Config.Channels.Filename
	doc, err := buildChannels(ctx, deps)
	if err != nil {
		metrics.IncArtifactBuildError(name)
		return 0, fmt.Errorf("build: %w", err)
	}
	path := filepath.Join(deps.Config.DataDir, name)
	if err := publish(ctx, path, func(w io.Writer) error {
		return playlist.Write(w, doc)
	}); err != nil {
		metrics.IncArtifactWriteError(name)
		return 0, err
	}
	return len(doc.Entries()), nil
}

// publishEPG renders the merged guide once and publishes the gzip twin and
// the plain file from the same bytes, twin first, so a new plain guide never
// sits beside a stale twin.
func publishEPG(ctx context.Context, deps Deps) (int, error) {
	name := deps.Config.EPG.Filename

	tv, err := deps.Guide.Merge(ctx, deps.Config.EPG.Sources)
	if err != nil {
		metrics.IncArtifactBuildError(name)
		return 0, fmt.Errorf("build: %w", err)
	}

	var buf bytes.Buffer
	if err := epg.Write(&buf, tv); err != nil {
		metrics.IncArtifactBuildError(name)
		return 0, fmt.Errorf("render: %w", err)
	}

	gz, err := gzipBytes(buf.Bytes())
	if err != nil {
		metrics.IncArtifactBuildError(name)
		return 0, fmt.Errorf("gzip: %w", err)
	}

	// The gzip twin goes first: the plain guide only replaces its previous
	// version once the twin carrying the same bytes is on disk.
	path := filepath.Join(deps.Config.DataDir, name)
	if err := publishBytes(ctx, path+".gz", gz); err != nil {
		metrics.IncArtifactWriteError(name)
		return 0, err
	}
	if err := publishBytes(ctx, path, buf.Bytes()); err != nil {
		metrics.IncArtifactWriteError(name)
		return 0, err
	}
	return len(tv.Channels), nil
}
