// SPDX-License-Identifier: MIT

// Package jobs builds and publishes the playlist and guide artifacts.
package jobs

import (
	"context"
	"net/http"
	"time"

	"github.com/dvrsn/listpub/internal/config"
	"github.com/dvrsn/listpub/internal/epg"
	"github.com/dvrsn/listpub/internal/tmdb"
	"github.com/dvrsn/listpub/internal/vixsrc"
)

// Catalog lists the titles available for playback and builds their URLs.
type Catalog interface {
	MovieIDs(ctx context.Context) ([]int, error)
	Episodes(ctx context.Context) ([]vixsrc.Episode, error)
	MovieURL(id int) string
	EpisodeURL(id, season, episode int) string
}

// Metadata resolves title details, genre names and curated lists.
type Metadata interface {
	MovieDetails(ctx context.Context, id int) (*tmdb.Movie, error)
	SeriesDetails(ctx context.Context, id int) (*tmdb.Series, error)
	Genres(ctx context.Context, kind tmdb.Kind) (map[int]string, error)
	ListIDs(ctx context.Context, kind tmdb.Kind, list string, pages int) (map[int]struct{}, error)
}

// Guide merges upstream XMLTV guides into one document.
type Guide interface {
	Merge(ctx context.Context, sources []string) (*epg.TV, error)
}

// Cache persists fetched metadata between refresh runs.
type Cache interface {
	Get(key string, v any) (bool, error)
	Put(key string, v any, ttl time.Duration) error
}

// Deps carries everything a refresh run needs. HTTP is used for channel
// source downloads; a nil value falls back to a bounded-timeout default.
type Deps struct {
	Config   config.Config
	Catalog  Catalog
	Metadata Metadata
	Guide    Guide
	Cache    Cache
	HTTP     *http.Client
}

// ArtifactStatus reports the outcome of one artifact in the last run.
type ArtifactStatus struct {
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// Status is the result of a refresh run.
type Status struct {
	LastRun   time.Time                 `json:"last_run"`
	Duration  time.Duration             `json:"duration"`
	Artifacts map[string]ArtifactStatus `json:"artifacts"`
}

// Failed reports whether any attempted artifact ended in error.
func (s *Status) Failed() bool {
	for _, a := range s.Artifacts {
		if a.Error != "" {
			return true
		}
	}
	return false
}
