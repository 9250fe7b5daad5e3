// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvrsn/listpub/internal/log"
	"github.com/dvrsn/listpub/internal/playlist"
	"github.com/dvrsn/listpub/internal/tmdb"
	"golang.org/x/sync/errgroup"
)

// Cached metadata stays valid for a week; title details rarely change.
const metadataTTL = 7 * 24 * time.Hour

// buildFilm assembles the movie playlist: curated sections first, then one
// section per genre. Iteration is always over ascending catalog IDs so two
// runs over the same upstream data render identical bytes.
func buildFilm(ctx context.Context, deps Deps) (*playlist.Document, error) {
	logger := log.WithComponentFromContext(ctx, "jobs")
	cfg := deps.Config

	ids, err := deps.Catalog.MovieIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog movies: %w", err)
	}
	ids = dedupeSorted(ids)

	genres, err := deps.Metadata.Genres(ctx, tmdb.KindMovie)
	if err != nil {
		return nil, fmt.Errorf("movie genres: %w", err)
	}

	movies := fetchMovies(ctx, deps, ids)
	if len(movies) == 0 && len(ids) > 0 {
		return nil, errors.New("no movie metadata resolved")
	}

	doc := &playlist.Document{Title: "Film"}

	curated := []struct {
		name string
		list string
	}{
		{"Al Cinema", tmdb.ListNowPlaying},
		{"Popolari", tmdb.ListPopular},
		{"Più Votati", tmdb.ListTopRated},
	}
	for _, c := range curated {
		listIDs, err := deps.Metadata.ListIDs(ctx, tmdb.KindMovie, c.list, cfg.Film.CategoryPages)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "film.section_skipped").
				Str("section", c.name).
				Msg("curated list unavailable")
			continue
		}
		var entries []playlist.Entry
		for _, id := range ids {
			if len(entries) >= cfg.Film.SectionLimit {
				break
			}
			if _, ok := listIDs[id]; !ok {
				continue
			}
			m, ok := movies[id]
			if !ok {
				continue
			}
			entries = append(entries, movieEntry(deps, m, c.name))
		}
		if len(entries) > 0 {
			doc.Sections = append(doc.Sections, playlist.Section{Name: c.name, Entries: entries})
		}
	}

	byGenre := make(map[string][]*tmdb.Movie)
	for _, id := range ids {
		m, ok := movies[id]
		if !ok {
			continue
		}
		for _, gid := range m.GenreIDs {
			name := genres[gid]
			if name == "" {
				continue
			}
			byGenre[name] = append(byGenre[name], m)
		}
	}
	for _, name := range sortedKeys(byGenre) {
		ms := byGenre[name]
		sort.SliceStable(ms, func(i, j int) bool {
			if ms[i].ReleaseDate != ms[j].ReleaseDate {
				return ms[i].ReleaseDate > ms[j].ReleaseDate
			}
			return ms[i].ID < ms[j].ID
		})
		entries := make([]playlist.Entry, 0, len(ms))
		for _, m := range ms {
			entries = append(entries, movieEntry(deps, m, name))
		}
		doc.Sections = append(doc.Sections, playlist.Section{Name: name, Entries: entries})
	}

	return doc, nil
}

func movieEntry(deps Deps, m *tmdb.Movie, section string) playlist.Entry {
	name := m.Title
	if y := year(m.ReleaseDate); y != "" {
		name = fmt.Sprintf("%s (%s)", name, y)
	}
	var logo string
	if m.PosterPath != "" {
		logo = deps.Config.TMDB.ImageBase + m.PosterPath
	}
	return playlist.Entry{
		Name:    name,
		TvgLogo: logo,
		Group:   "Film - " + section,
		Type:    "movie",
		URL:     deps.Catalog.MovieURL(m.ID),
	}
}

// fetchMovies resolves details for every catalog id, cache first, with
// bounded concurrency. Titles that fail to resolve are skipped; the playlist
// is built from whatever metadata is available.
func fetchMovies(ctx context.Context, deps Deps, ids []int) map[int]*tmdb.Movie {
	logger := log.WithComponentFromContext(ctx, "jobs")

	var mu sync.Mutex
	out := make(map[int]*tmdb.Movie, len(ids))

	limit := deps.Config.TMDB.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			key := fmt.Sprintf("movie:%s:%d", deps.Config.TMDB.Language, id)

			var cached tmdb.Movie
			if deps.Cache != nil {
				if ok, err := deps.Cache.Get(key, &cached); err == nil && ok {
					mu.Lock()
					out[id] = &cached
					mu.Unlock()
					return nil
				}
			}

			m, err := deps.Metadata.MovieDetails(gctx, id)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event", "film.details_failed").
					Int("tmdb_id", id).
					Msg("skipping movie")
				return nil
			}
			if deps.Cache != nil {
				if err := deps.Cache.Put(key, m, metadataTTL); err != nil {
					logger.Debug().Err(err).Str("key", key).Msg("cache put failed")
				}
			}
			mu.Lock()
			out[id] = m
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func year(date string) string {
	if len(date) < 4 {
		return ""
	}
	return date[:4]
}

func dedupeSorted(ids []int) []int {
	sort.Ints(ids)
	out := ids[:0]
	for _, id := range ids {
		if len(out) > 0 && out[len(out)-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
