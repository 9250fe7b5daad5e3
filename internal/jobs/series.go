// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dvrsn/listpub/internal/log"
	"github.com/dvrsn/listpub/internal/playlist"
	"github.com/dvrsn/listpub/internal/tmdb"
	"github.com/dvrsn/listpub/internal/vixsrc"
	"golang.org/x/sync/errgroup"
)

// buildSeries assembles the TV playlist. Episodes are grouped per series and
// every entry of a series carries the same section placement; within a
// series, episodes are ordered by season then episode.
func buildSeries(ctx context.Context, deps Deps) (*playlist.Document, error) {
	logger := log.WithComponentFromContext(ctx, "jobs")
	cfg := deps.Config

	eps, err := deps.Catalog.Episodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog episodes: %w", err)
	}
	bySeries := groupEpisodes(eps)

	ids := make([]int, 0, len(bySeries))
	for id := range bySeries {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	genres, err := deps.Metadata.Genres(ctx, tmdb.KindTV)
	if err != nil {
		return nil, fmt.Errorf("tv genres: %w", err)
	}

	shows := fetchSeries(ctx, deps, ids)
	if len(shows) == 0 && len(ids) > 0 {
		return nil, errors.New("no series metadata resolved")
	}

	doc := &playlist.Document{Title: "Serie TV"}

	curated := []struct {
		name string
		list string
	}{
		{"Popolari", tmdb.ListPopular},
		{"Più Votate", tmdb.ListTopRated},
	}
	for _, c := range curated {
		listIDs, err := deps.Metadata.ListIDs(ctx, tmdb.KindTV, c.list, cfg.Series.CategoryPages)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "series.section_skipped").
				Str("section", c.name).
				Msg("curated list unavailable")
			continue
		}
		var entries []playlist.Entry
		picked := 0
		for _, id := range ids {
			if picked >= cfg.Series.SectionLimit {
				break
			}
			if _, ok := listIDs[id]; !ok {
				continue
			}
			s, ok := shows[id]
			if !ok {
				continue
			}
			entries = append(entries, seriesEntries(deps, s, bySeries[id], c.name)...)
			picked++
		}
		if len(entries) > 0 {
			doc.Sections = append(doc.Sections, playlist.Section{Name: c.name, Entries: entries})
		}
	}

	byGenre := make(map[string][]*tmdb.Series)
	for _, id := range ids {
		s, ok := shows[id]
		if !ok {
			continue
		}
		for _, gid := range s.GenreIDs {
			name := genres[gid]
			if name == "" {
				continue
			}
			byGenre[name] = append(byGenre[name], s)
		}
	}
	for _, name := range sortedKeys(byGenre) {
		ss := byGenre[name]
		sort.SliceStable(ss, func(i, j int) bool {
			if ss[i].FirstAirDate != ss[j].FirstAirDate {
				return ss[i].FirstAirDate > ss[j].FirstAirDate
			}
			return ss[i].ID < ss[j].ID
		})
		var entries []playlist.Entry
		for _, s := range ss {
			entries = append(entries, seriesEntries(deps, s, bySeries[s.ID], name)...)
		}
		doc.Sections = append(doc.Sections, playlist.Section{Name: name, Entries: entries})
	}

	return doc, nil
}

// groupEpisodes buckets catalog episodes per series, drops duplicates and
// sorts each bucket by season then episode.
func groupEpisodes(eps []vixsrc.Episode) map[int][]vixsrc.Episode {
	type key struct{ s, e int }
	seen := make(map[int]map[key]struct{})
	out := make(map[int][]vixsrc.Episode)
	for _, ep := range eps {
		if seen[ep.TmdbID] == nil {
			seen[ep.TmdbID] = make(map[key]struct{})
		}
		k := key{ep.Season, ep.Episode}
		if _, dup := seen[ep.TmdbID][k]; dup {
			continue
		}
		seen[ep.TmdbID][k] = struct{}{}
		out[ep.TmdbID] = append(out[ep.TmdbID], ep)
	}
	for id := range out {
		sort.Slice(out[id], func(i, j int) bool {
			a, b := out[id][i], out[id][j]
			if a.Season != b.Season {
				return a.Season < b.Season
			}
			return a.Episode < b.Episode
		})
	}
	return out
}

func seriesEntries(deps Deps, s *tmdb.Series, eps []vixsrc.Episode, section string) []playlist.Entry {
	var logo string
	if s.PosterPath != "" {
		logo = deps.Config.TMDB.ImageBase + s.PosterPath
	}
	entries := make([]playlist.Entry, 0, len(eps))
	for _, ep := range eps {
		entries = append(entries, playlist.Entry{
			Name:    fmt.Sprintf("%s S%02dE%02d", s.Name, ep.Season, ep.Episode),
			TvgLogo: logo,
			Group:   "Serie - " + section,
			Type:    "series",
			URL:     deps.Catalog.EpisodeURL(s.ID, ep.Season, ep.Episode),
		})
	}
	return entries
}

func fetchSeries(ctx context.Context, deps Deps, ids []int) map[int]*tmdb.Series {
	logger := log.WithComponentFromContext(ctx, "jobs")

	var mu sync.Mutex
	out := make(map[int]*tmdb.Series, len(ids))

	limit := deps.Config.TMDB.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			key := fmt.Sprintf("tv:%s:%d", deps.Config.TMDB.Language, id)

			var cached tmdb.Series
			if deps.Cache != nil {
				if ok, err := deps.Cache.Get(key, &cached); err == nil && ok {
					mu.Lock()
					out[id] = &cached
					mu.Unlock()
					return nil
				}
			}

			s, err := deps.Metadata.SeriesDetails(gctx, id)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event", "series.details_failed").
					Int("tmdb_id", id).
					Msg("skipping series")
				return nil
			}
			if deps.Cache != nil {
				if err := deps.Cache.Put(key, s, metadataTTL); err != nil {
					logger.Debug().Err(err).Str("key", key).Msg("cache put failed")
				}
			}
			mu.Lock()
			out[id] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
