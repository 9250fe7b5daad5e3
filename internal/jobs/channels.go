// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dvrsn/listpub/internal/config"
	"github.com/dvrsn/listpub/internal/epg"
	"github.com/dvrsn/listpub/internal/log"
	"github.com/dvrsn/listpub/internal/playlist"
)

const maxPlaylistSize = 32 << 20 // upstream playlist download cap

// buildChannels merges the configured upstream channel playlists. Sources
// marked for sorting are combined and ordered by channel name; the remaining
// sources keep their original entry order and are appended afterwards in
// config order. A failing source is skipped so one dead upstream does not
// take the whole list down.
func buildChannels(ctx context.Context, deps Deps) (*playlist.Document, error) {
	logger := log.WithComponentFromContext(ctx, "jobs")
	cfg := deps.Config

	client := deps.HTTP
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	var sorted, rest []playlist.Entry
	usable := 0
	for _, src := range cfg.Channels.Sources {
		parsed, err := fetchPlaylist(ctx, client, src.URL)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "channels.source_failed").
				Str("source", src.Name).
				Msg("skipping channel source")
			continue
		}
		usable++

		entries := filterEntries(parsed, src)
		if src.Sort {
			sorted = append(sorted, entries...)
		} else {
			rest = append(rest, entries...)
		}

		logger.Info().
			Str("event", "channels.source_merged").
			Str("source", src.Name).
			Int("channels", len(entries)).
			Msg("channel source merged")
	}
	if usable == 0 && len(cfg.Channels.Sources) > 0 {
		return nil, fmt.Errorf("no usable channel source out of %d", len(cfg.Channels.Sources))
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a := strings.ToLower(sorted[i].Name)
		b := strings.ToLower(sorted[j].Name)
		if a != b {
			return a < b
		}
		return sorted[i].URL < sorted[j].URL
	})

	doc := &playlist.Document{TvgURL: guideURL(cfg)}
	entries := append(sorted, rest...)
	if len(entries) > 0 {
		doc.Sections = []playlist.Section{{Entries: entries}}
	}
	return doc, nil
}

// filterEntries drops excluded groups and canonicalizes tvg-ids so they
// resolve against the merged guide.
func filterEntries(entries []playlist.Entry, src config.ChannelSource) []playlist.Entry {
	out := entries[:0]
	for _, e := range entries {
		if src.ExcludeGroup != "" &&
			strings.Contains(strings.ToLower(e.Group), strings.ToLower(src.ExcludeGroup)) {
			continue
		}
		e.TvgID = epg.NormalizeChannelID(e.TvgID)
		out = append(out, e)
	}
	return out
}

// guideURL is the published address of the merged XMLTV guide, set as the
// url-tvg header so players pick it up automatically.
func guideURL(cfg config.Config) string {
	if !cfg.EPG.Enabled || cfg.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.PublicURL, "/") + "/" + cfg.EPG.Filename
}

// fetchPlaylist loads one upstream playlist. Sources are either http(s) URLs
// or local file paths.
func fetchPlaylist(ctx context.Context, client *http.Client, src string) ([]playlist.Entry, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		f, err := os.Open(filepath.Clean(src))
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = f.Close()
		}()
		return playlist.Parse(io.LimitReader(f, maxPlaylistSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return playlist.Parse(io.LimitReader(res.Body, maxPlaylistSize))
}
