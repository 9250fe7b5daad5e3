// SPDX-License-Identifier: MIT

package epg

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvrsn/listpub/internal/log"
	"github.com/dvrsn/listpub/internal/metrics"
	"golang.org/x/text/unicode/norm"
)

// Merger downloads and combines upstream XMLTV guides into one document.
type Merger struct {
	http *http.Client
}

// NewMerger returns a merger with a bounded-timeout HTTP client.
func NewMerger() *Merger {
	return &Merger{
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// Merge fetches every source, concatenates channels and programmes in source
// order and normalizes channel identifiers so playlist tvg-ids match across
// guides. A source that fails to download or parse is skipped; Merge fails
// only when no source contributed data.
func (m *Merger) Merge(ctx context.Context, sources []string) (*TV, error) {
	logger := log.WithComponentFromContext(ctx, "epg")

	out := &TV{Generator: "listpub"}
	seen := make(map[string]struct{})
	usable := 0

	for _, src := range sources {
		doc, err := m.fetch(ctx, src)
		if err != nil {
			metrics.IncEPGSource("failure")
			logger.Warn().
				Err(err).
				Str("event", "epg.source_failed").
				Str("source", src).
				Msg("skipping guide source")
			continue
		}
		metrics.IncEPGSource("success")
		usable++

		for _, ch := range doc.Channels {
			ch.ID = NormalizeChannelID(ch.ID)
			if ch.ID == "" {
				continue
			}
			if _, dup := seen[ch.ID]; dup {
				continue
			}
			seen[ch.ID] = struct{}{}
			out.Channels = append(out.Channels, ch)
		}
		for _, p := range doc.Programs {
			p.Channel = NormalizeChannelID(p.Channel)
			if p.Channel == "" {
				continue
			}
			out.Programs = append(out.Programs, p)
		}

		logger.Info().
			Str("event", "epg.source_merged").
			Str("source", src).
			Int("channels", len(doc.Channels)).
			Int("programmes", len(doc.Programs)).
			Msg("guide source merged")
	}

	if usable == 0 && len(sources) > 0 {
		return nil, fmt.Errorf("no usable guide source out of %d", len(sources))
	}
	return out, nil
}

func (m *Merger) fetch(ctx context.Context, src string) (*TV, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	res, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxXMLSize))
	if err != nil {
		return nil, err
	}

	// Sources publish either plain XML or gzip regardless of extension;
	// sniff the magic bytes instead of trusting the URL.
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() {
			_ = gz.Close()
		}()
		return Decode(gz)
	}
	return Decode(bytes.NewReader(body))
}

// NormalizeChannelID canonicalizes a channel identifier: NFC-normalized,
// lowercased, spaces removed. Playlist generation uses the same function so
// tvg-id references resolve against the merged guide.
func NormalizeChannelID(id string) string {
	id = norm.NFC.String(id)
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.ReplaceAll(id, " ", "")
}
