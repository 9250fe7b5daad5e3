// SPDX-License-Identifier: MIT

// Package vixsrc lists the titles available on the streaming catalog and
// builds playback URLs for them.
package vixsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Episode identifies one available episode by its TMDB series id.
type Episode struct {
	TmdbID  int `json:"tmdb_id"`
	Season  int `json:"s"`
	Episode int `json:"e"`
}

// Client talks to the catalog's list API.
type Client struct {
	base string
	lang string
	http *http.Client
}

// New creates a catalog client. lang selects the audio language the catalog
// filters its listings by.
func New(base, lang string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		lang: lang,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// MovieIDs returns the TMDB ids of every movie in the catalog.
func (c *Client) MovieIDs(ctx context.Context) ([]int, error) {
	var raw []struct {
		TmdbID int `json:"tmdb_id"`
	}
	if err := c.get(ctx, "/api/list/movie/", &raw); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, r.TmdbID)
	}
	return ids, nil
}

// Episodes returns every episode in the catalog.
func (c *Client) Episodes(ctx context.Context) ([]Episode, error) {
	var eps []Episode
	if err := c.get(ctx, "/api/list/episode/", &eps); err != nil {
		return nil, err
	}
	return eps, nil
}

// MovieURL builds the playback URL for a movie.
func (c *Client) MovieURL(id int) string {
	return fmt.Sprintf("%s/movie/%d/?lang=%s", c.base, id, c.lang)
}

// EpisodeURL builds the playback URL for one episode of a series.
func (c *Client) EpisodeURL(id, season, episode int) string {
	return fmt.Sprintf("%s/tv/%d/%d/%d?lang=%s", c.base, id, season, episode, c.lang)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	u := fmt.Sprintf("%s%s?lang=%s", c.base, path, c.lang)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog: unexpected status %d from %s", res.StatusCode, path)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
