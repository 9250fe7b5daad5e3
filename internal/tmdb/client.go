// SPDX-License-Identifier: MIT

// Package tmdb implements a minimal client for The Movie Database API v3.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dvrsn/listpub/internal/metrics"
	"golang.org/x/time/rate"
)

// Kind selects the movie or TV side of the API.
type Kind string

const (
	KindMovie Kind = "movie"
	KindTV    Kind = "tv"
)

// Curated list endpoints used for section building.
const (
	ListPopular    = "popular"
	ListTopRated   = "top_rated"
	ListNowPlaying = "now_playing" // movie only
)

// Options tunes the client.
type Options struct {
	Language  string     // passed as the language query parameter
	RateLimit rate.Limit // client-side requests per second
	Burst     int
	Retries   int // additional attempts on 429/5xx
	Timeout   time.Duration
}

// Client talks to the TMDB REST API.
type Client struct {
	base    string
	key     string
	lang    string
	retries int
	backoff time.Duration
	limiter *rate.Limiter
	http    *http.Client
}

// New creates a client for the API at base using the given key.
func New(base, key string, opts Options) *Client {
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		// Fractional rate limits truncate to zero; a zero-burst limiter
		// rejects every Wait.
		opts.Burst = max(1, int(opts.RateLimit)*2)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		key:     key,
		lang:    opts.Language,
		retries: opts.Retries,
		backoff: 500 * time.Millisecond,
		limiter: rate.NewLimiter(opts.RateLimit, opts.Burst),
		http:    &http.Client{Timeout: opts.Timeout},
	}
}

// Movie is the subset of movie metadata the playlist generator needs.
type Movie struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	VoteAverage float64 `json:"vote_average"`
	PosterPath  string  `json:"poster_path"`
	GenreIDs    []int   `json:"genre_ids"`
}

// Series is the subset of TV metadata the playlist generator needs.
type Series struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	FirstAirDate string  `json:"first_air_date"`
	VoteAverage  float64 `json:"vote_average"`
	PosterPath   string  `json:"poster_path"`
	GenreIDs     []int   `json:"genre_ids"`
}

// StatusError reports a non-2xx API response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tmdb: unexpected status %d from %s", e.Code, e.URL)
}

// MovieDetails fetches full metadata for a single movie. The details endpoint
// returns expanded genre objects; they are flattened back to IDs.
func (c *Client) MovieDetails(ctx context.Context, id int) (*Movie, error) {
	var raw struct {
		Movie
		Genres []struct {
			ID int `json:"id"`
		} `json:"genres"`
	}
	if err := c.get(ctx, "/movie/"+strconv.Itoa(id), nil, &raw); err != nil {
		return nil, err
	}
	m := raw.Movie
	for _, g := range raw.Genres {
		m.GenreIDs = append(m.GenreIDs, g.ID)
	}
	return &m, nil
}

// SeriesDetails fetches full metadata for a single TV series.
func (c *Client) SeriesDetails(ctx context.Context, id int) (*Series, error) {
	var raw struct {
		Series
		Genres []struct {
			ID int `json:"id"`
		} `json:"genres"`
	}
	if err := c.get(ctx, "/tv/"+strconv.Itoa(id), nil, &raw); err != nil {
		return nil, err
	}
	s := raw.Series
	for _, g := range raw.Genres {
		s.GenreIDs = append(s.GenreIDs, g.ID)
	}
	return &s, nil
}

// Genres returns the id → localized name mapping for the given kind.
func (c *Client) Genres(ctx context.Context, kind Kind) (map[int]string, error) {
	var raw struct {
		Genres []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"genres"`
	}
	if err := c.get(ctx, fmt.Sprintf("/genre/%s/list", kind), nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[int]string, len(raw.Genres))
	for _, g := range raw.Genres {
		out[g.ID] = g.Name
	}
	return out, nil
}

// ListIDs collects the title IDs on a curated list (popular, top_rated, ...)
// across the first pages pages.
func (c *Client) ListIDs(ctx context.Context, kind Kind, list string, pages int) (map[int]struct{}, error) {
	ids := make(map[int]struct{})
	for page := 1; page <= pages; page++ {
		var raw struct {
			Results []struct {
				ID int `json:"id"`
			} `json:"results"`
			TotalPages int `json:"total_pages"`
		}
		q := url.Values{"page": []string{strconv.Itoa(page)}}
		if err := c.get(ctx, fmt.Sprintf("/%s/%s", kind, list), q, &raw); err != nil {
			return nil, fmt.Errorf("%s/%s page %d: %w", kind, list, page, err)
		}
		for _, r := range raw.Results {
			ids[r.ID] = struct{}{}
		}
		if page >= raw.TotalPages {
			break
		}
	}
	return ids, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.key)
	query.Set("language", c.lang)
	u := c.base + path + "?" + query.Encode()

	endpoint := endpointLabel(path)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * c.backoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.doOnce(ctx, u, out)
		if err == nil {
			metrics.IncMetadataRequest(endpoint, "success")
			return nil
		}
		lastErr = err

		// Only throttling and server-side failures are worth retrying.
		if !isRetryable(err) {
			metrics.IncMetadataRequest(endpoint, "failure")
			return err
		}
	}
	metrics.IncMetadataRequest(endpoint, "failure")
	return fmt.Errorf("tmdb: request failed after %d retries: %w", c.retries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, u string, out any) error {
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
		return &StatusError{Code: res.StatusCode, URL: req.URL.Path}
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	// Transport errors (timeouts, resets) are retryable.
	return true
}

// endpointLabel reduces a request path to a low-cardinality metric label.
func endpointLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		if _, err := strconv.Atoi(parts[1]); err == nil {
			return parts[0] + "/details"
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
