// SPDX-License-Identifier: MIT

// Package config loads listpub configuration with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can use Go duration strings ("15m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete listpub configuration.
type Config struct {
	DataDir         string   `yaml:"dataDir"`
	CachePath       string   `yaml:"cachePath"`
	ListenAddr      string   `yaml:"listenAddr"`
	PublicURL       string   `yaml:"publicURL"`
	APIToken        string   `yaml:"apiToken"`
	LogLevel        string   `yaml:"logLevel"`
	RefreshInterval Duration `yaml:"refreshInterval"`

	TMDB     TMDB     `yaml:"tmdb"`
	Catalog  Catalog  `yaml:"catalog"`
	Film     List     `yaml:"film"`
	Series   List     `yaml:"series"`
	Channels Channels `yaml:"channels"`
	EPG      EPG      `yaml:"epg"`
}

// TMDB configures the metadata API client.
type TMDB struct {
	BaseURL     string  `yaml:"baseURL"`
	ImageBase   string  `yaml:"imageBase"`
	APIKey      string  `yaml:"apiKey"`
	Language    string  `yaml:"language"`
	RateLimit   float64 `yaml:"rateLimit"` // requests per second
	Burst       int     `yaml:"burst"`
	Retries     int     `yaml:"retries"`
	Concurrency int     `yaml:"concurrency"` // parallel detail fetches
}

// Catalog configures the streaming-catalog client that decides which titles
// are playable.
type Catalog struct {
	BaseURL  string `yaml:"baseURL"`
	Language string `yaml:"language"`
}

// List configures a generated playlist artifact (film or series).
type List struct {
	Enabled       bool   `yaml:"enabled"`
	Filename      string `yaml:"filename"`
	SectionLimit  int    `yaml:"sectionLimit"`  // max entries per curated section
	CategoryPages int    `yaml:"categoryPages"` // TMDB list pages fetched per curated section
}

// Channels configures the merged channel playlist artifact.
type Channels struct {
	Enabled  bool            `yaml:"enabled"`
	Filename string          `yaml:"filename"`
	Sources  []ChannelSource `yaml:"sources"`
}

// ChannelSource is one upstream playlist to merge. URL may be an http(s) URL
// or a local file path. Sources with Sort set are merged together and ordered
// by channel name ahead of the remaining sources.
type ChannelSource struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	Sort         bool   `yaml:"sort"`
	ExcludeGroup string `yaml:"excludeGroup"`
}

// EPG configures the merged XMLTV artifact.
type EPG struct {
	Enabled  bool     `yaml:"enabled"`
	Filename string   `yaml:"filename"`
	Sources  []string `yaml:"sources"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DataDir:         "/data",
		CachePath:       "", // derived from DataDir when empty
		ListenAddr:      ":8080",
		LogLevel:        "info",
		RefreshInterval: Duration(12 * time.Hour),
		TMDB: TMDB{
			BaseURL:     "https://api.themoviedb.org/3",
			ImageBase:   "https://image.tmdb.org/t/p/w500",
			Language:    "it-IT",
			RateLimit:   20,
			Burst:       40,
			Retries:     3,
			Concurrency: 8,
		},
		Catalog: Catalog{
			BaseURL:  "https://vixsrc.to",
			Language: "it",
		},
		Film: List{
			Enabled:       true,
			Filename:      "film.m3u",
			SectionLimit:  50,
			CategoryPages: 3,
		},
		Series: List{
			Enabled:       true,
			Filename:      "serie.m3u",
			SectionLimit:  30,
			CategoryPages: 3,
		},
		Channels: Channels{
			Enabled:  true,
			Filename: "lista.m3u",
		},
		EPG: EPG{
			Enabled:  true,
			Filename: "epg.xml",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path, then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(cfg.DataDir, ".cache")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = ParseString("LISTPUB_DATA", cfg.DataDir)
	cfg.CachePath = ParseString("LISTPUB_CACHE", cfg.CachePath)
	cfg.ListenAddr = ParseString("LISTPUB_LISTEN", cfg.ListenAddr)
	cfg.PublicURL = ParseString("LISTPUB_PUBLIC_URL", cfg.PublicURL)
	cfg.APIToken = ParseString("LISTPUB_API_TOKEN", cfg.APIToken)
	cfg.LogLevel = ParseString("LISTPUB_LOG_LEVEL", cfg.LogLevel)
	cfg.RefreshInterval = Duration(ParseDuration("LISTPUB_REFRESH_INTERVAL", time.Duration(cfg.RefreshInterval)))

	cfg.TMDB.APIKey = ParseString("LISTPUB_TMDB_API_KEY", cfg.TMDB.APIKey)
	cfg.TMDB.Language = ParseString("LISTPUB_TMDB_LANGUAGE", cfg.TMDB.Language)
	cfg.TMDB.Concurrency = ParseInt("LISTPUB_TMDB_CONCURRENCY", cfg.TMDB.Concurrency)
	cfg.Catalog.BaseURL = ParseString("LISTPUB_CATALOG_URL", cfg.Catalog.BaseURL)
	cfg.Catalog.Language = ParseString("LISTPUB_CATALOG_LANGUAGE", cfg.Catalog.Language)

	cfg.Film.Enabled = ParseBool("LISTPUB_FILM_ENABLED", cfg.Film.Enabled)
	cfg.Series.Enabled = ParseBool("LISTPUB_SERIES_ENABLED", cfg.Series.Enabled)
	cfg.Channels.Enabled = ParseBool("LISTPUB_CHANNELS_ENABLED", cfg.Channels.Enabled)
	cfg.EPG.Enabled = ParseBool("LISTPUB_EPG_ENABLED", cfg.EPG.Enabled)
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if c.PublicURL != "" {
		if err := validateURL("publicURL", c.PublicURL); err != nil {
			return err
		}
	}
	if (c.Film.Enabled || c.Series.Enabled) && c.TMDB.APIKey == "" {
		return fmt.Errorf("tmdb.apiKey is required when film or series lists are enabled")
	}
	if err := validateURL("tmdb.baseURL", c.TMDB.BaseURL); err != nil {
		return err
	}
	if err := validateURL("catalog.baseURL", c.Catalog.BaseURL); err != nil {
		return err
	}
	for i, src := range c.Channels.Sources {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("channels.sources[%d]: url must not be empty", i)
		}
		if strings.HasPrefix(src.URL, "http") {
			if err := validateURL(fmt.Sprintf("channels.sources[%d].url", i), src.URL); err != nil {
				return err
			}
		}
	}
	for i, src := range c.EPG.Sources {
		if err := validateURL(fmt.Sprintf("epg.sources[%d]", i), src); err != nil {
			return err
		}
	}
	for _, name := range []string{c.Film.Filename, c.Series.Filename, c.Channels.Filename, c.EPG.Filename} {
		if name != filepath.Base(name) || name == "" {
			return fmt.Errorf("artifact filename %q must be a bare file name", name)
		}
	}
	if c.TMDB.Concurrency < 1 {
		c.TMDB.Concurrency = 1
	}
	if c.TMDB.RateLimit <= 0 {
		c.TMDB.RateLimit = 20
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported URL scheme %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: URL %q is missing host", field, raw)
	}
	return nil
}
