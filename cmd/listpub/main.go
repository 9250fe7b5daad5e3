// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dvrsn/listpub/internal/api"
	"github.com/dvrsn/listpub/internal/cache"
	"github.com/dvrsn/listpub/internal/config"
	"github.com/dvrsn/listpub/internal/epg"
	"github.com/dvrsn/listpub/internal/jobs"
	lplog "github.com/dvrsn/listpub/internal/log"
	"github.com/dvrsn/listpub/internal/tmdb"
	"github.com/dvrsn/listpub/internal/vixsrc"
	"golang.org/x/time/rate"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	once := flag.Bool("once", false, "run one refresh and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	lplog.Configure(lplog.Config{
		Level:   "info",
		Service: "listpub",
		Version: version,
	})
	logger := lplog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Without --config, pick up ${LISTPUB_DATA}/config.yaml if it exists.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("LISTPUB_DATA", "/data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	cfg, err := config.Load(effectiveConfigPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	lplog.Configure(lplog.Config{
		Level:   cfg.LogLevel,
		Service: "listpub",
		Version: version,
	})
	logger.Info().
		Str("event", "config.loaded").
		Str("path", effectiveConfigPath).
		Str("data_dir", cfg.DataDir).
		Msg("configuration loaded")

	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "cache.open_failed").
			Str("path", cfg.CachePath).
			Msg("failed to open metadata cache")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing metadata cache")
		}
	}()

	deps := buildDeps(cfg, store)
	srv := api.New(cfg, deps, version)

	if *once {
		st, _ := srv.RunRefresh(ctx)
		if st.Failed() {
			logger.Error().Str("event", "refresh.failed").Msg("one or more artifacts failed")
			os.Exit(1)
		}
		return
	}

	// Watch the config file and apply changes to subsequent refreshes.
	holder := config.NewHolder(cfg, effectiveConfigPath)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable")
	}
	defer holder.Stop()

	updates := make(chan config.Config, 1)
	holder.RegisterListener(updates)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().
			Str("event", "http.listen").
			Str("addr", cfg.ListenAddr).
			Msg("serving artifacts")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("event", "http.failed").Msg("http server stopped")
			stop()
		}
	}()

	// Initial publication, then refresh on the configured interval.
	if st, ran := srv.RunRefresh(ctx); ran && st.Failed() {
		logger.Warn().Str("event", "refresh.partial").Msg("initial refresh left artifacts at previous versions")
	}

	ticker := time.NewTicker(time.Duration(cfg.RefreshInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("http shutdown")
			}
			logger.Info().Str("event", "daemon.stopped").Msg("shutting down")
			return
		case newCfg := <-updates:
			srv.UpdateConfig(newCfg)
			srv.SetDeps(buildDeps(newCfg, store))
			ticker.Reset(time.Duration(newCfg.RefreshInterval))
			logger.Info().Str("event", "config.applied").Msg("configuration reloaded")
			if _, ran := srv.RunRefresh(ctx); !ran {
				logger.Warn().Str("event", "refresh.conflict").Msg("refresh in progress, new config applies to the next run")
			}
		case <-ticker.C:
			if _, ran := srv.RunRefresh(ctx); !ran {
				logger.Warn().Str("event", "refresh.conflict").Msg("previous refresh still running, skipping tick")
			}
		}
	}
}

func buildDeps(cfg config.Config, store *cache.Store) jobs.Deps {
	return jobs.Deps{
		Config:  cfg,
		Catalog: vixsrc.New(cfg.Catalog.BaseURL, cfg.Catalog.Language),
		Metadata: tmdb.New(cfg.TMDB.BaseURL, cfg.TMDB.APIKey, tmdb.Options{
			Language:  cfg.TMDB.Language,
			RateLimit: rate.Limit(cfg.TMDB.RateLimit),
			Burst:     cfg.TMDB.Burst,
			Retries:   cfg.TMDB.Retries,
		}),
		Guide: epg.NewMerger(),
		Cache: store,
	}
}
