// Package main wires together the trackmapper background worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/omnimuse/trackmapper/internal/clock"
	"github.com/omnimuse/trackmapper/internal/config"
	"github.com/omnimuse/trackmapper/internal/crawl"
	"github.com/omnimuse/trackmapper/internal/logging"
	"github.com/omnimuse/trackmapper/internal/manager"
	"github.com/omnimuse/trackmapper/internal/metrics"
	"github.com/omnimuse/trackmapper/internal/pagecache"
	"github.com/omnimuse/trackmapper/internal/store"
	memorystorage "github.com/omnimuse/trackmapper/internal/storage/memory"
	"github.com/omnimuse/trackmapper/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	switch cfg.DB.Provider {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pg.Close()
		st = pg
	case "memory":
		logger.Warn("using in-memory store, rows will not survive restart")
		st = memorystorage.New()
	}

	cache, err := pagecache.New(cfg.Cache.Dir, logger.Named("pagecache"))
	if err != nil {
		logger.Fatal("page cache init failed", zap.Error(err))
	}
	logger.Info("page cache ready",
		zap.String("dir", cfg.Cache.Dir),
		zap.Int("recovered_pages", cache.Len()),
	)

	factory := func() crawl.PageFetcher {
		return crawl.NewSession(crawl.SessionConfig{
			LoginURL:  cfg.Site.LoginURL,
			Username:  cfg.Auth.Username,
			Password:  cfg.Auth.Password,
			UserAgent: cfg.Site.UserAgent,
			Timeout:   time.Duration(cfg.Site.TimeoutSeconds) * time.Second,
		})
	}

	mgr := manager.New(manager.Config{
		IngestWorkers:        cfg.Workers.Ingest,
		UserCrawlWorkers:     cfg.Workers.UserCrawlers,
		ArtistCrawlWorkers:   cfg.Workers.ArtistCrawlers,
		CombinedCrawlWorkers: cfg.Workers.CombinedCrawlers,
		SeedUsers:            cfg.Seeds,
		StartStagger:         time.Duration(cfg.Workers.StartStaggerSeconds) * time.Second,
		IngestTick:           time.Duration(cfg.Workers.IngestTickMs) * time.Millisecond,
		CrawlTick:            time.Duration(cfg.Workers.CrawlTickMs) * time.Millisecond,
		BaseURL:              cfg.Site.BaseURL,
		ArtistPageLimit:      cfg.Workers.ArtistPageLimit,
	}, cache, st, clock.System{}, factory, logger)

	router := chi.NewRouter()
	router.Handle("/metrics", metrics.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server started", zap.Int("port", cfg.Ops.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
			stop()
		}
	}()

	go mgr.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown initiated")
	mgr.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
