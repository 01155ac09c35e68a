// Command crawler runs the crawl service: the URL store API and the
// crawl worker pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/api/crawlerapi"
	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/crawler"
	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/scheduler"
	"github.com/quarrysearch/quarry/internal/urlstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "crawler",
		Short: "Quarry crawl service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadCrawler()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.Must(logger.Config{
		Level:       cfg.Logger.Level,
		Development: cfg.Logger.Development,
		OutputPaths: cfg.Logger.OutputPaths,
	})
	defer log.Sync() //nolint:errcheck // stdout sync may fail harmlessly

	db, err := database.Open(database.Config{URL: cfg.Database.URL})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}

	urls := urlstore.New(db, cfg.RecrawlThreshold())
	seeds := urlstore.NewSeedStore(urls)
	history := urlstore.NewHistoryStore(urls)

	sched := scheduler.New(urls, scheduler.Config{
		BatchSize:        cfg.Crawler.BatchSize,
		MinInterval:      cfg.Crawler.MinInterval,
		ConcurrencyLimit: cfg.Crawler.MaxPerHost,
	}, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := crawler.NewMetrics(reg)

	httpClient := &http.Client{Timeout: cfg.Crawler.RequestTimeout}
	robots, err := crawler.NewRobotsCache(
		httpClient, cfg.Crawler.UserAgent, cfg.Crawler.RobotsCacheSize, sched, log)
	if err != nil {
		return err
	}

	fetcher := crawler.NewFetcher(httpClient, cfg.Crawler.UserAgent, cfg.Crawler.MaxBodyBytes)
	submitter := crawler.NewIndexerClient(httpClient, cfg.Crawler.IndexerURL, cfg.Crawler.IndexerAPIKey)

	manager := crawler.NewManager(func(concurrency int) *crawler.Worker {
		return crawler.NewWorker(urls, history, sched, robots, fetcher, submitter, metrics, log,
			crawler.Config{
				Concurrency: concurrency,
				MaxOutlinks: cfg.Crawler.MaxOutlinks,
			})
	}, log)

	handler := crawlerapi.NewHandler(urls, seeds, history, manager, log)
	router := crawlerapi.NewRouter(handler, reg, log)
	server := api.NewServer(cfg.Server.Address, router, api.ServerTimeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	})

	// Start the worker with the configured concurrency; the control
	// endpoints can stop and restart it.
	if err := manager.Start(cfg.Crawler.Concurrency); err != nil {
		return err
	}

	return serve(ctx, server, log, func() {
		if stopErr := manager.Stop(true); stopErr != nil && !errors.Is(stopErr, crawler.ErrWorkerNotRunning) {
			log.Error("failed to stop worker", logger.Error(stopErr))
		}
	})
}

// serve runs the HTTP server until the context or a signal stops it,
// then shuts down and invokes cleanup.
func serve(ctx context.Context, server *http.Server, log logger.Logger, cleanup func()) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", logger.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		cleanup()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", logger.Error(err))
	}
	cleanup()
	return nil
}
