// Command indexer runs the index service: the page ingest API, the
// index job workers, and the periodic PageRank and maintenance jobs.
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
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/api/indexerapi"
	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/jobqueue"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/pagerank"
)

const shutdownTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "indexer",
		Short: "Quarry index service",
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
	cfg, err := config.LoadIndexer()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
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

	an, err := analyzer.New()
	if err != nil {
		return err
	}

	queue := jobqueue.New(db)
	writer := index.NewWriter(db, an)

	jobWorker := index.NewJobWorker(queue, writer, log, index.JobWorkerConfig{
		Workers:      cfg.Indexer.Workers,
		ClaimBatch:   cfg.Indexer.ClaimBatch,
		LeaseWindow:  cfg.Indexer.LeaseWindow,
		PollInterval: cfg.Indexer.PollInterval,
	})

	rankJob := pagerank.NewJob(db, log)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if runErr := jobWorker.Run(workerCtx); runErr != nil {
			log.Error("job worker exited with error", logger.Error(runErr))
		}
	}()

	schedule := cron.New()
	if _, cronErr := schedule.AddFunc(cfg.Indexer.PageRankSchedule, func() {
		if rankErr := rankJob.RunPageRank(context.Background()); rankErr != nil {
			log.Error("page rank job failed", logger.Error(rankErr))
		}
		if rankErr := rankJob.RunDomainRank(context.Background()); rankErr != nil {
			log.Error("domain rank job failed", logger.Error(rankErr))
		}
	}); cronErr != nil {
		stopWorkers()
		<-workerDone
		return fmt.Errorf("failed to schedule pagerank job: %w", cronErr)
	}
	if _, cronErr := schedule.AddFunc(cfg.Indexer.MaintenanceSchedule, func() {
		if recovered, recErr := queue.RecoverExpiredLeases(context.Background()); recErr != nil {
			log.Error("lease recovery failed", logger.Error(recErr))
		} else if recovered > 0 {
			log.Info("recovered expired leases", logger.Int("count", recovered))
		}
		if purged, purgeErr := queue.PurgeDone(context.Background(), cfg.Indexer.PurgeDoneAfter); purgeErr != nil {
			log.Error("queue purge failed", logger.Error(purgeErr))
		} else if purged > 0 {
			log.Info("purged done jobs", logger.Int64("count", purged))
		}
	}); cronErr != nil {
		stopWorkers()
		<-workerDone
		return fmt.Errorf("failed to schedule maintenance job: %w", cronErr)
	}
	schedule.Start()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	handler := indexerapi.NewHandler(queue, cfg.Indexer.APIKey, log)
	router := indexerapi.NewRouter(handler, reg, log)
	server := api.NewServer(cfg.Server.Address, router, api.ServerTimeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	})

	return serve(ctx, server, log, func() {
		schedule.Stop()
		stopWorkers()
		<-workerDone
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
