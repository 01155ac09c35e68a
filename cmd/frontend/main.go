// Command frontend runs the search frontend: the public query API and
// the analytics loop.
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

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/analyzer"
	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/api/frontendapi"
	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/database"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/search"
)

const shutdownTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "frontend",
		Short: "Quarry search frontend",
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
	cfg, err := config.LoadFrontend()
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

	an, err := analyzer.New()
	if err != nil {
		return err
	}

	// Semantic and hybrid modes stay unavailable until an embedding
	// provider is wired in.
	engine := search.NewEngine(db, an, search.DefaultParams(), nil)

	recorder := analytics.NewRecorder(db, log)
	recorder.Start()
	reporter := analytics.NewReporter(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	httpClient := &http.Client{Timeout: 10 * time.Second}
	handler := frontendapi.NewHandler(engine, recorder, reporter, httpClient,
		cfg.Frontend.CrawlerURL, cfg.Frontend.SessionSalt, log)
	router := frontendapi.NewRouter(handler, reg, log)
	server := api.NewServer(cfg.Server.Address, router, api.ServerTimeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	})

	return serve(ctx, server, log, recorder.Stop)
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
