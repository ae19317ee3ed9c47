// Command settlementd runs the bond settlement engine behind a JSON REST
// API, with Prometheus metrics and an optional Postgres backing store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	app "github.com/PurgeGame/settlement_layer/internal/app"
	"github.com/PurgeGame/settlement_layer/internal/app/httpapi"
	"github.com/PurgeGame/settlement_layer/internal/app/metrics"
	bondsvc "github.com/PurgeGame/settlement_layer/internal/app/services/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/storage/postgres"
	"github.com/PurgeGame/settlement_layer/internal/config"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	// Local development convenience; missing .env files are fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logger.New("settlementd", cfg.LogLevel)

	stores := app.Stores{}
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		store := postgres.New(db)
		stores.Bond = store
		stores.Leaderboard = store
		log.Info("using postgres store")
	} else {
		log.Warn("no postgres DSN configured; using in-memory store")
	}

	application, err := app.New(app.Options{
		Engine: bondsvc.Config{
			MaturityStep:       cfg.Engine.MaturityStep,
			SaleOffset:         cfg.Engine.SaleOffset,
			RedirectMaturities: cfg.Engine.RedirectMaturities,
			RedirectMax:        cfg.Engine.RedirectMax,
			BoostBps:           cfg.Engine.BoostBps,
		},
		StartLevel:          cfg.StartLevel,
		MaintenanceInterval: cfg.Maintenance.Interval,
		MaintenanceBudget:   cfg.Maintenance.Budget,
		EntropyURL:          cfg.Entropy.URL,
		EntropyPeriod:       cfg.Entropy.Period,
		EntropyDelay:        cfg.Entropy.Delay,
	}, stores, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	scheduler := cron.New()
	if cfg.Maintenance.Schedule != "" {
		if _, err := scheduler.AddFunc(cfg.Maintenance.Schedule, application.Driver.Kick); err != nil {
			return fmt.Errorf("maintenance schedule: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	apiHandler, err := httpapi.NewHandlerWithAudit(application, cfg.AuditPath)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", apiHandler)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           metrics.InstrumentHandler(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown failed")
	}
	return application.Stop(shutdownCtx)
}
