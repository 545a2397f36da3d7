package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalog-sync/internal/api"
	"catalog-sync/internal/config"
	"catalog-sync/internal/ingest"
	"catalog-sync/internal/marketplace"
	"catalog-sync/internal/store"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Server] Invalid configuration: %v", err)
	}
	log.Printf("[Server] Starting catalog-sync (marketplace: %s)", cfg.MarketplaceEndpoint)

	db, err := store.NewSQLite(cfg.DataDir)
	if err != nil {
		log.Fatalf("[Server] Failed to open store: %v", err)
	}

	// Categories stuck in progress from a previous crash resume as queued.
	if n, err := db.ResetInFlight(); err != nil {
		log.Printf("[Server] Failed to reset in-flight categories: %v", err)
	} else if n > 0 {
		log.Printf("[Server] Re-queued %d interrupted categories", n)
	}

	clock := store.SystemClock{}

	client := marketplace.NewClient(
		cfg.MarketplaceEndpoint,
		cfg.MarketplaceAPIKey,
		cfg.UserAgent,
		cfg.MarketplaceTimeout,
		marketplace.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Jitter:      0.2,
		},
	)
	search := marketplace.NewSearchClient(client)
	detail := marketplace.NewDetailClient(client)

	normalizer := &ingest.Normalizer{
		MinTitleLen:      cfg.MinTitleLen,
		PriceSanityFloor: cfg.PriceSanityFloor,
		ConversionRate:   cfg.ConversionRate,
		Currency:         cfg.Currency,
		Clock:            clock,
	}
	engine := ingest.NewUpsertEngine(db, cfg.MinTitleLen)
	pacer := ingest.NewPacer(cfg.PageDelay, cfg.BandDelay, cfg.CategoryDelay, clock)

	orch := ingest.NewOrchestrator(db, db, engine, search, normalizer, pacer, clock, ingest.OrchestratorConfig{
		Locales:         cfg.Locales,
		MaxPagesPerBand: cfg.MaxPagesPerBand,
		MaxItemsPerBand: cfg.MaxItemsPerBand,
		ErrorCap:        cfg.ErrorCap,
	})

	scheduler := ingest.NewScheduler(db, db, orch, detail, normalizer, engine, clock, ingest.SchedulerConfig{
		Tick:         cfg.SchedulerTick,
		RefreshTick:  cfg.RefreshTick,
		StaleWindow:  cfg.StaleWindow,
		RefreshLimit: cfg.RefreshLimit,
		CleanupTick:  cfg.CleanupTick,
		Retention:    cfg.RetentionWindow,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	api.SetupRoutes(r, db, db, orch, scheduler)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("[Server] Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] Listen failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[Server] Shutting down...")

	scheduler.Stop()
	orch.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] HTTP shutdown: %v", err)
	}

	// A run interrupted mid-category resumes on next start.
	if _, err := db.ResetInFlight(); err != nil {
		log.Printf("[Server] Failed to reset in-flight categories: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("[Server] Failed to close store: %v", err)
	}
	log.Println("[Server] Bye")
}
