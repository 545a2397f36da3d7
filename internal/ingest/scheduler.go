package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"catalog-sync/internal/marketplace"
	"catalog-sync/internal/model"
	"catalog-sync/internal/store"
)

// SchedulerConfig carries the background loop intervals.
type SchedulerConfig struct {
	// Tick is how often categories are checked for staleness.
	Tick time.Duration
	// RefreshTick is how often the stale-item sweep runs.
	RefreshTick time.Duration
	// StaleWindow marks a product stale once its last sync is older than this.
	StaleWindow time.Duration
	// RefreshLimit bounds one sweep.
	RefreshLimit int
	// CleanupTick is how often expired products are purged.
	CleanupTick time.Duration
	// Retention is how long a product survives without being seen in a harvest.
	Retention time.Duration
}

// Scheduler decides when categories and individual products are due for a
// re-sync and drives the background loops.
type Scheduler struct {
	categories store.CategoryStore
	products   store.ProductStore
	orch       *Orchestrator
	detail     DetailAPI
	normalizer *Normalizer
	engine     *UpsertEngine
	clock      store.Clock
	cfg        SchedulerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewScheduler wires the background sync loops.
func NewScheduler(
	categories store.CategoryStore,
	products store.ProductStore,
	orch *Orchestrator,
	detail DetailAPI,
	normalizer *Normalizer,
	engine *UpsertEngine,
	clock store.Clock,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Minute
	}
	if cfg.RefreshTick <= 0 {
		cfg.RefreshTick = 4 * time.Hour
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = 6 * time.Hour
	}
	if cfg.RefreshLimit <= 0 {
		cfg.RefreshLimit = 50
	}
	if cfg.CleanupTick <= 0 {
		cfg.CleanupTick = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Scheduler{
		categories: categories,
		products:   products,
		orch:       orch,
		detail:     detail,
		normalizer: normalizer,
		engine:     engine,
		clock:      clock,
		cfg:        cfg,
	}
}

// NeedsSync reports whether a category is due at the given instant. A
// category exactly at its interval boundary is due. Disabled and manual
// categories are never due.
func (s *Scheduler) NeedsSync(cat *model.Category, now time.Time) bool {
	if !cat.Active || !cat.Sync.Enabled {
		return false
	}
	interval, ok := cat.Sync.Frequency.Interval()
	if !ok {
		return false
	}
	if cat.LastSyncAt.IsZero() {
		return true
	}
	return now.Sub(cat.LastSyncAt) >= interval
}

// Start launches the background loops. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	log.Printf("[Scheduler] Started (check every %v, refresh every %v, cleanup every %v)",
		s.cfg.Tick, s.cfg.RefreshTick, s.cfg.CleanupTick)

	go func() {
		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runDueCategories(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(s.cfg.RefreshTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.RefreshStaleItems(ctx, s.cfg.RefreshLimit); err != nil {
					log.Printf("[Scheduler] Stale-item sweep failed: %v", err)
				}
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(s.cfg.CleanupTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.CleanupExpired(); err != nil {
					log.Printf("[Scheduler] Cleanup failed: %v", err)
				}
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background loops. It does not interrupt a run already in
// flight; use the orchestrator's Stop for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	log.Println("[Scheduler] Stopped")
}

// IsRunning reports whether the background loops are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runDueCategories marks every due category queued, then syncs them one at a
// time so the queued set is visible before the long harvest begins.
func (s *Scheduler) runDueCategories(ctx context.Context) {
	now := s.clock.Now()
	var due []*model.Category
	for _, cat := range s.categories.GetActiveCategories() {
		if s.NeedsSync(cat, now) {
			due = append(due, cat)
		}
	}
	if len(due) == 0 {
		return
	}

	log.Printf("[Scheduler] %d categories due for sync", len(due))
	for _, cat := range due {
		// A category already queued or mid-harvest keeps its status.
		if cat.Status == model.StatusQueued || cat.Status == model.StatusInProgress {
			continue
		}
		if err := s.categories.SetSyncStatus(cat.ID, model.StatusQueued); err != nil {
			log.Printf("[Scheduler] Failed to queue %s: %v", cat.Name, err)
		}
	}

	for _, cat := range due {
		if _, err := s.orch.RunCategory(ctx, cat.ID, RunOptions{SkipExisting: true}); err != nil {
			log.Printf("[Scheduler] Category %s sync failed: %v", cat.Name, err)
			if marketplace.IsTerminal(err) {
				// Quota and auth failures hit every category equally; the
				// rest of the due set waits for the next tick.
				return
			}
		}
	}
}

// RefreshStaleItems re-fetches up to limit products whose data is older than
// the stale window and upserts the fresh records. Item failures are recorded
// per item; a terminal marketplace error aborts the sweep.
func (s *Scheduler) RefreshStaleItems(ctx context.Context, limit int) (model.RefreshResult, error) {
	if limit <= 0 {
		limit = s.cfg.RefreshLimit
	}
	cutoff := s.clock.Now().Add(-s.cfg.StaleWindow)
	stale, err := s.products.FindStale(cutoff, limit)
	if err != nil {
		return model.RefreshResult{}, fmt.Errorf("failed to list stale products: %w", err)
	}
	if len(stale) == 0 {
		return model.RefreshResult{}, nil
	}

	log.Printf("[Scheduler] Refreshing %d stale products", len(stale))
	var result model.RefreshResult
	for _, p := range stale {
		s.orch.pacer.Wait(LevelPage)
		if err := s.refreshOne(ctx, p); err != nil {
			if marketplace.IsTerminal(err) {
				result.Errors = appendCapped(result.Errors, s.orch.cfg.ErrorCap,
					fmt.Sprintf("sweep aborted: %v", err))
				return result, err
			}
			result.Failed++
			result.Errors = appendCapped(result.Errors, s.orch.cfg.ErrorCap,
				fmt.Sprintf("%s: %v", p.ExternalID, err))
			if markErr := s.products.MarkItemSync(p.ExternalID, model.ItemSyncFailed, err.Error(), s.clock.Now()); markErr != nil {
				log.Printf("[Scheduler] Failed to mark %s: %v", p.ExternalID, markErr)
			}
			continue
		}
		result.Updated++
		if markErr := s.products.MarkItemSync(p.ExternalID, model.ItemSyncSuccess, "", s.clock.Now()); markErr != nil {
			log.Printf("[Scheduler] Failed to mark %s: %v", p.ExternalID, markErr)
		}
	}
	log.Printf("[Scheduler] Sweep done: %d refreshed, %d failed", result.Updated, result.Failed)
	return result, nil
}

// CleanupExpired deletes products not seen in any harvest within the
// retention window and reports how many were removed.
func (s *Scheduler) CleanupExpired() (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.Retention)
	deleted, err := s.products.DeleteScrapedBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired products: %w", err)
	}
	if deleted > 0 {
		log.Printf("[Scheduler] Deleted %d products not seen since %s", deleted, cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

func (s *Scheduler) refreshOne(ctx context.Context, p *model.CanonicalProduct) error {
	cat, ok := s.categories.GetCategory(p.CategoryID)
	if !ok {
		return fmt.Errorf("category %s no longer exists", p.CategoryID)
	}

	raw, err := s.detail.FetchDetail(ctx, p.ExternalID)
	if err != nil {
		return err
	}

	fresh := s.normalizer.Normalize(raw, cat, NormalizeContext{
		Query:    p.Sync.SourceQuery,
		Position: p.Position,
	})
	if fresh == nil {
		return fmt.Errorf("listing no longer normalizable")
	}
	fresh.BandLabel = p.BandLabel

	outcome, err := s.engine.Upsert(fresh)
	if err != nil {
		return err
	}
	if outcome.Action == ActionRejected {
		return fmt.Errorf("rejected: %s", outcome.Reason)
	}
	return nil
}
