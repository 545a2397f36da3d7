package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"catalog-sync/internal/marketplace"
	"catalog-sync/internal/model"
	"catalog-sync/internal/store"
)

// SearchAPI is the paginated search dependency of the orchestrator.
type SearchAPI interface {
	SearchPage(ctx context.Context, query string, page int, locale string) ([]model.RawListingItem, error)
}

// DetailAPI is the single-item lookup dependency of the refresh sweep.
type DetailAPI interface {
	FetchDetail(ctx context.Context, externalID string) (model.RawListingItem, error)
}

// RunOptions tunes one sync run. Zero values fall back to the orchestrator
// configuration.
type RunOptions struct {
	MaxItemsPerBand int
	SkipExisting    bool
}

// OrchestratorConfig carries the harvest limits shared by all runs.
type OrchestratorConfig struct {
	Locales         []string
	MaxPagesPerBand int
	MaxItemsPerBand int
	ErrorCap        int
}

// Status reports whether a batch is in flight and the last batch result.
type Status struct {
	Running bool                   `json:"running"`
	LastRun *model.AggregateResult `json:"last_run,omitempty"`
}

// Orchestrator drives the band/page/category traversal: partition by price
// band, paginate search, normalize, upsert, aggregate results. Category
// failures are isolated; one category never aborts a batch.
type Orchestrator struct {
	categories store.CategoryStore
	products   store.ProductStore
	engine     *UpsertEngine
	search     SearchAPI
	normalizer *Normalizer
	pacer      *Pacer
	clock      store.Clock
	cfg        OrchestratorConfig

	stopFlag atomic.Bool

	mu      sync.Mutex
	running bool
	lastRun *model.AggregateResult
}

// NewOrchestrator wires the sync pipeline together.
func NewOrchestrator(
	categories store.CategoryStore,
	products store.ProductStore,
	engine *UpsertEngine,
	search SearchAPI,
	normalizer *Normalizer,
	pacer *Pacer,
	clock store.Clock,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.MaxPagesPerBand <= 0 {
		cfg.MaxPagesPerBand = 3
	}
	if cfg.MaxItemsPerBand <= 0 {
		cfg.MaxItemsPerBand = 20
	}
	if cfg.ErrorCap <= 0 {
		cfg.ErrorCap = 10
	}
	if len(cfg.Locales) == 0 {
		cfg.Locales = []string{"in"}
	}
	return &Orchestrator{
		categories: categories,
		products:   products,
		engine:     engine,
		search:     search,
		normalizer: normalizer,
		pacer:      pacer,
		clock:      clock,
		cfg:        cfg,
	}
}

// RunCategory syncs a single category through the per-band loop. It returns
// the run result and a non-nil error when the run failed or was stopped.
func (o *Orchestrator) RunCategory(ctx context.Context, categoryID string, opts RunOptions) (model.RunResult, error) {
	// A stop request applies to the run it interrupted, not to future runs.
	// Calls nested inside a batch keep the batch's stop flag.
	o.mu.Lock()
	if !o.running {
		o.stopFlag.Store(false)
	}
	o.mu.Unlock()

	cat, ok := o.categories.GetCategory(categoryID)
	if !ok {
		return model.RunResult{}, fmt.Errorf("category %s not found", categoryID)
	}
	if !cat.Active {
		return model.RunResult{}, fmt.Errorf("category %s is not active", cat.Name)
	}

	// Band setup is validated before any status change or external call.
	bands, err := BandsFor(cat)
	if err != nil {
		return model.RunResult{}, err
	}

	// Queue only from a settled status; a category another run is already
	// harvesting is refused, never re-claimed.
	queued := cat.Status == model.StatusQueued
	if !queued {
		for _, from := range []model.SyncStatus{model.StatusPending, model.StatusCompleted, model.StatusFailed} {
			ok, err := o.categories.ClaimCategory(cat.ID, from, model.StatusQueued)
			if err != nil {
				return model.RunResult{}, err
			}
			if ok {
				queued = true
				break
			}
		}
	}
	if !queued {
		return model.RunResult{}, ErrAlreadyRunning
	}
	claimed, err := o.categories.ClaimCategory(cat.ID, model.StatusQueued, model.StatusInProgress)
	if err != nil {
		return model.RunResult{}, err
	}
	if !claimed {
		return model.RunResult{}, ErrAlreadyRunning
	}

	log.Printf("[Orchestrator] Syncing category %s (%d bands)", cat.Name, len(bands))
	o.pacer.Wait(LevelCategory)

	result, runErr := o.harvestCategory(ctx, cat, bands, opts, nil)
	now := o.clock.Now()
	result.FinishedAt = now

	switch {
	case errors.Is(runErr, ErrStopped):
		// Never leave a category in progress; a future run resumes it.
		if err := o.categories.SetSyncStatus(cat.ID, model.StatusQueued); err != nil {
			log.Printf("[Orchestrator] Failed to re-queue %s: %v", cat.Name, err)
		}
		return result, runErr
	case runErr != nil:
		result.Errors = appendCapped(result.Errors, o.cfg.ErrorCap, runErr.Error())
		if err := o.categories.CompleteSyncRun(cat.ID, model.StatusFailed, now, result.Summary(o.cfg.ErrorCap)); err != nil {
			log.Printf("[Orchestrator] Failed to record failure for %s: %v", cat.Name, err)
		}
		return result, runErr
	default:
		if err := o.categories.CompleteSyncRun(cat.ID, model.StatusCompleted, now, result.Summary(o.cfg.ErrorCap)); err != nil {
			log.Printf("[Orchestrator] Failed to record completion for %s: %v", cat.Name, err)
		}
		log.Printf("[Orchestrator] Completed %s: %d success, %d failed",
			cat.Name, result.Success, result.Failed)
		return result, nil
	}
}

// RunAll syncs every active category sequentially. Per-category failures
// are recorded and the batch moves on.
func (o *Orchestrator) RunAll(ctx context.Context, opts RunOptions) (model.AggregateResult, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return model.AggregateResult{}, ErrAlreadyRunning
	}
	o.running = true
	o.stopFlag.Store(false)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	agg := model.AggregateResult{StartedAt: o.clock.Now()}
	categories := o.categories.GetActiveCategories()
	log.Printf("[Orchestrator] Starting batch sync of %d categories", len(categories))

	for _, cat := range categories {
		res, err := o.RunCategory(ctx, cat.ID, opts)
		agg.Categories++
		agg.Processed += res.Processed
		agg.Success += res.Success
		agg.Failed += res.Failed
		agg.Results = append(agg.Results, res)

		switch {
		case errors.Is(err, ErrStopped):
			agg.Errors = appendCapped(agg.Errors, o.cfg.ErrorCap, "batch stopped")
			agg.FinishedAt = o.clock.Now()
			o.setLastRun(&agg)
			return agg, err
		case err != nil:
			agg.FailedCategories++
			agg.Errors = appendCapped(agg.Errors, o.cfg.ErrorCap,
				fmt.Sprintf("%s: %v", cat.Name, err))
			log.Printf("[Orchestrator] Category %s failed: %v", cat.Name, err)
		default:
			agg.Succeeded++
		}
	}

	agg.FinishedAt = o.clock.Now()
	o.setLastRun(&agg)
	log.Printf("[Orchestrator] Batch done: %d/%d categories succeeded", agg.Succeeded, agg.Categories)
	return agg, nil
}

// Preview runs the identical per-band loop but only normalizes, returning
// the candidate records without persisting anything or touching category
// status.
func (o *Orchestrator) Preview(ctx context.Context, categoryID string, opts RunOptions) ([]model.CanonicalProduct, error) {
	cat, ok := o.categories.GetCategory(categoryID)
	if !ok {
		return nil, fmt.Errorf("category %s not found", categoryID)
	}
	bands, err := BandsFor(cat)
	if err != nil {
		return nil, err
	}

	var candidates []model.CanonicalProduct
	if _, err := o.harvestCategory(ctx, cat, bands, opts, &candidates); err != nil {
		return candidates, err
	}
	return candidates, nil
}

// Stop requests cooperative cancellation of the run in flight. The flag is
// checked between bands and between pages; the interrupted category reverts
// to queued. A fresh trigger clears the request, so stopping never disables
// future runs.
func (o *Orchestrator) Stop() {
	o.stopFlag.Store(true)
	log.Println("[Orchestrator] Stop requested")
}

// Status returns the running flag and the last batch result.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{Running: o.running, LastRun: o.lastRun}
}

func (o *Orchestrator) setLastRun(agg *model.AggregateResult) {
	o.mu.Lock()
	o.lastRun = agg
	o.mu.Unlock()
}

func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	if o.stopFlag.Load() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// harvestCategory walks bands in order, locales in rotation, and pages until
// a stop condition: empty page, per-band cap, or max pages. When collect is
// non-nil the loop runs in preview mode and skips persistence.
func (o *Orchestrator) harvestCategory(
	ctx context.Context,
	cat *model.Category,
	bands []model.PriceBand,
	opts RunOptions,
	collect *[]model.CanonicalProduct,
) (model.RunResult, error) {
	result := model.RunResult{
		CategoryID:   cat.ID,
		CategoryName: cat.Name,
		StartedAt:    o.clock.Now(),
	}

	maxItems := opts.MaxItemsPerBand
	if maxItems <= 0 {
		maxItems = cat.Sync.MaxItemsPerBand
	}
	if maxItems <= 0 {
		maxItems = o.cfg.MaxItemsPerBand
	}
	preview := collect != nil

	for bi := range bands {
		band := bands[bi]
		if o.stopRequested(ctx) {
			return result, ErrStopped
		}
		if bi > 0 {
			o.pacer.Wait(LevelBand)
		}

		if opts.SkipExisting && !preview {
			existing, err := o.products.CountInBand(cat.ID, band.Min, band.Max)
			if err == nil && existing >= maxItems {
				result.Skipped += existing
				log.Printf("[Orchestrator] %s %s: %d products already present, skipping",
					cat.Name, band.Label, existing)
				continue
			}
		}

		br := o.harvestBand(ctx, cat, band, maxItems, collect)
		if br.err != nil {
			if errors.Is(br.err, ErrStopped) || marketplace.IsTerminal(br.err) {
				mergeBand(&result, br, o.cfg.ErrorCap)
				return result, br.err
			}
			// Band-level failures never abort the category.
			br.Errors = appendCapped(br.Errors, o.cfg.ErrorCap,
				fmt.Sprintf("band %s: %v", band.Label, br.err))
		}
		mergeBand(&result, br, o.cfg.ErrorCap)
	}
	return result, nil
}

type bandOutcome struct {
	model.BandResult
	added   int
	updated int
	err     error
}

func (o *Orchestrator) harvestBand(
	ctx context.Context,
	cat *model.Category,
	band model.PriceBand,
	maxItems int,
	collect *[]model.CanonicalProduct,
) bandOutcome {
	out := bandOutcome{BandResult: model.BandResult{Band: band.Label}}
	query := strings.TrimSpace(cat.SearchTerms() + " " + band.QueryHint)
	accepted := 0

locales:
	for _, locale := range o.cfg.Locales {
		for page := 1; page <= o.cfg.MaxPagesPerBand; page++ {
			if o.stopRequested(ctx) {
				out.err = ErrStopped
				return out
			}
			o.pacer.Wait(LevelPage)

			items, err := o.search.SearchPage(ctx, query, page, locale)
			if err != nil {
				if marketplace.IsTerminal(err) {
					out.err = err
					return out
				}
				// Transient failures were already retried by the client;
				// give up on this locale and try the next one.
				out.Errors = appendCapped(out.Errors, o.cfg.ErrorCap,
					fmt.Sprintf("%s page %d (%s): %v", band.Label, page, locale, err))
				continue locales
			}
			if len(items) == 0 {
				continue locales
			}

			for i, raw := range items {
				if accepted >= maxItems {
					break locales
				}
				out.Processed++

				p := o.normalizer.Normalize(raw, cat, NormalizeContext{
					Query:    query,
					Band:     &band,
					Position: (page-1)*len(items) + i + 1,
				})
				if p == nil {
					out.Failed++
					out.Errors = appendCapped(out.Errors, o.cfg.ErrorCap,
						fmt.Sprintf("%s: item %d not normalizable", band.Label, i+1))
					continue
				}
				// The band interval is authoritative: out-of-band prices are
				// rejected, not re-filed.
				if !band.Contains(p.Price) {
					out.Failed++
					out.Errors = appendCapped(out.Errors, o.cfg.ErrorCap,
						fmt.Sprintf("%s: price %.2f outside [%.2f, %.2f)",
							p.ExternalID, p.Price, band.Min, band.Max))
					continue
				}

				if collect != nil {
					*collect = append(*collect, *p)
					out.Success++
					accepted++
					continue
				}

				outcome, err := o.engine.Upsert(p)
				if err != nil {
					out.Failed++
					out.Errors = appendCapped(out.Errors, o.cfg.ErrorCap, err.Error())
					continue
				}
				switch outcome.Action {
				case ActionRejected:
					out.Failed++
					out.Errors = appendCapped(out.Errors, o.cfg.ErrorCap,
						fmt.Sprintf("%s rejected: %s", p.ExternalID, outcome.Reason))
				case ActionInserted:
					out.Success++
					out.added++
					accepted++
				case ActionUpdated:
					out.Success++
					out.updated++
					accepted++
				}
			}
			if accepted >= maxItems {
				break locales
			}
		}
	}
	return out
}

func mergeBand(result *model.RunResult, br bandOutcome, limit int) {
	result.PerBand = append(result.PerBand, br.BandResult)
	result.Processed += br.Processed
	result.Success += br.Success
	result.Failed += br.Failed
	result.Added += br.added
	result.Updated += br.updated
	// The retained list stays bounded across bands, not just within one.
	for _, msg := range br.Errors {
		result.Errors = appendCapped(result.Errors, limit, msg)
	}
}

func appendCapped(errs []string, limit int, msg string) []string {
	if len(errs) >= limit {
		return errs
	}
	return append(errs, msg)
}
