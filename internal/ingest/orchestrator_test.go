package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"catalog-sync/internal/marketplace"
	"catalog-sync/internal/model"
)

func phonesCategory() *model.Category {
	return &model.Category{
		ID:     "phones",
		Name:   "Phones",
		Active: true,
		Sync:   model.SyncConfig{Enabled: true, Frequency: model.FrequencyDaily},
		Bands: []model.PriceBand{
			{Label: "under_5000", Min: 0, Max: 5000, QueryHint: "under 5000"},
			{Label: "under_10000", Min: 5000, Max: 10000, QueryHint: "under 10000"},
		},
		Status: model.StatusPending,
	}
}

func newTestOrchestrator(cats *fakeCategoryStore, products *fakeProductStore, search *fakeSearch, clock *fakeClock) *Orchestrator {
	engine := NewUpsertEngine(products, 10)
	return NewOrchestrator(cats, products, engine, search, testNormalizer(clock), silentPacer(clock), clock, OrchestratorConfig{})
}

// phonesSearch serves one page per band: the cheap band has an item whose
// price belongs to the expensive band, which must be rejected rather than
// re-filed.
func phonesSearch() *fakeSearch {
	return &fakeSearch{fn: func(query string, page int, locale string) ([]model.RawListingItem, error) {
		if page > 1 {
			return nil, nil
		}
		switch {
		case strings.Contains(query, "under 5000"):
			return []model.RawListingItem{
				listing("B0CHEAP001", "Acme Budget Smartphone 32GB", "₹1,500"),
				listing("B0CHEAP002", "Acme Budget Smartphone 64GB", "₹3,200"),
				listing("B0WRONG001", "Acme Midrange Smartphone 128GB", "₹7,000"),
			}, nil
		case strings.Contains(query, "under 10000"):
			return []model.RawListingItem{
				listing("B0MID00001", "Acme Midrange Smartphone 128GB", "₹7,000"),
			}, nil
		default:
			return nil, nil
		}
	}}
}

func TestRunCategoryHarvestsAcrossBands(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	products := newFakeProductStore()
	search := phonesSearch()
	orch := newTestOrchestrator(cats, products, search, clock)

	result, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if err != nil {
		t.Fatalf("RunCategory: %v", err)
	}

	if result.Processed != 4 || result.Success != 3 || result.Failed != 1 {
		t.Errorf("processed/success/failed = %d/%d/%d, want 4/3/1",
			result.Processed, result.Success, result.Failed)
	}
	if result.Added != 3 || result.Updated != 0 {
		t.Errorf("added/updated = %d/%d, want 3/0", result.Added, result.Updated)
	}
	if len(result.PerBand) != 2 {
		t.Fatalf("expected 2 band results, got %d", len(result.PerBand))
	}
	if result.PerBand[0].Band != "under_5000" || result.PerBand[0].Failed != 1 {
		t.Errorf("band 0 = %+v", result.PerBand[0])
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "outside") {
		t.Errorf("expected an out-of-band rejection error, got %v", result.Errors)
	}
	if products.CountProducts() != 3 {
		t.Errorf("store has %d products, want 3", products.CountProducts())
	}

	cat, _ := cats.GetCategory("phones")
	if cat.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", cat.Status)
	}
	if cat.LastSyncAt.IsZero() {
		t.Error("last sync timestamp not advanced")
	}
	if cat.LastRun == nil || cat.LastRun.Success != 3 {
		t.Errorf("run summary not recorded: %+v", cat.LastRun)
	}

	// The run walks the full status ladder.
	want := []model.SyncStatus{model.StatusQueued, model.StatusInProgress, model.StatusCompleted}
	got := cats.statuses("phones")
	if len(got) != len(want) {
		t.Fatalf("status transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status transitions = %v, want %v", got, want)
		}
	}
}

func TestRunCategoryRerunIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	products := newFakeProductStore()
	orch := newTestOrchestrator(cats, products, phonesSearch(), clock)

	if _, err := orch.RunCategory(context.Background(), "phones", RunOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Added != 0 || result.Updated != 3 {
		t.Errorf("second run added/updated = %d/%d, want 0/3", result.Added, result.Updated)
	}
	if products.CountProducts() != 3 {
		t.Errorf("store has %d products, want 3", products.CountProducts())
	}
}

func TestRunCategoryFailsFastOnBadBandSetup(t *testing.T) {
	cat := phonesCategory()
	cat.Bands = nil
	cat.Domain = model.PriceDomain{Min: 9000, Max: 5000, Step: 1000}
	clock := newFakeClock()
	cats := newFakeCategoryStore(cat)
	search := phonesSearch()
	orch := newTestOrchestrator(cats, newFakeProductStore(), search, clock)

	_, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if !IsConfigError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if search.callCount() != 0 {
		t.Errorf("no external call expected, got %d", search.callCount())
	}
	if got := cats.statuses("phones"); len(got) != 0 {
		t.Errorf("no status change expected, got %v", got)
	}
}

func TestRunCategoryRejectsInactive(t *testing.T) {
	cat := phonesCategory()
	cat.Active = false
	clock := newFakeClock()
	orch := newTestOrchestrator(newFakeCategoryStore(cat), newFakeProductStore(), phonesSearch(), clock)

	if _, err := orch.RunCategory(context.Background(), "phones", RunOptions{}); err == nil {
		t.Fatal("expected error for inactive category")
	}
}

func TestRunCategoryTerminalErrorFailsRun(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	search := &fakeSearch{fn: func(string, int, string) ([]model.RawListingItem, error) {
		return nil, &marketplace.TerminalError{Op: "search", Status: 402, Err: errors.New("quota exhausted")}
	}}
	orch := newTestOrchestrator(cats, newFakeProductStore(), search, clock)

	_, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if !marketplace.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	cat, _ := cats.GetCategory("phones")
	if cat.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", cat.Status)
	}
	if cat.LastRun == nil || len(cat.LastRun.Errors) == 0 {
		t.Error("failure not recorded in run summary")
	}
}

func TestRunCategoryTransientPageFailureIsIsolated(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	products := newFakeProductStore()
	search := &fakeSearch{fn: func(query string, page int, locale string) ([]model.RawListingItem, error) {
		if strings.Contains(query, "under 5000") {
			return nil, &marketplace.TransientError{Op: "search", Err: errors.New("connection reset")}
		}
		if page == 1 {
			return []model.RawListingItem{
				listing("B0MID00001", "Acme Midrange Smartphone 128GB", "₹7,000"),
			}, nil
		}
		return nil, nil
	}}
	orch := newTestOrchestrator(cats, products, search, clock)

	result, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if err != nil {
		t.Fatalf("a failing band must not fail the category: %v", err)
	}
	if result.Success != 1 {
		t.Errorf("success = %d, want 1 from the surviving band", result.Success)
	}
	if len(result.Errors) == 0 {
		t.Error("band failure should be reported in errors")
	}
	cat, _ := cats.GetCategory("phones")
	if cat.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", cat.Status)
	}
}

func TestRunCategoryCapsItemsPerBand(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	products := newFakeProductStore()
	search := &fakeSearch{fn: func(query string, page int, locale string) ([]model.RawListingItem, error) {
		if page > 1 || !strings.Contains(query, "under 5000") {
			return nil, nil
		}
		return []model.RawListingItem{
			listing("B0CHEAP001", "Acme Budget Smartphone 32GB", "₹1,100"),
			listing("B0CHEAP002", "Acme Budget Smartphone 64GB", "₹1,200"),
			listing("B0CHEAP003", "Acme Budget Smartphone 96GB", "₹1,300"),
			listing("B0CHEAP004", "Acme Budget Smartphone 128GB", "₹1,400"),
			listing("B0CHEAP005", "Acme Budget Smartphone 256GB", "₹1,500"),
		}, nil
	}}
	orch := newTestOrchestrator(cats, products, search, clock)

	result, err := orch.RunCategory(context.Background(), "phones", RunOptions{MaxItemsPerBand: 2})
	if err != nil {
		t.Fatalf("RunCategory: %v", err)
	}
	if result.Success != 2 {
		t.Errorf("success = %d, want the per-band cap of 2", result.Success)
	}
	if products.CountProducts() != 2 {
		t.Errorf("store has %d products, want 2", products.CountProducts())
	}
}

func TestRunCategorySkipExisting(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	seeded := []*model.CanonicalProduct{
		{ExternalID: "B0OLD00001", Title: "Acme Budget Smartphone 32GB", CategoryID: "phones", Price: 1500},
		{ExternalID: "B0OLD00002", Title: "Acme Budget Smartphone 64GB", CategoryID: "phones", Price: 3000},
	}
	products := newFakeProductStore(seeded...)
	search := phonesSearch()
	orch := newTestOrchestrator(cats, products, search, clock)

	result, err := orch.RunCategory(context.Background(), "phones",
		RunOptions{MaxItemsPerBand: 2, SkipExisting: true})
	if err != nil {
		t.Fatalf("RunCategory: %v", err)
	}
	if result.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", result.Skipped)
	}
	// Only the second band should have been searched.
	for _, br := range result.PerBand {
		if br.Band == "under_5000" {
			t.Error("full band should not appear in per-band results")
		}
	}
	if result.Success != 1 {
		t.Errorf("success = %d, want 1 from the second band", result.Success)
	}
}

func TestRunAllIsolatesCategoryFailures(t *testing.T) {
	broken := phonesCategory()
	broken.ID = "broken"
	broken.Name = "Broken"
	broken.Bands = nil
	broken.Domain = model.PriceDomain{Min: 100, Max: 100, Step: 10}

	clock := newFakeClock()
	cats := newFakeCategoryStore(broken, phonesCategory())
	products := newFakeProductStore()
	orch := newTestOrchestrator(cats, products, phonesSearch(), clock)

	agg, err := orch.RunAll(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if agg.Categories != 2 || agg.Succeeded != 1 || agg.FailedCategories != 1 {
		t.Errorf("categories/succeeded/failed = %d/%d/%d, want 2/1/1",
			agg.Categories, agg.Succeeded, agg.FailedCategories)
	}
	if len(agg.Errors) != 1 || !strings.Contains(agg.Errors[0], "Broken") {
		t.Errorf("batch errors = %v", agg.Errors)
	}
	if products.CountProducts() != 3 {
		t.Errorf("healthy category should still sync, got %d products", products.CountProducts())
	}

	status := orch.Status()
	if status.Running {
		t.Error("batch should be finished")
	}
	if status.LastRun == nil || status.LastRun.Categories != 2 {
		t.Errorf("last run not recorded: %+v", status.LastRun)
	}
}

func TestPreviewDoesNotPersist(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	products := newFakeProductStore()
	orch := newTestOrchestrator(cats, products, phonesSearch(), clock)

	candidates, err := orch.Preview(context.Background(), "phones", RunOptions{})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(candidates) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(candidates))
	}
	if products.CountProducts() != 0 {
		t.Error("preview must not persist products")
	}
	if got := cats.statuses("phones"); len(got) != 0 {
		t.Errorf("preview must not touch category status, got %v", got)
	}
}

func TestStopRequeuesCategory(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	products := newFakeProductStore()
	var orch *Orchestrator
	search := &fakeSearch{fn: func(string, int, string) ([]model.RawListingItem, error) {
		orch.Stop()
		return nil, nil
	}}
	orch = newTestOrchestrator(cats, products, search, clock)

	_, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	cat, _ := cats.GetCategory("phones")
	if cat.Status != model.StatusQueued {
		t.Errorf("status = %q, want queued for resumption", cat.Status)
	}
}

func TestStopDoesNotLatchAcrossRuns(t *testing.T) {
	clock := newFakeClock()
	cats := newFakeCategoryStore(phonesCategory())
	products := newFakeProductStore()
	search := phonesSearch()
	orch := newTestOrchestrator(cats, products, search, clock)

	// A stop request with nothing in flight must not poison later runs,
	// manual or scheduled.
	orch.Stop()
	result, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if err != nil {
		t.Fatalf("run after stop: %v", err)
	}
	if result.Added != 3 {
		t.Errorf("added = %d, want 3", result.Added)
	}
	cat, _ := cats.GetCategory("phones")
	if cat.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", cat.Status)
	}
}

func TestRunCategoryRefusesInFlightCategory(t *testing.T) {
	cat := phonesCategory()
	cat.Status = model.StatusInProgress
	clock := newFakeClock()
	cats := newFakeCategoryStore(cat)
	search := phonesSearch()
	orch := newTestOrchestrator(cats, newFakeProductStore(), search, clock)

	_, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if search.callCount() != 0 {
		t.Errorf("no harvest expected, got %d search calls", search.callCount())
	}
	got, _ := cats.GetCategory("phones")
	if got.Status != model.StatusInProgress {
		t.Errorf("status = %q, want in_progress untouched", got.Status)
	}
}

func TestRunCategoryBoundsRetainedErrors(t *testing.T) {
	cat := phonesCategory()
	cat.Bands = nil
	cat.Domain = model.PriceDomain{Min: 0, Max: 100000, Step: 5000}
	clock := newFakeClock()
	cats := newFakeCategoryStore(cat)
	products := newFakeProductStore()
	search := &fakeSearch{fn: func(string, int, string) ([]model.RawListingItem, error) {
		return nil, &marketplace.TransientError{Op: "search", Err: errors.New("connection reset")}
	}}
	engine := NewUpsertEngine(products, 10)
	orch := NewOrchestrator(cats, products, engine, search, testNormalizer(clock),
		silentPacer(clock), clock, OrchestratorConfig{ErrorCap: 3})

	result, err := orch.RunCategory(context.Background(), "phones", RunOptions{})
	if err != nil {
		t.Fatalf("RunCategory: %v", err)
	}
	if len(result.PerBand) != 20 {
		t.Fatalf("bands harvested = %d, want 20", len(result.PerBand))
	}
	if len(result.Errors) != 3 {
		t.Errorf("retained errors = %d, want the cap of 3", len(result.Errors))
	}
}
