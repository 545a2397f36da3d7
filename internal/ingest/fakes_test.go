package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"catalog-sync/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeCategoryStore struct {
	mu        sync.Mutex
	cats      map[string]*model.Category
	statusLog map[string][]model.SyncStatus
}

func newFakeCategoryStore(cats ...*model.Category) *fakeCategoryStore {
	s := &fakeCategoryStore{
		cats:      make(map[string]*model.Category),
		statusLog: make(map[string][]model.SyncStatus),
	}
	for _, c := range cats {
		s.cats[c.ID] = c
	}
	return s
}

func (s *fakeCategoryStore) GetCategory(id string) (*model.Category, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cats[id]
	return c, ok
}

func (s *fakeCategoryStore) GetActiveCategories() []*model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Category
	for _, c := range s.cats {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeCategoryStore) CreateCategory(c *model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cats[c.ID]; exists {
		return fmt.Errorf("category %s already exists", c.ID)
	}
	s.cats[c.ID] = c
	return nil
}

func (s *fakeCategoryStore) UpdateCategory(c *model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cats[c.ID]; !exists {
		return fmt.Errorf("category %s not found", c.ID)
	}
	s.cats[c.ID] = c
	return nil
}

func (s *fakeCategoryStore) SetSyncStatus(id string, status model.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cats[id]
	if !ok {
		return fmt.Errorf("category %s not found", id)
	}
	c.Status = status
	s.statusLog[id] = append(s.statusLog[id], status)
	return nil
}

func (s *fakeCategoryStore) ClaimCategory(id string, from, to model.SyncStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cats[id]
	if !ok {
		return false, fmt.Errorf("category %s not found", id)
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	s.statusLog[id] = append(s.statusLog[id], to)
	return true, nil
}

func (s *fakeCategoryStore) CompleteSyncRun(id string, status model.SyncStatus, at time.Time, summary *model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cats[id]
	if !ok {
		return fmt.Errorf("category %s not found", id)
	}
	c.Status = status
	if at.After(c.LastSyncAt) {
		c.LastSyncAt = at
	}
	c.LastRun = summary
	s.statusLog[id] = append(s.statusLog[id], status)
	return nil
}

func (s *fakeCategoryStore) ResetInFlight() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.cats {
		if c.Status == model.StatusInProgress {
			c.Status = model.StatusQueued
			n++
		}
	}
	return n, nil
}

func (s *fakeCategoryStore) statuses(id string) []model.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SyncStatus(nil), s.statusLog[id]...)
}

type markCall struct {
	externalID string
	status     model.ItemSyncStatus
	errMsg     string
}

type fakeProductStore struct {
	mu        sync.Mutex
	items     map[string]*model.CanonicalProduct
	upsertErr error
	marks     []markCall
}

func newFakeProductStore(items ...*model.CanonicalProduct) *fakeProductStore {
	s := &fakeProductStore{items: make(map[string]*model.CanonicalProduct)}
	for _, p := range items {
		s.items[p.ExternalID] = p
	}
	return s
}

func (s *fakeProductStore) GetByExternalID(externalID string) (*model.CanonicalProduct, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[externalID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (s *fakeProductStore) GetProductsByCategory(categoryID string) []*model.CanonicalProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CanonicalProduct
	for _, p := range s.items {
		if p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeProductStore) UpsertProduct(p *model.CanonicalProduct) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return false, s.upsertErr
	}
	_, exists := s.items[p.ExternalID]
	cp := *p
	s.items[p.ExternalID] = &cp
	return !exists, nil
}

func (s *fakeProductStore) CountInBand(categoryID string, min, max float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.items {
		if p.CategoryID == categoryID && p.Price >= min && p.Price < max {
			n++
		}
	}
	return n, nil
}

func (s *fakeProductStore) FindStale(cutoff time.Time, limit int) ([]*model.CanonicalProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CanonicalProduct
	for _, p := range s.items {
		if p.Sync.LastSyncAt.IsZero() || p.Sync.LastSyncAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sync.LastSyncAt.Equal(out[j].Sync.LastSyncAt) {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].Sync.LastSyncAt.Before(out[j].Sync.LastSyncAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeProductStore) MarkItemSync(externalID string, status model.ItemSyncStatus, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = append(s.marks, markCall{externalID: externalID, status: status, errMsg: errMsg})
	if p, ok := s.items[externalID]; ok {
		p.Sync.LastSyncAt = at
		p.Sync.Status = status
		p.Sync.ErrorMessage = errMsg
	}
	return nil
}

func (s *fakeProductStore) CountProducts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *fakeProductStore) DeleteScrapedBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.items {
		if p.Sync.ScrapedAt.Before(cutoff) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

type fakeSearch struct {
	mu    sync.Mutex
	fn    func(query string, page int, locale string) ([]model.RawListingItem, error)
	calls int
}

func (f *fakeSearch) SearchPage(_ context.Context, query string, page int, locale string) ([]model.RawListingItem, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(query, page, locale)
}

func (f *fakeSearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDetail struct {
	fn func(externalID string) (model.RawListingItem, error)
}

func (f *fakeDetail) FetchDetail(_ context.Context, externalID string) (model.RawListingItem, error) {
	return f.fn(externalID)
}

func testNormalizer(clock *fakeClock) *Normalizer {
	return &Normalizer{
		MinTitleLen:      10,
		PriceSanityFloor: 1000,
		ConversionRate:   83,
		Currency:         "INR",
		Clock:            clock,
	}
}

func silentPacer(clock *fakeClock) *Pacer {
	return NewPacer(0, 0, 0, clock)
}

func listing(id, title, priceText string) model.RawListingItem {
	return model.RawListingItem{
		ExternalID: id,
		Title:      title,
		PriceText:  priceText,
		Rating:     4.2,
		Reviews:    250,
		URL:        "https://marketplace.example/dp/" + id,
	}
}
