package store

import (
	"time"

	"catalog-sync/internal/model"
)

// CategoryStore is the category-side persistence collaborator. The
// orchestrator and scheduler only mutate sync status fields; category
// definitions are administered elsewhere.
type CategoryStore interface {
	GetCategory(id string) (*model.Category, bool)
	GetActiveCategories() []*model.Category
	CreateCategory(c *model.Category) error
	UpdateCategory(c *model.Category) error

	// SetSyncStatus moves a category to the given status.
	SetSyncStatus(id string, status model.SyncStatus) error
	// ClaimCategory atomically moves a category from one status to another
	// and reports whether the claim won. Prevents double-processing when
	// more than one orchestrator shares the store.
	ClaimCategory(id string, from, to model.SyncStatus) (bool, error)
	// CompleteSyncRun records the terminal status, advances lastSyncAt and
	// stores the bounded run summary.
	CompleteSyncRun(id string, status model.SyncStatus, at time.Time, summary *model.RunSummary) error
	// ResetInFlight reverts every in_progress category to queued so a later
	// run can safely resume it.
	ResetInFlight() (int, error)
}

// ProductStore is the product-side persistence collaborator, keyed by
// external identifier.
type ProductStore interface {
	GetByExternalID(externalID string) (*model.CanonicalProduct, bool)
	GetProductsByCategory(categoryID string) []*model.CanonicalProduct
	// UpsertProduct inserts or replaces the record and reports whether a new
	// row was created.
	UpsertProduct(p *model.CanonicalProduct) (created bool, err error)
	// CountInBand counts active products of a category inside [min, max).
	CountInBand(categoryID string, min, max float64) (int, error)
	// FindStale returns up to limit products whose lastSyncAt is unset or
	// older than cutoff, oldest first.
	FindStale(cutoff time.Time, limit int) ([]*model.CanonicalProduct, error)
	// MarkItemSync records the per-item refresh outcome.
	MarkItemSync(externalID string, status model.ItemSyncStatus, errMsg string, at time.Time) error
	CountProducts() int
	DeleteScrapedBefore(cutoff time.Time) (int, error)
}

// Clock abstracts time for the orchestrator and scheduler.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
