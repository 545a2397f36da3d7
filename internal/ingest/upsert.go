package ingest

import (
	"fmt"
	"strings"

	"catalog-sync/internal/model"
	"catalog-sync/internal/store"
)

// UpsertAction tells the caller what the engine did with a candidate.
type UpsertAction string

const (
	ActionInserted UpsertAction = "inserted"
	ActionUpdated  UpsertAction = "updated"
	ActionRejected UpsertAction = "rejected"
)

// UpsertOutcome is the result of one upsert attempt. Reason is set only for
// rejections.
type UpsertOutcome struct {
	Action UpsertAction
	Reason string
}

// UpsertEngine performs idempotent insert-or-merge against the product
// store, keyed by external identifier. Candidate fields always win the
// merge; only creation metadata is preserved from the stored record.
type UpsertEngine struct {
	products    store.ProductStore
	minTitleLen int
}

// NewUpsertEngine creates an engine over the given product store.
func NewUpsertEngine(products store.ProductStore, minTitleLen int) *UpsertEngine {
	return &UpsertEngine{products: products, minTitleLen: minTitleLen}
}

// Upsert validates and persists a candidate. A rejected outcome carries the
// validation reason and no error; an error is a persistence failure.
func (e *UpsertEngine) Upsert(candidate *model.CanonicalProduct) (UpsertOutcome, error) {
	existing, found := e.products.GetByExternalID(candidate.ExternalID)
	if found {
		// Candidate wins, but creation metadata survives the merge.
		candidate.CreatedAt = existing.CreatedAt
		if candidate.Sync.LastSyncAt.IsZero() {
			candidate.Sync.LastSyncAt = existing.Sync.LastSyncAt
		}
		if len(candidate.Images) == 0 {
			candidate.Images = existing.Images
			candidate.PrimaryImage = existing.PrimaryImage
		}
	}

	if errs := candidate.Validate(e.minTitleLen); len(errs) > 0 {
		return UpsertOutcome{
			Action: ActionRejected,
			Reason: strings.Join(errs, "; "),
		}, nil
	}

	created, err := e.products.UpsertProduct(candidate)
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("persist %s: %w", candidate.ExternalID, err)
	}
	if created {
		return UpsertOutcome{Action: ActionInserted}, nil
	}
	return UpsertOutcome{Action: ActionUpdated}, nil
}
