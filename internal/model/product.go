package model

import (
	"fmt"
	"time"
)

// QualityTier is a coarse score derived from rating, review volume, badges
// and title richness.
type QualityTier string

const (
	QualityHigh   QualityTier = "high"
	QualityMedium QualityTier = "medium"
	QualityLow    QualityTier = "low"
)

// ItemSyncStatus tracks the last refresh outcome for a single product.
type ItemSyncStatus string

const (
	ItemSyncPending ItemSyncStatus = "pending"
	ItemSyncSuccess ItemSyncStatus = "success"
	ItemSyncFailed  ItemSyncStatus = "failed"
)

// Badges carries the merchant badge flags a listing was shown with.
type Badges struct {
	Prime      bool `json:"prime,omitempty"`
	BestSeller bool `json:"best_seller,omitempty"`
	TopChoice  bool `json:"top_choice,omitempty"`
}

// Any reports whether at least one badge is set.
func (b Badges) Any() bool {
	return b.Prime || b.BestSeller || b.TopChoice
}

// RawListingItem is the opaque payload returned by the search and detail
// APIs. Field presence varies per marketplace; the normalizer deals with it.
type RawListingItem struct {
	Title        string  `json:"title"`
	PriceText    string  `json:"price"`
	Rating       float64 `json:"rating"`
	Reviews      int     `json:"total_reviews"`
	ImageURL     string  `json:"image"`
	URL          string  `json:"url"`
	ExternalID   string  `json:"external_id"`
	Availability string  `json:"availability,omitempty"`
	Badges       Badges  `json:"badges"`
}

// Rating aggregates review data for a product.
type Rating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// Discount is the difference between original and current price.
type Discount struct {
	Amount  float64 `json:"amount,omitempty"`
	Percent float64 `json:"percent,omitempty"`
}

// SyncMeta records when and how a product was harvested.
type SyncMeta struct {
	ScrapedAt    time.Time      `json:"scraped_at"`
	LastSyncAt   time.Time      `json:"last_sync_at,omitempty"`
	Status       ItemSyncStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	SourceQuery  string         `json:"source_query,omitempty"`
}

// CanonicalProduct is the normalized catalog record. ExternalID is the
// marketplace's listing key and uniquely determines a product.
type CanonicalProduct struct {
	ExternalID   string `json:"external_id"`
	Title        string `json:"title"`
	Brand        string `json:"brand,omitempty"`
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`

	Price         float64  `json:"price"`
	OriginalPrice float64  `json:"original_price,omitempty"`
	Currency      string   `json:"currency"`
	Discount      Discount `json:"discount,omitempty"`

	Rating       Rating   `json:"rating"`
	Images       []string `json:"images,omitempty"`
	PrimaryImage string   `json:"primary_image,omitempty"`
	URL          string   `json:"url"`

	Quality      QualityTier `json:"quality"`
	Availability string      `json:"availability"`
	Badges       Badges      `json:"badges"`

	BandLabel string `json:"band_label,omitempty"`
	Position  int    `json:"position,omitempty"`

	Sync SyncMeta `json:"sync"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate returns the list of store-level validation failures. An empty
// slice means the record is persistable.
func (p *CanonicalProduct) Validate(minTitleLen int) []string {
	var errs []string
	if p.ExternalID == "" {
		errs = append(errs, "missing external identifier")
	}
	if len(p.Title) < minTitleLen {
		errs = append(errs, fmt.Sprintf("title shorter than %d characters", minTitleLen))
	}
	if p.Price <= 0 {
		errs = append(errs, "price must be positive")
	}
	if p.CategoryID == "" {
		errs = append(errs, "missing category reference")
	}
	return errs
}
