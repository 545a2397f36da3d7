package model

import (
	"strings"
	"time"
)

// SyncFrequency controls how often a category is re-synced automatically.
type SyncFrequency string

const (
	FrequencyHourly SyncFrequency = "hourly"
	FrequencyDaily  SyncFrequency = "daily"
	FrequencyWeekly SyncFrequency = "weekly"
	FrequencyManual SyncFrequency = "manual"
)

// Interval returns the refresh interval for the frequency. Manual and
// unknown frequencies return false.
func (f SyncFrequency) Interval() (time.Duration, bool) {
	switch f {
	case FrequencyHourly:
		return time.Hour, true
	case FrequencyDaily:
		return 24 * time.Hour, true
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// SyncStatus is the per-category run state. Transitions within a run are
// monotonic: pending -> queued -> in_progress -> completed|failed.
type SyncStatus string

const (
	StatusPending    SyncStatus = "pending"
	StatusQueued     SyncStatus = "queued"
	StatusInProgress SyncStatus = "in_progress"
	StatusCompleted  SyncStatus = "completed"
	StatusFailed     SyncStatus = "failed"
)

// SyncConfig describes how the orchestrator should harvest a category.
type SyncConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Frequency       SyncFrequency `json:"frequency" yaml:"frequency"`
	MaxItemsPerBand int           `json:"max_items_per_band" yaml:"max_items_per_band"`
	Queries         []string      `json:"queries,omitempty" yaml:"queries"`
}

// PriceDomain is the price interval a category's bands must cover.
type PriceDomain struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Step float64 `json:"step" yaml:"step"`
}

// PriceBand is a half-open interval [Min, Max). Bands for a category are
// contiguous, non-overlapping, and cover the category's domain exactly.
type PriceBand struct {
	Label     string  `json:"label" yaml:"label"`
	Min       float64 `json:"min" yaml:"min"`
	Max       float64 `json:"max" yaml:"max"`
	QueryHint string  `json:"query_hint,omitempty" yaml:"query_hint"`
}

// Contains reports whether price falls inside the band.
func (b PriceBand) Contains(price float64) bool {
	return price >= b.Min && price < b.Max
}

// Category is a marketplace segment administered by operators. Status fields
// are mutated only by the orchestrator and scheduler.
type Category struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Active bool   `json:"active"`

	Sync   SyncConfig  `json:"sync"`
	Domain PriceDomain `json:"domain"`
	// Bands, when non-empty, overrides generation from Domain.
	Bands []PriceBand `json:"bands,omitempty"`

	Status     SyncStatus  `json:"status"`
	LastSyncAt time.Time   `json:"last_sync_at,omitempty"`
	LastRun    *RunSummary `json:"last_run,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchTerms joins the category name with its seed queries into the base
// search string, to which a band's query hint is appended per band.
func (c *Category) SearchTerms() string {
	terms := append([]string{c.Name}, c.Sync.Queries...)
	return strings.Join(terms, " ")
}

// Slugify derives a URL-safe slug from a category name.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
