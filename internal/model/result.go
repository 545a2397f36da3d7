package model

import "time"

// BandResult accumulates per-band counters. success + failed <= processed
// always holds: skipped items count toward processed only.
type BandResult struct {
	Band      string   `json:"band"`
	Processed int      `json:"processed"`
	Success   int      `json:"success"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// RunResult is the category-level rollup of one sync run.
type RunResult struct {
	CategoryID   string       `json:"category_id"`
	CategoryName string       `json:"category_name"`
	Processed    int          `json:"processed"`
	Success      int          `json:"success"`
	Failed       int          `json:"failed"`
	Added        int          `json:"added"`
	Updated      int          `json:"updated"`
	Skipped      int          `json:"skipped"`
	PerBand      []BandResult `json:"per_band,omitempty"`
	Errors       []string     `json:"errors,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// Summary trims a run result down to the bounded form persisted with the
// category.
func (r *RunResult) Summary(errorCap int) *RunSummary {
	errs := r.Errors
	if len(errs) > errorCap {
		errs = errs[:errorCap]
	}
	return &RunSummary{
		Processed:  r.Processed,
		Success:    r.Success,
		Failed:     r.Failed,
		Errors:     errs,
		FinishedAt: r.FinishedAt,
	}
}

// RunSummary is the bounded run record stored on the category. Unbounded
// detail belongs to logs, not persisted state.
type RunSummary struct {
	Processed  int       `json:"processed"`
	Success    int       `json:"success"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// AggregateResult rolls category runs up to the batch level.
type AggregateResult struct {
	Categories       int         `json:"categories"`
	Succeeded        int         `json:"succeeded"`
	FailedCategories int         `json:"failed_categories"`
	Processed        int         `json:"processed"`
	Success          int         `json:"success"`
	Failed           int         `json:"failed"`
	Results          []RunResult `json:"results,omitempty"`
	Errors           []string    `json:"errors,omitempty"`
	StartedAt        time.Time   `json:"started_at"`
	FinishedAt       time.Time   `json:"finished_at"`
}

// RefreshResult summarizes one stale-item sweep.
type RefreshResult struct {
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}
