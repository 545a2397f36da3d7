package ingest

import (
	"sync"
	"time"

	"catalog-sync/internal/store"
)

// PaceLevel selects which spacing minimum a wait applies to.
type PaceLevel int

const (
	LevelPage PaceLevel = iota
	LevelBand
	LevelCategory
)

// Pacer enforces a minimum delay between successive calls at each nesting
// level of the harvest loop. It replaces the ad hoc sleeps scattered through
// earlier sync code so spacing policy is testable in isolation.
type Pacer struct {
	minimums map[PaceLevel]time.Duration
	clock    store.Clock
	sleep    func(time.Duration)

	mu   sync.Mutex
	last map[PaceLevel]time.Time
}

// NewPacer builds a pacer with per-level minimum spacings.
func NewPacer(page, band, category time.Duration, clock store.Clock) *Pacer {
	return &Pacer{
		minimums: map[PaceLevel]time.Duration{
			LevelPage:     page,
			LevelBand:     band,
			LevelCategory: category,
		},
		clock: clock,
		sleep: time.Sleep,
		last:  make(map[PaceLevel]time.Time),
	}
}

// Wait blocks until at least the level's minimum spacing has elapsed since
// the previous Wait at that level. The first call per level returns
// immediately.
func (p *Pacer) Wait(level PaceLevel) {
	p.mu.Lock()
	min := p.minimums[level]
	now := p.clock.Now()
	var wait time.Duration
	if last, ok := p.last[level]; ok {
		if elapsed := now.Sub(last); elapsed < min {
			wait = min - elapsed
		}
	}
	p.last[level] = now.Add(wait)
	p.mu.Unlock()

	if wait > 0 {
		p.sleep(wait)
	}
}
