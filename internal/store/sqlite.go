package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"catalog-sync/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements CategoryStore and ProductStore on a single SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLite opens (and migrates) the catalog database under dataDir.
func NewSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "catalog-sync.db")

	// WAL mode and foreign keys, with a busy timeout for concurrent writers
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		slug TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		sync_enabled INTEGER NOT NULL DEFAULT 1,
		sync_frequency TEXT NOT NULL DEFAULT 'daily',
		max_items_per_band INTEGER NOT NULL DEFAULT 20,
		seed_queries TEXT DEFAULT '[]',
		price_min REAL NOT NULL DEFAULT 0,
		price_max REAL NOT NULL DEFAULT 0,
		price_step REAL NOT NULL DEFAULT 0,
		bands TEXT DEFAULT '[]',
		sync_status TEXT NOT NULL DEFAULT 'pending',
		last_sync_at INTEGER,
		last_run TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		external_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		brand TEXT,
		category_id TEXT NOT NULL,
		category_name TEXT NOT NULL,
		price REAL NOT NULL,
		original_price REAL,
		currency TEXT NOT NULL DEFAULT 'INR',
		discount_amount REAL,
		discount_pct REAL,
		rating_avg REAL NOT NULL DEFAULT 0,
		rating_count INTEGER NOT NULL DEFAULT 0,
		images TEXT DEFAULT '[]',
		primary_image TEXT,
		url TEXT NOT NULL,
		quality TEXT NOT NULL DEFAULT 'medium',
		availability TEXT NOT NULL DEFAULT 'unknown',
		badges TEXT DEFAULT '{}',
		band_label TEXT,
		position INTEGER,
		source_query TEXT,
		scraped_at INTEGER NOT NULL,
		last_sync_at INTEGER,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		sync_error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);
	CREATE INDEX IF NOT EXISTS idx_products_price ON products(category_id, price);
	CREATE INDEX IF NOT EXISTS idx_products_last_sync ON products(last_sync_at);
	CREATE INDEX IF NOT EXISTS idx_categories_status ON categories(sync_status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- CategoryStore ----

const categoryColumns = `id, name, slug, active, sync_enabled, sync_frequency,
	max_items_per_band, seed_queries, price_min, price_max, price_step, bands,
	sync_status, last_sync_at, last_run, created_at, updated_at`

func (s *SQLiteStore) scanCategory(row interface{ Scan(...any) error }) (*model.Category, error) {
	c := &model.Category{}
	var active, enabled int
	var frequency, queriesJSON, bandsJSON string
	var lastSync sql.NullInt64
	var lastRun sql.NullString
	var created, updated int64

	err := row.Scan(&c.ID, &c.Name, &c.Slug, &active, &enabled, &frequency,
		&c.Sync.MaxItemsPerBand, &queriesJSON, &c.Domain.Min, &c.Domain.Max,
		&c.Domain.Step, &bandsJSON, &c.Status, &lastSync, &lastRun, &created, &updated)
	if err != nil {
		return nil, err
	}

	c.Active = active != 0
	c.Sync.Enabled = enabled != 0
	c.Sync.Frequency = model.SyncFrequency(frequency)
	_ = json.Unmarshal([]byte(queriesJSON), &c.Sync.Queries)
	_ = json.Unmarshal([]byte(bandsJSON), &c.Bands)
	if lastSync.Valid && lastSync.Int64 > 0 {
		c.LastSyncAt = time.Unix(lastSync.Int64, 0)
	}
	if lastRun.Valid && lastRun.String != "" {
		c.LastRun = &model.RunSummary{}
		_ = json.Unmarshal([]byte(lastRun.String), c.LastRun)
	}
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return c, nil
}

// GetCategory returns a category by ID.
func (s *SQLiteStore) GetCategory(id string) (*model.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	c, err := s.scanCategory(row)
	if err != nil {
		return nil, false
	}
	return c, true
}

// GetActiveCategories returns all active categories ordered by name.
func (s *SQLiteStore) GetActiveCategories() []*model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + categoryColumns + ` FROM categories WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*model.Category
	for rows.Next() {
		c, err := s.scanCategory(rows)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CreateCategory inserts a new category definition.
func (s *SQLiteStore) CreateCategory(c *model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Slug == "" {
		c.Slug = model.Slugify(c.Name)
	}
	if c.Status == "" {
		c.Status = model.StatusPending
	}

	queries, _ := json.Marshal(c.Sync.Queries)
	bands, _ := json.Marshal(c.Bands)

	_, err := s.db.Exec(`
		INSERT INTO categories (id, name, slug, active, sync_enabled, sync_frequency,
			max_items_per_band, seed_queries, price_min, price_max, price_step, bands,
			sync_status, last_sync_at, last_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Slug, boolInt(c.Active), boolInt(c.Sync.Enabled),
		string(c.Sync.Frequency), c.Sync.MaxItemsPerBand, string(queries),
		c.Domain.Min, c.Domain.Max, c.Domain.Step, string(bands),
		string(c.Status), unixOrNull(c.LastSyncAt), nil,
		c.CreatedAt.Unix(), c.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create category %s: %w", c.Name, err)
	}
	return nil
}

// UpdateCategory rewrites a category definition, preserving status fields.
func (s *SQLiteStore) UpdateCategory(c *model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queries, _ := json.Marshal(c.Sync.Queries)
	bands, _ := json.Marshal(c.Bands)

	res, err := s.db.Exec(`
		UPDATE categories SET name = ?, slug = ?, active = ?, sync_enabled = ?,
			sync_frequency = ?, max_items_per_band = ?, seed_queries = ?,
			price_min = ?, price_max = ?, price_step = ?, bands = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Slug, boolInt(c.Active), boolInt(c.Sync.Enabled),
		string(c.Sync.Frequency), c.Sync.MaxItemsPerBand, string(queries),
		c.Domain.Min, c.Domain.Max, c.Domain.Step, string(bands),
		time.Now().Unix(), c.ID)
	if err != nil {
		return fmt.Errorf("update category %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update category %s: not found", c.ID)
	}
	return nil
}

// SetSyncStatus moves a category to the given status.
func (s *SQLiteStore) SetSyncStatus(id string, status model.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE categories SET sync_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set status for %s: not found", id)
	}
	return nil
}

// ClaimCategory performs a compare-and-set on sync_status.
func (s *SQLiteStore) ClaimCategory(id string, from, to model.SyncStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE categories SET sync_status = ?, updated_at = ? WHERE id = ? AND sync_status = ?`,
		string(to), time.Now().Unix(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("claim category %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteSyncRun records the terminal run status. lastSyncAt only moves
// forward.
func (s *SQLiteStore) CompleteSyncRun(id string, status model.SyncStatus, at time.Time, summary *model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaryJSON any
	if summary != nil {
		b, _ := json.Marshal(summary)
		summaryJSON = string(b)
	}
	_, err := s.db.Exec(`
		UPDATE categories SET sync_status = ?,
			last_sync_at = MAX(COALESCE(last_sync_at, 0), ?),
			last_run = ?, updated_at = ?
		WHERE id = ?`,
		string(status), at.Unix(), summaryJSON, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("complete sync run for %s: %w", id, err)
	}
	return nil
}

// ResetInFlight reverts in_progress categories to queued.
func (s *SQLiteStore) ResetInFlight() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE categories SET sync_status = ?, updated_at = ? WHERE sync_status = ?`,
		string(model.StatusQueued), time.Now().Unix(), string(model.StatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("reset in-flight categories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- ProductStore ----

const productColumns = `external_id, title, brand, category_id, category_name,
	price, original_price, currency, discount_amount, discount_pct,
	rating_avg, rating_count, images, primary_image, url, quality,
	availability, badges, band_label, position, source_query,
	scraped_at, last_sync_at, sync_status, sync_error, created_at, updated_at`

func (s *SQLiteStore) scanProduct(row interface{ Scan(...any) error }) (*model.CanonicalProduct, error) {
	p := &model.CanonicalProduct{}
	var brand, primaryImage, bandLabel, sourceQuery, syncError sql.NullString
	var originalPrice, discountAmount, discountPct sql.NullFloat64
	var position, lastSync sql.NullInt64
	var imagesJSON, badgesJSON string
	var scraped, created, updated int64

	err := row.Scan(&p.ExternalID, &p.Title, &brand, &p.CategoryID, &p.CategoryName,
		&p.Price, &originalPrice, &p.Currency, &discountAmount, &discountPct,
		&p.Rating.Average, &p.Rating.Count, &imagesJSON, &primaryImage, &p.URL,
		&p.Quality, &p.Availability, &badgesJSON, &bandLabel, &position,
		&sourceQuery, &scraped, &lastSync, &p.Sync.Status, &syncError,
		&created, &updated)
	if err != nil {
		return nil, err
	}

	p.Brand = brand.String
	p.OriginalPrice = originalPrice.Float64
	p.Discount.Amount = discountAmount.Float64
	p.Discount.Percent = discountPct.Float64
	_ = json.Unmarshal([]byte(imagesJSON), &p.Images)
	_ = json.Unmarshal([]byte(badgesJSON), &p.Badges)
	p.PrimaryImage = primaryImage.String
	p.BandLabel = bandLabel.String
	p.Position = int(position.Int64)
	p.Sync.SourceQuery = sourceQuery.String
	p.Sync.ErrorMessage = syncError.String
	p.Sync.ScrapedAt = time.Unix(scraped, 0)
	if lastSync.Valid && lastSync.Int64 > 0 {
		p.Sync.LastSyncAt = time.Unix(lastSync.Int64, 0)
	}
	p.CreatedAt = time.Unix(created, 0)
	p.UpdatedAt = time.Unix(updated, 0)
	return p, nil
}

// GetByExternalID returns a product by its marketplace key.
func (s *SQLiteStore) GetByExternalID(externalID string) (*model.CanonicalProduct, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+productColumns+` FROM products WHERE external_id = ?`, externalID)
	p, err := s.scanProduct(row)
	if err != nil {
		return nil, false
	}
	return p, true
}

// GetProductsByCategory returns products of a category, newest first.
func (s *SQLiteStore) GetProductsByCategory(categoryID string) []*model.CanonicalProduct {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT `+productColumns+` FROM products WHERE category_id = ? ORDER BY updated_at DESC`,
		categoryID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*model.CanonicalProduct
	for rows.Next() {
		p, err := s.scanProduct(rows)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// UpsertProduct inserts or replaces a product keyed by external_id.
func (s *SQLiteStore) UpsertProduct(p *model.CanonicalProduct) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	created := false

	var existingCreated sql.NullInt64
	err := s.db.QueryRow(`SELECT created_at FROM products WHERE external_id = ?`, p.ExternalID).
		Scan(&existingCreated)
	switch {
	case err == sql.ErrNoRows:
		created = true
		p.CreatedAt = now
	case err != nil:
		return false, fmt.Errorf("lookup product %s: %w", p.ExternalID, err)
	default:
		p.CreatedAt = time.Unix(existingCreated.Int64, 0)
	}
	p.UpdatedAt = now

	images, _ := json.Marshal(p.Images)
	badges, _ := json.Marshal(p.Badges)

	_, err = s.db.Exec(`
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			title = excluded.title,
			brand = excluded.brand,
			category_id = excluded.category_id,
			category_name = excluded.category_name,
			price = excluded.price,
			original_price = excluded.original_price,
			currency = excluded.currency,
			discount_amount = excluded.discount_amount,
			discount_pct = excluded.discount_pct,
			rating_avg = excluded.rating_avg,
			rating_count = excluded.rating_count,
			images = excluded.images,
			primary_image = excluded.primary_image,
			url = excluded.url,
			quality = excluded.quality,
			availability = excluded.availability,
			badges = excluded.badges,
			band_label = excluded.band_label,
			position = excluded.position,
			source_query = excluded.source_query,
			scraped_at = excluded.scraped_at,
			last_sync_at = excluded.last_sync_at,
			sync_status = excluded.sync_status,
			sync_error = excluded.sync_error,
			updated_at = excluded.updated_at`,
		p.ExternalID, p.Title, p.Brand, p.CategoryID, p.CategoryName,
		p.Price, p.OriginalPrice, p.Currency, p.Discount.Amount, p.Discount.Percent,
		p.Rating.Average, p.Rating.Count, string(images), p.PrimaryImage, p.URL,
		string(p.Quality), p.Availability, string(badges), p.BandLabel, p.Position,
		p.Sync.SourceQuery, p.Sync.ScrapedAt.Unix(), unixOrNull(p.Sync.LastSyncAt),
		string(p.Sync.Status), p.Sync.ErrorMessage, p.CreatedAt.Unix(), p.UpdatedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("upsert product %s: %w", p.ExternalID, err)
	}
	return created, nil
}

// CountInBand counts a category's products priced within [min, max).
func (s *SQLiteStore) CountInBand(categoryID string, min, max float64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM products WHERE category_id = ? AND price >= ? AND price < ?`,
		categoryID, min, max).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count in band: %w", err)
	}
	return n, nil
}

// FindStale returns products never synced or synced before cutoff.
func (s *SQLiteStore) FindStale(cutoff time.Time, limit int) ([]*model.CanonicalProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+productColumns+` FROM products
		WHERE last_sync_at IS NULL OR last_sync_at = 0 OR last_sync_at < ?
		ORDER BY COALESCE(last_sync_at, 0) ASC
		LIMIT ?`,
		cutoff.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("find stale products: %w", err)
	}
	defer rows.Close()

	var out []*model.CanonicalProduct
	for rows.Next() {
		p, err := s.scanProduct(rows)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// MarkItemSync records a per-item refresh outcome.
func (s *SQLiteStore) MarkItemSync(externalID string, status model.ItemSyncStatus, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE products SET sync_status = ?, sync_error = ?, last_sync_at = ?, updated_at = ?
		WHERE external_id = ?`,
		string(status), errMsg, at.Unix(), time.Now().Unix(), externalID)
	if err != nil {
		return fmt.Errorf("mark item sync %s: %w", externalID, err)
	}
	return nil
}

// CountProducts returns the total product count.
func (s *SQLiteStore) CountProducts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&n)
	return n
}

// DeleteScrapedBefore removes products last scraped before cutoff. Explicit
// cleanup only; the pipeline never deletes implicitly.
func (s *SQLiteStore) DeleteScrapedBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM products WHERE scraped_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete old products: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
