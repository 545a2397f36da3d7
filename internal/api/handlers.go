package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"catalog-sync/internal/ingest"
	"catalog-sync/internal/model"
	"catalog-sync/internal/store"

	"github.com/gin-gonic/gin"
)

// SyncRunner is the orchestrator surface the handlers need.
type SyncRunner interface {
	RunCategory(ctx context.Context, categoryID string, opts ingest.RunOptions) (model.RunResult, error)
	RunAll(ctx context.Context, opts ingest.RunOptions) (model.AggregateResult, error)
	Preview(ctx context.Context, categoryID string, opts ingest.RunOptions) ([]model.CanonicalProduct, error)
	Stop()
	Status() ingest.Status
}

// StaleRefresher is the scheduler surface the handlers need.
type StaleRefresher interface {
	RefreshStaleItems(ctx context.Context, limit int) (model.RefreshResult, error)
	IsRunning() bool
}

// Handlers contains all API handlers
type Handlers struct {
	categories store.CategoryStore
	products   store.ProductStore
	runner     SyncRunner
	refresher  StaleRefresher
}

// NewHandlers creates a new handlers instance
func NewHandlers(categories store.CategoryStore, products store.ProductStore, runner SyncRunner, refresher StaleRefresher) *Handlers {
	return &Handlers{
		categories: categories,
		products:   products,
		runner:     runner,
		refresher:  refresher,
	}
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// SyncCategory runs one category through the pipeline and returns the run
// result. Configuration problems are the caller's fault, everything else is
// reported per run.
func (h *Handlers) SyncCategory(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category ID is required"})
		return
	}

	opts := parseRunOptions(c)
	result, err := h.runner.RunCategory(c.Request.Context(), id, opts)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case ingest.IsConfigError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ingest.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "category sync already in progress"})
	case errors.Is(err, ingest.ErrStopped):
		c.JSON(http.StatusOK, gin.H{"message": "sync stopped", "result": result})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
	}
}

// SyncAll triggers a batch sync of every active category in the background.
// Progress is available from GET /api/sync/status.
func (h *Handlers) SyncAll(c *gin.Context) {
	opts := parseRunOptions(c)
	status := h.runner.Status()
	if status.Running {
		c.JSON(http.StatusConflict, gin.H{"error": "batch sync already in progress"})
		return
	}

	go func() {
		// The batch outlives the HTTP request.
		_, _ = h.runner.RunAll(context.Background(), opts)
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "batch sync started"})
}

// PreviewCategory runs the harvest loop without persisting anything and
// returns the normalized candidates.
func (h *Handlers) PreviewCategory(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category ID is required"})
		return
	}

	candidates, err := h.runner.Preview(c.Request.Context(), id, parseRunOptions(c))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"count":      len(candidates),
			"candidates": candidates,
		})
	case ingest.IsConfigError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RefreshStale triggers a stale-item sweep.
func (h *Handlers) RefreshStale(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	result, err := h.refresher.RefreshStaleItems(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSyncStatus returns the orchestrator state and the last batch result.
func (h *Handlers) GetSyncStatus(c *gin.Context) {
	status := h.runner.Status()
	c.JSON(http.StatusOK, gin.H{
		"running":           status.Running,
		"scheduler_running": h.refresher.IsRunning(),
		"last_run":          status.LastRun,
	})
}

// StopSync requests cooperative cancellation of the in-flight run.
func (h *Handlers) StopSync(c *gin.Context) {
	h.runner.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "stop requested"})
}

// GetCategories returns all active categories with their sync state.
func (h *Handlers) GetCategories(c *gin.Context) {
	categories := h.categories.GetActiveCategories()
	c.JSON(http.StatusOK, gin.H{
		"count":      len(categories),
		"categories": categories,
	})
}

// GetCategory returns a single category by ID
func (h *Handlers) GetCategory(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category ID is required"})
		return
	}

	cat, ok := h.categories.GetCategory(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}
	c.JSON(http.StatusOK, cat)
}

// CreateCategory registers a new category definition.
func (h *Handlers) CreateCategory(c *gin.Context) {
	var req model.Category
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	now := time.Now()
	if req.ID == "" {
		req.ID = generateID()
	}
	req.Slug = model.Slugify(req.Name)
	req.Status = model.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	if err := h.categories.CreateCategory(&req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create category"})
		return
	}
	c.JSON(http.StatusCreated, req)
}

// GetProducts returns products, optionally filtered by category and band,
// sorted by the requested field.
func (h *Handlers) GetProducts(c *gin.Context) {
	categoryID := c.Query("category_id")
	if categoryID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category_id is required"})
		return
	}

	products := h.products.GetProductsByCategory(categoryID)

	if band := c.Query("band"); band != "" {
		filtered := make([]*model.CanonicalProduct, 0, len(products))
		for _, p := range products {
			if p.BandLabel == band {
				filtered = append(filtered, p)
			}
		}
		products = filtered
	}
	if tier := c.Query("quality"); tier != "" {
		filtered := make([]*model.CanonicalProduct, 0, len(products))
		for _, p := range products {
			if string(p.Quality) == tier {
				filtered = append(filtered, p)
			}
		}
		products = filtered
	}

	products = sortProducts(products, c.Query("sort"), c.Query("order"))

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.JSON(http.StatusOK, gin.H{
		"count":    len(products),
		"products": products,
	})
}

// GetProduct returns a single product by its external identifier.
func (h *Handlers) GetProduct(c *gin.Context) {
	id := c.Param("external_id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external ID is required"})
		return
	}

	product, ok := h.products.GetByExternalID(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	c.JSON(http.StatusOK, product)
}

// GetStats returns catalog statistics
func (h *Handlers) GetStats(c *gin.Context) {
	categories := h.categories.GetActiveCategories()

	statusCounts := make(map[model.SyncStatus]int)
	for _, cat := range categories {
		statusCounts[cat.Status]++
	}

	c.JSON(http.StatusOK, gin.H{
		"products":          h.products.CountProducts(),
		"categories":        len(categories),
		"status_breakdown":  statusCounts,
		"scheduler_running": h.refresher.IsRunning(),
	})
}

func parseRunOptions(c *gin.Context) ingest.RunOptions {
	opts := ingest.RunOptions{
		SkipExisting: c.Query("skip_existing") == "true",
	}
	if limitStr := c.Query("max_items"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			opts.MaxItemsPerBand = l
		}
	}
	return opts
}

// sortProducts sorts products based on the given criteria
func sortProducts(products []*model.CanonicalProduct, sortBy, order string) []*model.CanonicalProduct {
	if len(products) <= 1 {
		return products
	}

	// Make a copy to avoid mutating the original
	sorted := make([]*model.CanonicalProduct, len(products))
	copy(sorted, products)

	desc := order == "desc"
	switch sortBy {
	case "price":
		sort.Slice(sorted, func(i, j int) bool {
			if desc {
				return sorted[i].Price > sorted[j].Price
			}
			return sorted[i].Price < sorted[j].Price
		})
	case "rating":
		sort.Slice(sorted, func(i, j int) bool {
			if desc {
				return sorted[i].Rating.Average > sorted[j].Rating.Average
			}
			return sorted[i].Rating.Average < sorted[j].Rating.Average
		})
	case "reviews":
		sort.Slice(sorted, func(i, j int) bool {
			if desc {
				return sorted[i].Rating.Count > sorted[j].Rating.Count
			}
			return sorted[i].Rating.Count < sorted[j].Rating.Count
		})
	case "scraped":
		sort.Slice(sorted, func(i, j int) bool {
			if desc {
				return sorted[i].Sync.ScrapedAt.After(sorted[j].Sync.ScrapedAt)
			}
			return sorted[i].Sync.ScrapedAt.Before(sorted[j].Sync.ScrapedAt)
		})
	default:
		// Default: band position order within the category.
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].BandLabel != sorted[j].BandLabel {
				return sorted[i].BandLabel < sorted[j].BandLabel
			}
			return sorted[i].Position < sorted[j].Position
		})
	}
	return sorted
}

// generateID generates a unique ID
func generateID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}
