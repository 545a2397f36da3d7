package api

import (
	"github.com/gin-gonic/gin"

	"catalog-sync/internal/store"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, categories store.CategoryStore, products store.ProductStore, runner SyncRunner, refresher StaleRefresher) {
	handlers := NewHandlers(categories, products, runner, refresher)

	v1 := r.Group("/api")
	{
		// Health check (handle both GET and HEAD)
		v1.GET("/health", handlers.HealthCheck)
		v1.HEAD("/health", handlers.HealthCheck)

		// Sync operations
		v1.POST("/sync/categories/:id", handlers.SyncCategory)
		v1.POST("/sync/categories/:id/preview", handlers.PreviewCategory)
		v1.POST("/sync/all", handlers.SyncAll)
		v1.POST("/sync/refresh-stale", handlers.RefreshStale)
		v1.POST("/sync/stop", handlers.StopSync)
		v1.GET("/sync/status", handlers.GetSyncStatus)

		// Categories
		v1.GET("/categories", handlers.GetCategories)
		v1.GET("/categories/:id", handlers.GetCategory)
		v1.POST("/categories", handlers.CreateCategory)

		// Products
		v1.GET("/products", handlers.GetProducts)
		v1.GET("/products/:external_id", handlers.GetProduct)

		// Stats
		v1.GET("/stats", handlers.GetStats)
	}
}
