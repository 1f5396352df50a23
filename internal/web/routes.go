package web

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers, registry *prometheus.Registry, rps float64, burst int) {
	// Health endpoints (no rate limit)
	r.GET("/healthz", h.Liveness)
	r.GET("/health", h.Health)

	// Metrics for scraping
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Calendar feed for read-only subscription clients
	r.GET("/feed.ics", h.Feed)

	apiRateLimiter := RateLimiter(rps, burst)
	api := r.Group("/api")
	api.Use(apiRateLimiter)
	api.Use(RequireJSONContentType())
	{
		api.GET("/status", h.SyncStatus)
		api.GET("/slots", h.SuggestSlots)

		api.GET("/cards", h.ListCards)
		api.POST("/cards", h.CreateCard)
		api.GET("/cards/:id", h.GetCard)
		api.PATCH("/cards/:id", h.PatchCard)
	}

	// Sync triggers hit the remote calendar; keep them on a stricter
	// limit.
	syncRateLimiter := RateLimiter(2, 5)
	syncAPI := r.Group("/api")
	syncAPI.Use(syncRateLimiter)
	{
		syncAPI.POST("/sync", h.TriggerSync)
	}
}
