package indexerapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/logger"
)

// NewRouter builds the indexer service's gin engine.
func NewRouter(handler *Handler, reg *prometheus.Registry, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(log))
	router.Use(api.HTTPMetrics(reg, "indexer"))

	router.GET("/metrics", api.MetricsHandler(reg))

	group := router.Group("/indexer")
	group.GET("/health", handler.Health)
	group.GET("/jobs/:job_id", handler.GetJob)
	group.POST("/page", handler.RequireAPIKey(), handler.SubmitPage)

	return router
}
