package frontendapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/logger"
)

// NewRouter builds the frontend service's gin engine.
func NewRouter(handler *Handler, reg *prometheus.Registry, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(log))
	router.Use(api.HTTPMetrics(reg, "frontend"))

	router.GET("/health", handler.Health)
	router.GET("/metrics", api.MetricsHandler(reg))

	group := router.Group("/api")
	group.GET("/search", handler.Search)
	group.POST("/search/click", handler.Click)
	group.GET("/quality/summary", handler.QualitySummary)
	group.GET("/predict", handler.Predict)

	return router
}
