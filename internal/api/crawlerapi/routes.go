package crawlerapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/logger"
)

// NewRouter builds the crawler service's gin engine.
func NewRouter(handler *Handler, reg *prometheus.Registry, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(log))
	router.Use(api.HTTPMetrics(reg, "crawler"))

	router.GET("/health", handler.Health)
	router.GET("/metrics", api.MetricsHandler(reg))

	router.POST("/urls", handler.AddURLs)
	router.GET("/status", handler.Status)
	router.GET("/queue", handler.Queue)
	router.GET("/history", handler.History)

	router.POST("/seeds", handler.AddSeeds)
	router.DELETE("/seeds", handler.RemoveSeeds)
	router.GET("/seeds", handler.ListSeeds)
	router.POST("/seeds/requeue", handler.RequeueSeeds)
	router.POST("/seeds/import-tranco", handler.ImportTranco)

	router.POST("/worker/start", handler.StartWorker)
	router.POST("/worker/stop", handler.StopWorker)
	router.GET("/worker/status", handler.WorkerStatus)

	router.POST("/score/predict", handler.PredictScore)

	return router
}
