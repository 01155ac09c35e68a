// Package crawlerapi exposes the crawler service's control surface:
// URL submission, queue inspection, seed management, and worker
// lifecycle.
package crawlerapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/crawler"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/urlstore"
)

// maxTrancoUpload caps the accepted Tranco archive size.
const maxTrancoUpload = 64 << 20

// Handler holds the crawler endpoints' dependencies.
type Handler struct {
	urls    *urlstore.Store
	seeds   *urlstore.SeedStore
	history *urlstore.HistoryStore
	manager *crawler.Manager
	log     logger.Logger
}

// NewHandler creates the crawler API handler.
func NewHandler(
	urls *urlstore.Store,
	seeds *urlstore.SeedStore,
	history *urlstore.HistoryStore,
	manager *crawler.Manager,
	log logger.Logger,
) *Handler {
	return &Handler{urls: urls, seeds: seeds, history: history, manager: manager, log: log}
}

type addURLsRequest struct {
	URLs     []string `json:"urls" binding:"required"`
	Priority float64  `json:"priority"`
}

// AddURLs queues URLs for crawling at the given priority.
func (h *Handler) AddURLs(c *gin.Context) {
	var req addURLsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	reqs := make([]urlstore.AddRequest, 0, len(req.URLs))
	for _, raw := range req.URLs {
		if !urlstore.ValidURL(raw) {
			api.Error(c, http.StatusBadRequest, "INVALID_URL", "not an absolute http(s) URL: "+raw)
			return
		}
		reqs = append(reqs, urlstore.AddRequest{URL: raw, Priority: req.Priority})
	}

	added, err := h.urls.AddBatch(c.Request.Context(), reqs)
	if err != nil {
		h.log.Error("failed to add URLs", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to add URLs")
		return
	}

	c.JSON(http.StatusOK, gin.H{"added_count": added})
}

// Status reports queue counts by status and the worker state.
func (h *Handler) Status(c *gin.Context) {
	stats, err := h.urls.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("failed to read URL stats", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to read stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    stats.Total(),
		"pending":  stats.Pending,
		"crawling": stats.Crawling,
		"done":     stats.Done,
		"failed":   stats.Failed,
		"worker":   h.manager.Status(),
	})
}

// Queue returns the top pending URLs with scores.
func (h *Handler) Queue(c *gin.Context) {
	limit := intQuery(c, "limit", 20)

	items, err := h.urls.Peek(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("failed to peek queue", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to read queue")
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// History returns recent crawl attempts, optionally filtered by URL.
func (h *Handler) History(c *gin.Context) {
	limit := intQuery(c, "limit", 50)

	attempts, err := h.history.Recent(c.Request.Context(), c.Query("url"), limit)
	if err != nil {
		h.log.Error("failed to read crawl history", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to read history")
		return
	}

	c.JSON(http.StatusOK, gin.H{"attempts": attempts, "count": len(attempts)})
}

type seedsRequest struct {
	URLs []string `json:"urls" binding:"required"`
}

// AddSeeds registers durable entry-point URLs.
func (h *Handler) AddSeeds(c *gin.Context) {
	var req seedsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	added, err := h.seeds.Add(c.Request.Context(), req.URLs)
	if err != nil {
		h.log.Error("failed to add seeds", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to add seeds")
		return
	}

	c.JSON(http.StatusOK, gin.H{"added_count": added})
}

// RemoveSeeds deletes seeds.
func (h *Handler) RemoveSeeds(c *gin.Context) {
	var req seedsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	removed, err := h.seeds.Remove(c.Request.Context(), req.URLs)
	if err != nil {
		h.log.Error("failed to remove seeds", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to remove seeds")
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed_count": removed})
}

// ListSeeds returns all registered seeds.
func (h *Handler) ListSeeds(c *gin.Context) {
	seeds, err := h.seeds.List(c.Request.Context())
	if err != nil {
		h.log.Error("failed to list seeds", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to list seeds")
		return
	}

	c.JSON(http.StatusOK, gin.H{"seeds": seeds, "count": len(seeds)})
}

type requeueRequest struct {
	Priority float64 `json:"priority"`
}

// RequeueSeeds pushes every seed back into the crawl queue.
func (h *Handler) RequeueSeeds(c *gin.Context) {
	var req requeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	queued, err := h.seeds.Requeue(c.Request.Context(), req.Priority)
	if err != nil {
		h.log.Error("failed to requeue seeds", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to requeue seeds")
		return
	}

	c.JSON(http.StatusOK, gin.H{"queued_count": queued})
}

// ImportTranco ingests a Tranco ZIP archive from the request body and
// registers the top-N domains as seeds.
func (h *Handler) ImportTranco(c *gin.Context) {
	limit := intQuery(c, "limit", 1000)

	archive, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTrancoUpload))
	if err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "failed to read archive body")
		return
	}

	imported, err := h.seeds.ImportTranco(c.Request.Context(), archive, limit)
	if err != nil {
		h.log.Error("failed to import tranco archive", logger.Error(err))
		api.Error(c, http.StatusUnprocessableEntity, "INVALID_ARCHIVE", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"imported_count": imported})
}

type workerStartRequest struct {
	Concurrency int `json:"concurrency"`
}

// StartWorker launches the crawl loop.
func (h *Handler) StartWorker(c *gin.Context) {
	var req workerStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.manager.Start(req.Concurrency); err != nil {
		api.Error(c, http.StatusConflict, "WORKER_RUNNING", err.Error())
		return
	}

	c.JSON(http.StatusOK, h.manager.Status())
}

type workerStopRequest struct {
	Graceful bool `json:"graceful"`
}

// StopWorker halts the crawl loop.
func (h *Handler) StopWorker(c *gin.Context) {
	var req workerStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.manager.Stop(req.Graceful); err != nil {
		api.Error(c, http.StatusConflict, "WORKER_NOT_RUNNING", err.Error())
		return
	}

	c.JSON(http.StatusOK, h.manager.Status())
}

// WorkerStatus reports the worker loop state.
func (h *Handler) WorkerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Status())
}

type predictRequest struct {
	URL         string  `json:"url" binding:"required"`
	ParentScore float64 `json:"parent_score"`
	Visits      int     `json:"visits"`
}

// PredictScore evaluates the URL scoring function without side effects.
func (h *Handler) PredictScore(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":   req.URL,
		"score": crawler.Score(req.URL, req.ParentScore, req.Visits),
	})
}

// Health is the liveness endpoint.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}
