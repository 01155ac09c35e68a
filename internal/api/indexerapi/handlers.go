// Package indexerapi exposes the indexer service's ingest and status
// endpoints.
package indexerapi

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/jobqueue"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/urlstore"
)

// Handler holds the indexer endpoints' dependencies.
type Handler struct {
	queue  *jobqueue.Queue
	apiKey string
	log    logger.Logger
}

// NewHandler creates the indexer API handler.
func NewHandler(queue *jobqueue.Queue, apiKey string, log logger.Logger) *Handler {
	return &Handler{queue: queue, apiKey: apiKey, log: log}
}

// RequireAPIKey rejects requests whose X-API-Key header does not match,
// using a constant-time comparison.
func (h *Handler) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.apiKey)) != 1 {
			api.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
			c.Abort()
			return
		}
		c.Next()
	}
}

type submitPageRequest struct {
	URL      string   `json:"url" binding:"required"`
	Title    string   `json:"title"`
	Content  string   `json:"content" binding:"required"`
	Outlinks []string `json:"outlinks"`
}

// SubmitPage enqueues a page for indexing. Identical url+content pairs
// collapse to the already-queued job.
func (h *Handler) SubmitPage(c *gin.Context) {
	var req submitPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusUnprocessableEntity, "INVALID_BODY", err.Error())
		return
	}
	if !urlstore.ValidURL(req.URL) {
		api.Error(c, http.StatusUnprocessableEntity, "INVALID_URL", "not an absolute http(s) URL")
		return
	}

	result, err := h.queue.Enqueue(c.Request.Context(), req.URL, req.Title, req.Content, req.Outlinks)
	if err != nil {
		h.log.Error("failed to enqueue index job", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to enqueue job")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":       result.JobID,
		"queued":       true,
		"deduplicated": !result.Created,
	})
}

// GetJob returns one job's status row.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.queue.Get(c.Request.Context(), c.Param("job_id"))
	if errors.Is(err, jobqueue.ErrJobNotFound) {
		api.Error(c, http.StatusNotFound, "JOB_NOT_FOUND", "no such job")
		return
	}
	if err != nil {
		h.log.Error("failed to read index job", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to read job")
		return
	}

	c.JSON(http.StatusOK, job)
}

// Health reports queue depth by status.
func (h *Handler) Health(c *gin.Context) {
	health, err := h.queue.Health(c.Request.Context())
	if err != nil {
		h.log.Error("failed to read queue health", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to read queue health")
		return
	}

	c.JSON(http.StatusOK, health)
}
