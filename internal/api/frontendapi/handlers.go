// Package frontendapi exposes the public search API: query, click
// feedback, quality metrics, and the score-predict proxy.
package frontendapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/api"
	"github.com/quarrysearch/quarry/internal/logger"
	"github.com/quarrysearch/quarry/internal/search"
	"github.com/quarrysearch/quarry/internal/urlstore"
)

// sessionCookie is the anonymous session cookie hashed into events.
const sessionCookie = "quarry_session"

// maxClickRank bounds the accepted clicked_rank.
const maxClickRank = 1000

// Handler holds the frontend endpoints' dependencies.
type Handler struct {
	engine      *search.Engine
	recorder    *analytics.Recorder
	reporter    *analytics.Reporter
	client      *http.Client
	crawlerURL  string
	sessionSalt string
	log         logger.Logger
}

// NewHandler creates the frontend API handler.
func NewHandler(
	engine *search.Engine,
	recorder *analytics.Recorder,
	reporter *analytics.Reporter,
	client *http.Client,
	crawlerURL, sessionSalt string,
	log logger.Logger,
) *Handler {
	return &Handler{
		engine:      engine,
		recorder:    recorder,
		reporter:    reporter,
		client:      client,
		crawlerURL:  crawlerURL,
		sessionSalt: sessionSalt,
		log:         log,
	}
}

// Search executes a query and records an impression keyed by a fresh
// request_id.
func (h *Handler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		api.Error(c, http.StatusBadRequest, "MISSING_QUERY", "q parameter is required")
		return
	}

	req := search.Request{
		Query:   query,
		Page:    intQuery(c, "page", 1),
		PerPage: intQuery(c, "limit", search.DefaultPerPage),
		Mode:    c.DefaultQuery("mode", search.ModeBM25),
	}

	start := time.Now()
	result, err := h.engine.Search(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, search.ErrNoEmbedder) {
			api.Error(c, http.StatusBadRequest, "MODE_UNAVAILABLE", err.Error())
			return
		}
		h.log.Error("search failed", logger.Error(err), logger.String("query", query))
		api.Error(c, http.StatusInternalServerError, "SEARCH_ERROR", "search failed")
		return
	}

	requestID := uuid.NewString()
	h.recorder.RecordImpression(analytics.ImpressionParams{
		RequestID:   requestID,
		Query:       query,
		SessionHash: h.sessionHash(c),
		ResultCount: result.Total,
		LatencyMs:   time.Since(start).Milliseconds(),
	})

	c.JSON(http.StatusOK, gin.H{
		"query":      result.Query,
		"total":      result.Total,
		"page":       result.Page,
		"per_page":   result.PerPage,
		"last_page":  result.LastPage,
		"hits":       result.Hits,
		"request_id": requestID,
	})
}

type clickRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
	URL       string `json:"url" binding:"required"`
	Rank      int    `json:"rank" binding:"required"`
}

// Click records a result click reported by the client.
func (h *Handler) Click(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if !urlstore.ValidURL(req.URL) {
		api.Error(c, http.StatusBadRequest, "INVALID_URL", "not an absolute http(s) URL")
		return
	}
	if req.Rank < 1 || req.Rank > maxClickRank {
		api.Error(c, http.StatusBadRequest, "INVALID_RANK", "rank must be in 1..1000")
		return
	}

	h.recorder.RecordClick(analytics.ClickParams{
		RequestID:   req.RequestID,
		Query:       req.Query,
		SessionHash: h.sessionHash(c),
		ClickedURL:  req.URL,
		ClickedRank: req.Rank,
	})

	c.Status(http.StatusNoContent)
}

// QualitySummary returns the rolled-up metrics block for a window.
func (h *Handler) QualitySummary(c *gin.Context) {
	window := c.DefaultQuery("window", analytics.Window24h)

	summary, err := h.reporter.QualitySummary(c.Request.Context(), window)
	if errors.Is(err, analytics.ErrUnknownWindow) {
		api.Error(c, http.StatusBadRequest, "INVALID_WINDOW", err.Error())
		return
	}
	if err != nil {
		h.log.Error("failed to compute quality summary", logger.Error(err))
		api.Error(c, http.StatusInternalServerError, "STORAGE_ERROR", "failed to compute summary")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Predict proxies score prediction to the crawler service.
func (h *Handler) Predict(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		api.Error(c, http.StatusBadRequest, "MISSING_URL", "url parameter is required")
		return
	}

	parentScore, _ := strconv.ParseFloat(c.DefaultQuery("parent_score", "0"), 64)
	visits, _ := strconv.Atoi(c.DefaultQuery("visits", "0"))

	payload, err := json.Marshal(gin.H{
		"url":          rawURL,
		"parent_score": parentScore,
		"visits":       visits,
	})
	if err != nil {
		api.Error(c, http.StatusInternalServerError, "PROXY_ERROR", "failed to build predict request")
		return
	}

	proxyReq, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost,
		h.crawlerURL+"/score/predict", bytes.NewReader(payload))
	if err != nil {
		api.Error(c, http.StatusInternalServerError, "PROXY_ERROR", "failed to build predict request")
		return
	}
	proxyReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(proxyReq)
	if err != nil {
		h.log.Error("predict proxy failed", logger.Error(err))
		api.Error(c, http.StatusBadGateway, "CRAWLER_UNAVAILABLE", "crawler service unreachable")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		api.Error(c, http.StatusBadGateway, "CRAWLER_UNAVAILABLE", "failed to read crawler response")
		return
	}

	c.Data(resp.StatusCode, "application/json", body)
}

// Health is the liveness endpoint.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionHash derives the anonymous session hash from the session
// cookie, empty when no cookie is set.
func (h *Handler) sessionHash(c *gin.Context) string {
	cookie, err := c.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return analytics.SessionHash(h.sessionSalt, cookie)
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
