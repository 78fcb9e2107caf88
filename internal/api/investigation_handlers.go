package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/wallet-investigator/internal/classifier"
	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rs/zerolog/log"
)

// Investigation API Handlers

// POST /api/v1/investigations
// Starts an investigation. With ?wait=true the request blocks until the
// opinion is ready and returns the finished case.
func (h *APIHandler) handleCreateInvestigation(c *gin.Context) {
	var req investigation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		inv, err := h.svc.Investigate(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
		return
	}

	inv, err := h.svc.Start(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":        "started",
		"investigation": inv,
	})
}

// GET /api/v1/investigations
func (h *APIHandler) handleListInvestigations(c *gin.Context) {
	list := h.svc.Manager().List()
	c.JSON(http.StatusOK, gin.H{
		"data":       list,
		"totalCount": len(list),
	})
}

// GET /api/v1/investigations/history
// Persisted investigations across restarts, newest first.
func (h *APIHandler) handleInvestigationHistory(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rows, totalCount, err := h.store.ListInvestigations(c.Request.Context(), page, limit)
	if err != nil {
		log.Error().Err(err).Msg("api: failed to list investigation history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch investigation history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       rows,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

// GET /api/v1/investigations/:id
func (h *APIHandler) handleGetInvestigation(c *gin.Context) {
	inv, ok := h.svc.Manager().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Investigation not found"})
		return
	}
	c.JSON(http.StatusOK, inv)
}

// GET /api/v1/investigations/:id/opinion
// 202 while the investigation is still running.
func (h *APIHandler) handleGetOpinion(c *gin.Context) {
	inv, ok := h.svc.Manager().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Investigation not found"})
		return
	}

	switch inv.Status {
	case investigation.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": inv.Error, "status": inv.Status})
	case investigation.StatusRunning:
		c.JSON(http.StatusAccepted, gin.H{"status": inv.Status})
	default:
		c.JSON(http.StatusOK, inv.Opinion)
	}
}

// GET /api/v1/investigations/:id/paths?limit=100
func (h *APIHandler) handleGetPaths(c *gin.Context) {
	inv, ok := h.svc.Manager().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Investigation not found"})
		return
	}

	paths := inv.Paths
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit >= 0 && limit < len(paths) {
		paths = paths[:limit]
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     inv.Status,
		"paths":      paths,
		"totalCount": len(inv.Paths),
	})
}

// GET /api/v1/classify/:address
func (h *APIHandler) handleClassify(c *gin.Context) {
	raw := strings.TrimSpace(c.Param("address"))
	chain, err := classifier.Classify(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":    raw,
		"chain":      chain,
		"candidates": classifier.Candidates(raw),
	})
}
