package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/wallet-investigator/internal/classifier"
	"github.com/rawblock/wallet-investigator/internal/heuristics"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/rs/zerolog/log"
)

// POST /api/v1/watchlist
// Flags an address as known risk. Persisted when a database is connected.
func (h *APIHandler) handleAddWatchlist(c *gin.Context) {
	var req struct {
		Address  string  `json:"address" binding:"required"`
		Chain    string  `json:"chain"`
		Category string  `json:"category" binding:"required"`
		Label    string  `json:"label"`
		Severity float64 `json:"severity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if req.Severity < 0 || req.Severity > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "severity must be between 0 and 1"})
		return
	}

	var chain models.ChainID
	if req.Chain != "" {
		parsed, err := models.ParseChainID(req.Chain)
		if err != nil {
			writeError(c, err)
			return
		}
		chain = parsed
	}
	addr, err := classifier.Resolve(req.Address, chain)
	if err != nil {
		writeError(c, err)
		return
	}

	entry := heuristics.WatchedAddress{
		Address:  addr,
		Category: req.Category,
		Label:    req.Label,
		Severity: req.Severity,
		Source:   "api",
	}
	h.watchlist.Add(entry)
	entry, _ = h.watchlist.Get(addr)

	if h.store != nil {
		if err := h.store.SaveKnownRisk(c.Request.Context(), entry); err != nil {
			log.Warn().Err(err).Str("address", addr.String()).Msg("api: watchlist entry not persisted")
		}
	}

	c.JSON(http.StatusCreated, gin.H{"status": "added", "entry": entry})
}

// GET /api/v1/watchlist
func (h *APIHandler) handleListWatchlist(c *gin.Context) {
	list := h.watchlist.ListAll()
	c.JSON(http.StatusOK, gin.H{"data": list, "totalCount": len(list)})
}

// DELETE /api/v1/watchlist/:chain/:address
func (h *APIHandler) handleRemoveWatchlist(c *gin.Context) {
	chain, err := models.ParseChainID(c.Param("chain"))
	if err != nil {
		writeError(c, err)
		return
	}
	addr := models.NewAddress(chain, c.Param("address"))
	if _, ok := h.watchlist.Get(addr); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Address not on watchlist"})
		return
	}
	h.watchlist.Remove(addr)
	c.JSON(http.StatusOK, gin.H{"status": "removed", "address": addr})
}
