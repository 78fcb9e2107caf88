package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/wallet-investigator/internal/db"
	"github.com/rawblock/wallet-investigator/internal/heuristics"
	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Store is the persistence the API reads history from and writes
// watchlist additions to. *db.PostgresStore implements it.
type Store interface {
	ListInvestigations(ctx context.Context, page, limit int) ([]db.InvestigationRow, int, error)
	SaveKnownRisk(ctx context.Context, entry heuristics.WatchedAddress) error
}

// Deps are the collaborators behind the routes. Store and Hub are optional.
type Deps struct {
	Service   *investigation.Service
	Watchlist *heuristics.AddressWatchlist
	Store     Store
	Hub       *Hub
	Chains    []models.ChainID // chains with a configured adapter
}

// Options are the HTTP server settings
type Options struct {
	AllowedOrigins []string
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
	Stop           <-chan struct{} // ends background helpers such as the rate limiter cleanup
}

type APIHandler struct {
	svc       *investigation.Service
	watchlist *heuristics.AddressWatchlist
	store     Store
	chains    []models.ChainID
}

func SetupRouter(deps Deps, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(corsMiddleware(opts.AllowedOrigins))

	handler := &APIHandler{
		svc:       deps.Service,
		watchlist: deps.Watchlist,
		store:     deps.Store,
		chains:    deps.Chains,
	}
	auth := AuthMiddleware(opts.AuthToken)
	limiter := NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, opts.Stop)

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/classify/:address", handler.handleClassify)

		api.POST("/investigations", auth, limiter.Middleware(), handler.handleCreateInvestigation)
		api.GET("/investigations", handler.handleListInvestigations)
		api.GET("/investigations/history", handler.handleInvestigationHistory)
		api.GET("/investigations/:id", handler.handleGetInvestigation)
		api.GET("/investigations/:id/opinion", handler.handleGetOpinion)
		api.GET("/investigations/:id/paths", handler.handleGetPaths)

		api.GET("/watchlist", handler.handleListWatchlist)
		api.POST("/watchlist", auth, handler.handleAddWatchlist)
		api.DELETE("/watchlist/:chain/:address", auth, handler.handleRemoveWatchlist)

		if deps.Hub != nil {
			api.GET("/stream", deps.Hub.Subscribe)
		}
	}

	return r
}

// corsMiddleware allows every origin when the list is empty or contains "*"
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if set[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// writeError maps domain errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	var (
		format  *models.UnrecognizedFormatError
		cfg     *models.ConfigurationError
		chain   *models.InvalidChainError
		limited *models.RateLimitedError
	)
	switch {
	case errors.As(err, &format), errors.As(err, &cfg), errors.As(err, &chain):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &limited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// handleHealth returns engine status for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "operational",
		"engine":         "wallet-investigator",
		"chains":         h.chains,
		"watchlistSize":  h.watchlist.Size(),
		"dbConnected":    h.store != nil,
		"investigations": len(h.svc.Manager().List()),
	})
}
