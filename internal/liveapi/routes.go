package liveapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/joinmarket-unmix/internal/archive"
	"github.com/rawblock/joinmarket-unmix/internal/config"
	"github.com/rawblock/joinmarket-unmix/internal/enumerate"
	"github.com/rawblock/joinmarket-unmix/internal/fetch"
	"github.com/rawblock/joinmarket-unmix/internal/ilpsolve"
	"github.com/rawblock/joinmarket-unmix/internal/solution"
)

// Handler wires the fetch/enumerate pipeline into HTTP + WebSocket
// endpoints so a run can be triggered remotely and watched live.
type Handler struct {
	Fetcher *fetch.Client
	Config  config.Config
	Backend ilpsolve.Backend
	Hub     *Hub
	Store   *archive.Store // nil if --archive-dsn was not set
}

// SetupRouter builds the Gin engine: CORS, rate limiting, the
// analyze/stream/health routes.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	limiter := NewRateLimiter(30, 10)

	api := r.Group("/api/v1")
	{
		api.POST("/analyze/:txid", limiter.Middleware(), h.handleAnalyze)
		api.GET("/stream", h.Hub.Subscribe)
		api.GET("/health", h.handleHealth)
	}
	return r
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleAnalyze(c *gin.Context) {
	txid := c.Param("txid")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Minute)
	defer cancel()

	tx, err := h.Fetcher.Fetch(ctx, txid)
	if err != nil {
		h.broadcast(txid, EventError, nil, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	h.broadcast(txid, EventStarted, nil, nil)

	solutions, runErr := enumerate.Run(ctx, tx, h.Config, h.Backend, func(s solution.Solution) {
		h.broadcast(txid, EventSolution, &s, nil)
	})
	if runErr != nil && len(solutions) == 0 {
		h.broadcast(txid, EventError, nil, runErr)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": runErr.Error()})
		return
	}

	if h.Store != nil {
		if err := h.Store.SaveAnalysis(ctx, tx, h.Config.MaxFeeRel, solutions); err != nil {
			h.broadcast(txid, EventArchiveError, nil, err)
		}
	}

	h.broadcast(txid, EventCompleted, nil, nil)
	c.JSON(http.StatusOK, json.RawMessage(solution.Document(tx, solutions)))
}

func (h *Handler) broadcast(txid string, kind EventKind, sol *solution.Solution, err error) {
	evt := ProgressEvent{Txid: txid, Event: kind, Solution: sol}
	if err != nil {
		evt.Error = err.Error()
	}
	h.Hub.Broadcast(evt)
}
