package policy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/sentinel/internal/decision"
)

// Handler exposes the active ladder over HTTP.
type Handler struct {
	ladder *Ladder
}

// NewHandler creates a new policy handler.
func NewHandler(ladder *Ladder) *Handler {
	return &Handler{ladder: ladder}
}

// RegisterRoutes sets up policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/policy", h.Get)
	r.POST("/policy/resolve", h.Resolve)
}

// Get handles GET /v1/policy
func (h *Handler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"policy": h.ladder.Document()})
}

// Resolve handles POST /v1/policy/resolve. It is a dry run: nothing is
// recorded.
func (h *Handler) Resolve(c *gin.Context) {
	var req struct {
		Score      *float64 `json:"score" binding:"required"`
		Indicators []string `json:"indicators"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "score is required"})
		return
	}
	if *req.Score < 0 || *req.Score > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "score must be within [0, 1]"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolution": h.ladder.Resolve(*req.Score, toIndicators(req.Indicators))})
}

func toIndicators(names []string) decision.Indicators {
	out := make([]decision.Indicator, len(names))
	for i, n := range names {
		out[i] = decision.Indicator(n)
	}
	return decision.NewIndicators(out...)
}
