package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/sentinel/internal/audit"
	"github.com/mbd888/sentinel/internal/crisis"
	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/internal/signals"
	"github.com/mbd888/sentinel/internal/verified"
)

// Handler provides HTTP endpoints for every decision surface.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new engine handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up decision routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/fraud/evaluate", h.EvaluateActivity)
	r.POST("/behavior/evaluate", h.EvaluateBehavior)
	r.POST("/credentials/verify", h.VerifyCredential)

	r.POST("/incidents", h.RespondToIncident)
	r.GET("/incidents/:id", h.GetIncident)
	r.POST("/incidents/:id/escalate", h.EscalateIncident)
	r.POST("/incidents/:id/resolve", h.ResolveIncident)

	r.GET("/subjects/:id/history", h.History)
	r.GET("/subjects/:id/trend", h.Trend)
	r.POST("/subjects/:id/resolve", h.ResolveDecision)
	r.POST("/subjects/:id/verification/settle", h.SettleVerification)
}

// EvaluateActivity handles POST /v1/fraud/evaluate
func (h *Handler) EvaluateActivity(c *gin.Context) {
	ev, ok := decodeEvent(c, signals.KindActivity)
	if !ok {
		return
	}
	res, err := h.engine.EvaluateActivity(c.Request.Context(), ev.(signals.Activity))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// EvaluateBehavior handles POST /v1/behavior/evaluate
func (h *Handler) EvaluateBehavior(c *gin.Context) {
	ev, ok := decodeEvent(c, signals.KindBehavior)
	if !ok {
		return
	}
	res, err := h.engine.EvaluateBehavior(c.Request.Context(), ev.(signals.BehaviorSample))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyCredential handles POST /v1/credentials/verify
func (h *Handler) VerifyCredential(c *gin.Context) {
	var req struct {
		SubjectID string          `json:"subjectId"`
		Claim     json.RawMessage `json:"claim"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	ev, err := signals.Decode(signals.KindCredential, req.Claim)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.engine.VerifyCredential(c.Request.Context(), req.SubjectID, ev.(signals.CredentialClaim))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SettleVerification handles POST /v1/subjects/:id/verification/settle
func (h *Handler) SettleVerification(c *gin.Context) {
	var req struct {
		Status   verified.Status `json:"status" binding:"required"`
		Reviewer string          `json:"reviewer" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "status and reviewer are required",
		})
		return
	}
	res, err := h.engine.SettleVerification(c.Request.Context(), c.Param("id"), req.Status, req.Reviewer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RespondToIncident handles POST /v1/incidents
func (h *Handler) RespondToIncident(c *gin.Context) {
	ev, ok := decodeEvent(c, signals.KindIncident)
	if !ok {
		return
	}
	res, err := h.engine.RespondToIncident(c.Request.Context(), ev.(signals.IncidentReport))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetIncident handles GET /v1/incidents/:id
func (h *Handler) GetIncident(c *gin.Context) {
	ev, err := h.engine.Incident(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev})
}

// EscalateIncident handles POST /v1/incidents/:id/escalate
func (h *Handler) EscalateIncident(c *gin.Context) {
	var req struct {
		Severity string `json:"severity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "severity is required",
		})
		return
	}
	res, err := h.engine.EscalateIncident(c.Request.Context(), c.Param("id"), req.Severity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ResolveIncident handles POST /v1/incidents/:id/resolve
func (h *Handler) ResolveIncident(c *gin.Context) {
	res, err := h.engine.ResolveIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// History handles GET /v1/subjects/:id/history?surface=fraud&limit=50&cursor=...
func (h *Handler) History(c *gin.Context) {
	surface, limit, ok := historyParams(c)
	if !ok {
		return
	}
	page, err := h.engine.HistoryPaged(c.Request.Context(), c.Param("id"), surface, limit, c.Query("cursor"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Trend handles GET /v1/subjects/:id/trend?surface=fraud&limit=50
func (h *Handler) Trend(c *gin.Context) {
	surface, limit, ok := historyParams(c)
	if !ok {
		return
	}
	t, err := h.engine.Trend(c.Request.Context(), c.Param("id"), surface, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trend": t})
}

// ResolveDecision handles POST /v1/subjects/:id/resolve
func (h *Handler) ResolveDecision(c *gin.Context) {
	var req struct {
		Surface decision.Surface `json:"surface" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "surface is required",
		})
		return
	}
	res, err := h.engine.ResolveDecision(c.Request.Context(), c.Param("id"), req.Surface)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func decodeEvent(c *gin.Context, kind signals.Kind) (signals.Event, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return nil, false
	}
	ev, err := signals.Decode(kind, body)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return ev, true
}

func historyParams(c *gin.Context) (decision.Surface, int, bool) {
	surface := decision.Surface(c.DefaultQuery("surface", string(decision.SurfaceFraud)))
	if !surface.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown surface",
		})
		return "", 0, false
	}
	limit := audit.DefaultHistoryLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, audit.MaxHistoryLimit)
		}
	}
	return surface, limit, true
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var ve *decision.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"field":   ve.Field,
			"message": ve.Reason,
		})
	case errors.Is(err, decision.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, audit.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No record found",
		})
	case errors.Is(err, decision.ErrAlreadyResolved),
		errors.Is(err, crisis.ErrResolved),
		errors.Is(err, crisis.ErrDeescalation),
		errors.Is(err, verified.ErrInvalidTransition),
		errors.Is(err, audit.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	case errors.Is(err, decision.ErrStorage):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_unavailable",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
