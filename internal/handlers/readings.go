package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/arcana/api/internal/middleware"
	"github.com/arcana/api/internal/models"
	"github.com/arcana/api/internal/orchestration"
	"github.com/arcana/api/internal/quota"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReadingRunner runs the reading pipeline synchronously
type ReadingRunner interface {
	Run(ctx context.Context, req models.GenerationRequest) (models.Disposition, error)
}

// AsyncReadings starts readings in the background and reports their results
type AsyncReadings interface {
	Start(ctx context.Context, req models.GenerationRequest) (string, error)
	Result(ctx context.Context, id string) (models.ReadingWorkflowOutput, error)
}

// ReadingsHandler serves the reading endpoints
type ReadingsHandler struct {
	runner ReadingRunner
	async  AsyncReadings
	logger *zap.Logger
}

// NewReadingsHandler creates a readings handler. async may be nil when Temporal is down.
func NewReadingsHandler(runner ReadingRunner, async AsyncReadings, logger *zap.Logger) *ReadingsHandler {
	return &ReadingsHandler{runner: runner, async: async, logger: logger}
}

// CreateReadingRequest is the request body for a reading
type CreateReadingRequest struct {
	TemplateKey         string           `json:"template_key" binding:"required"`
	Elements            []models.Element `json:"elements" binding:"required,min=1,max=12,dive"`
	UserContext         string           `json:"user_context" binding:"max=4000"`
	PriorContextSummary string           `json:"prior_context_summary" binding:"max=4000"`
	// KnownIdentifiers are extra names to keep out of telemetry, such as people mentioned in the question
	KnownIdentifiers []string `json:"known_identifiers" binding:"max=10"`
}

// AsyncReadingResponse is returned when an async reading is accepted or still running
type AsyncReadingResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateReading runs a reading and returns its disposition
// @Summary Create a reading
// @Tags readings
// @Accept json
// @Produce json
// @Param request body CreateReadingRequest true "Spread and question"
// @Success 200 {object} models.Disposition
// @Failure 400 {object} middleware.APIError
// @Failure 429 {object} models.Disposition
// @Failure 503 {object} models.Disposition
// @Security Bearer
// @Router /readings [post]
func (h *ReadingsHandler) CreateReading(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	disp, err := h.runner.Run(c.Request.Context(), req)
	if err != nil {
		h.logger.Info("reading rejected",
			zap.String("request_id", req.RequestID),
			zap.String("status", string(disp.Status)),
			zap.Error(err),
		)
	}
	c.JSON(StatusFor(disp.Status), disp)
}

// CreateAsyncReading starts a reading in the background
// @Summary Start an async reading
// @Tags readings
// @Accept json
// @Produce json
// @Param request body CreateReadingRequest true "Spread and question"
// @Success 202 {object} AsyncReadingResponse
// @Failure 503 {object} middleware.APIError
// @Security Bearer
// @Router /readings/async [post]
func (h *ReadingsHandler) CreateAsyncReading(c *gin.Context) {
	if h.async == nil {
		middleware.RespondError(c, http.StatusServiceUnavailable, middleware.ErrCodeBackendsUnavailable, "async readings are not available")
		return
	}

	req, ok := h.bind(c)
	if !ok {
		return
	}

	id, err := h.async.Start(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("failed to start async reading", zap.String("request_id", req.RequestID), zap.Error(err))
		middleware.RespondError(c, http.StatusServiceUnavailable, middleware.ErrCodeBackendsUnavailable, "could not start reading")
		return
	}
	c.JSON(http.StatusAccepted, AsyncReadingResponse{ID: id, Status: "pending"})
}

// GetAsyncReading returns the disposition of an async reading, or pending
// @Summary Get an async reading
// @Tags readings
// @Produce json
// @Param id path string true "Reading id"
// @Success 200 {object} models.Disposition
// @Success 202 {object} AsyncReadingResponse
// @Security Bearer
// @Router /readings/async/{id} [get]
func (h *ReadingsHandler) GetAsyncReading(c *gin.Context) {
	if h.async == nil {
		middleware.RespondError(c, http.StatusServiceUnavailable, middleware.ErrCodeBackendsUnavailable, "async readings are not available")
		return
	}

	id := c.Param("id")
	out, err := h.async.Result(c.Request.Context(), id)
	switch {
	case errors.Is(err, orchestration.ErrReadingPending):
		c.JSON(http.StatusAccepted, AsyncReadingResponse{ID: id, Status: "pending"})
		return
	case err != nil:
		h.logger.Warn("failed to load async reading", zap.String("id", id), zap.Error(err))
		middleware.NotFound(c, "reading not found")
		return
	}

	// a reading belongs to whoever requested it
	if userID, ok := middleware.GetUserID(c); !ok || out.RequesterID != userID.String() {
		middleware.NotFound(c, "reading not found")
		return
	}
	c.JSON(StatusFor(out.Disposition.Status), out.Disposition)
}

func (h *ReadingsHandler) bind(c *gin.Context) (models.GenerationRequest, bool) {
	var body CreateReadingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.RespondErrorWithDetails(c, http.StatusBadRequest, middleware.ErrCodeBadRequest, "invalid reading request", err.Error())
		return models.GenerationRequest{}, false
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		middleware.Unauthorized(c, "unauthorized")
		return models.GenerationRequest{}, false
	}

	known := append(middleware.GetKnownNames(c), body.KnownIdentifiers...)
	return models.GenerationRequest{
		RequestID:           middleware.GetRequestID(c),
		RequesterID:         userID.String(),
		Tier:                middleware.GetTier(c),
		TemplateKey:         body.TemplateKey,
		Elements:            body.Elements,
		UserContext:         body.UserContext,
		PriorContextSummary: body.PriorContextSummary,
		KnownIdentifiers:    known,
		ReceivedAt:          time.Now().UTC(),
	}, true
}

// StatusFor maps a disposition status to its HTTP status
func StatusFor(status models.DispositionStatus) int {
	switch status {
	case models.StatusRejectedQuota:
		return http.StatusTooManyRequests
	case models.StatusRejectedUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// UsageHandler reports quota consumption
type UsageHandler struct {
	quota  *quota.Manager
	limits func(tier string) int
	logger *zap.Logger
}

// NewUsageHandler creates a usage handler; limits maps a tier to its monthly limit
func NewUsageHandler(manager *quota.Manager, limits func(tier string) int, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{quota: manager, limits: limits, logger: logger}
}

// GetUsage returns the requester's usage for the current period
// @Summary Current period usage
// @Tags usage
// @Produce json
// @Success 200 {object} models.Usage
// @Security Bearer
// @Router /usage [get]
func (h *UsageHandler) GetUsage(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		middleware.Unauthorized(c, "unauthorized")
		return
	}

	usage, err := h.quota.Usage(c.Request.Context(), userID.String(), h.quota.CurrentPeriod(), h.limits(middleware.GetTier(c)))
	if err != nil {
		h.logger.Error("failed to read usage", zap.String("user_id", userID.String()), zap.Error(err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeDatabaseError, "could not read usage")
		return
	}
	c.JSON(http.StatusOK, usage)
}
