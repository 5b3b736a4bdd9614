package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/model-router-go/internal/config"
	"github.com/user/model-router-go/internal/models"
	"github.com/user/model-router-go/internal/service"
	"go.uber.org/zap"
)

// RouteHandler serves routing requests against the active profile snapshot.
type RouteHandler struct {
	dispatcher *service.Dispatcher
	profiles   *config.ProfileStore
	logger     *zap.Logger
}

// NewRouteHandler creates a RouteHandler.
func NewRouteHandler(dispatcher *service.Dispatcher, profiles *config.ProfileStore, logger *zap.Logger) *RouteHandler {
	return &RouteHandler{dispatcher: dispatcher, profiles: profiles, logger: logger}
}

type routeRequest struct {
	Prompt        string               `json:"prompt" binding:"required"`
	FileLang      string               `json:"file_lang"`
	FilePath      string               `json:"file_path"`
	ContextKB     int                  `json:"context_kb"`
	PrivacyStrict bool                 `json:"privacy_strict"`
	Mode          string               `json:"mode"`
	Budget        *models.BudgetConfig `json:"budget"`
}

// Route handles POST /v1/route: one non-streaming dispatch.
func (h *RouteHandler) Route(c *gin.Context) {
	var body routeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := &models.RoutingRequest{
		Prompt:        body.Prompt,
		FileLang:      body.FileLang,
		FilePath:      body.FilePath,
		ContextKB:     body.ContextKB,
		PrivacyStrict: body.PrivacyStrict,
		Budget:        body.Budget,
	}
	if body.Mode != "" {
		req.Mode = models.ParseMode(body.Mode)
	}

	// One snapshot for the whole call; hot swaps never affect in-flight
	// requests.
	profile := h.profiles.Snapshot()

	result, err := h.dispatcher.Dispatch(c.Request.Context(), profile, req, nil)
	if err != nil {
		h.renderDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Profile handles GET /v1/profile: the active snapshot for diagnostics.
func (h *RouteHandler) Profile(c *gin.Context) {
	c.JSON(http.StatusOK, h.profiles.Snapshot())
}

// renderDispatchError maps the engine's error taxonomy onto HTTP statuses.
func (h *RouteHandler) renderDispatchError(c *gin.Context, err error) {
	var (
		noCandidate *models.NoMatchingCandidateError
		privacy     *models.PrivacyViolationError
		budget      *models.BudgetExceededError
		partial     *models.PartialStreamError
		exhausted   *models.AllCandidatesExhaustedError
	)

	switch {
	case errors.As(err, &noCandidate):
		errorResponse(c, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &privacy):
		errorResponse(c, http.StatusForbidden, err.Error())
	case errors.As(err, &budget):
		errorResponse(c, http.StatusPaymentRequired, err.Error())
	case errors.As(err, &partial):
		c.JSON(http.StatusBadGateway, gin.H{
			"detail":          err.Error(),
			"partial_content": partial.Content,
		})
	case errors.As(err, &exhausted):
		c.JSON(http.StatusBadGateway, gin.H{
			"detail":     err.Error(),
			"rejections": exhausted.Rejections,
		})
	default:
		h.logger.Error("dispatch failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
