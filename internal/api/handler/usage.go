package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/user/model-router-go/internal/config"
	"github.com/user/model-router-go/internal/repository"
	"github.com/user/model-router-go/internal/service"
	"go.uber.org/zap"
)

// UsageHandler serves budget usage, warnings and the recent transaction log.
type UsageHandler struct {
	ledger   *service.BudgetLedger
	txRepo   repository.TransactionRepository
	profiles *config.ProfileStore
	logger   *zap.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(ledger *service.BudgetLedger, txRepo repository.TransactionRepository, profiles *config.ProfileStore, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{ledger: ledger, txRepo: txRepo, profiles: profiles, logger: logger}
}

// Usage handles GET /v1/usage.
func (h *UsageHandler) Usage(c *gin.Context) {
	usage, err := h.ledger.GetBudgetUsage(c.Request.Context())
	if err != nil {
		h.logger.Error("usage aggregation failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to aggregate usage")
		return
	}
	c.JSON(http.StatusOK, usage)
}

// Warnings handles GET /v1/budget/warnings against the active profile budget.
func (h *UsageHandler) Warnings(c *gin.Context) {
	budget := h.profiles.Snapshot().Budget
	warnings, err := h.ledger.GetBudgetWarnings(c.Request.Context(), budget)
	if err != nil {
		h.logger.Error("warning computation failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to compute warnings")
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"warnings": warnings})
}

// Transactions handles GET /v1/transactions?limit=N.
func (h *UsageHandler) Transactions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			errorResponse(c, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	txs, err := h.txRepo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("transaction listing failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}
