// Package api provides the HTTP host surface over the routing engine.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/model-router-go/internal/api/handler"
	"github.com/user/model-router-go/internal/api/middleware"
	"github.com/user/model-router-go/internal/config"
	"github.com/user/model-router-go/internal/provider"
	"github.com/user/model-router-go/internal/repository"
	"github.com/user/model-router-go/internal/service"
	"go.uber.org/zap"
)

// Server wraps the HTTP router and its dependencies.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

// ServerDeps holds all dependencies for the API server.
type ServerDeps struct {
	Dispatcher *service.Dispatcher
	Ledger     *service.BudgetLedger
	TxRepo     repository.TransactionRepository
	Profiles   *config.ProfileStore
	Registry   *provider.Registry
	Logger     *zap.Logger
}

// NewServer creates a new API server with all routes configured.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware.
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	// Health check.
	healthHandler := handler.NewHealthHandler(deps.Registry)
	r.GET("/api/health", healthHandler.Health)

	routeHandler := handler.NewRouteHandler(deps.Dispatcher, deps.Profiles, logger)
	usageHandler := handler.NewUsageHandler(deps.Ledger, deps.TxRepo, deps.Profiles, logger)

	v1 := r.Group("/v1")
	{
		v1.POST("/route", routeHandler.Route)
		v1.GET("/profile", routeHandler.Profile)
		v1.GET("/usage", usageHandler.Usage)
		v1.GET("/budget/warnings", usageHandler.Warnings)
		v1.GET("/transactions", usageHandler.Transactions)
	}

	return &Server{router: r, logger: logger}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
