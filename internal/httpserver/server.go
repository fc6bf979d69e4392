package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const unmatchedRoute = "unmatched"

// Run serves router on cfg.ListenAddr until ctx is cancelled.
func Run(ctx context.Context, cfg Config, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pointsd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires every route. A nil metrics disables request metrics; a nil gatherer serves the default registry.
func NewRouter(cfg Config, handler *Handler, metrics *observability.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if metrics != nil {
		router.Use(requestMetrics(metrics))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerAuthorization},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.POST("/accounts", handler.handleOpenAccount)
	api.GET("/accounts/:id", handler.handleGetAccount)
	api.GET("/accounts/:id/entries", handler.handleListEntries)
	api.GET("/accounts/:id/audit", handler.handleAudit)
	api.GET("/accounts/:id/orders", handler.handleListOrders)
	api.GET("/accounts/:id/funding-requests", handler.handleListFundingRequests)
	api.POST("/orders", handler.handlePlaceOrder)
	api.GET("/orders/:id", handler.handleGetOrder)
	api.POST("/funding-requests", handler.handleCreateFundingRequest)
	api.GET("/funding-requests/:id", handler.handleGetFundingRequest)
	api.POST("/webhooks/deposits", webhookGuard(cfg.WebhookSecret), handler.handleDepositNotification)

	admin := router.Group("/admin")
	admin.Use(adminGuard([]byte(cfg.AdminSigningKey), cfg.AdminIssuer))
	admin.POST("/accounts/:id/adjustments", handler.handleAdjustBalance)
	admin.POST("/funding-requests/:id/fail", handler.handleFailFundingRequest)
	admin.POST("/orders/:id/status", handler.handleAdvanceOrder)

	return router
}

func requestMetrics(metrics *observability.Metrics) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.ObserveHTTP(ctx.Request.Method, route, ctx.Writer.Status(), time.Since(started))
	}
}
