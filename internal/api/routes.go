package api

import (
	"github.com/chequemate/backend/internal/api/handlers"
	"github.com/chequemate/backend/internal/checker"
	"github.com/chequemate/backend/internal/config"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/middleware"
	"github.com/chequemate/backend/internal/notify"
	"github.com/gin-gonic/gin"
)

// Deps are the services the routes hand requests to.
type Deps struct {
	Barrier  handlers.Redirector
	Matches  match.Repository
	Checker  *checker.Scheduler
	Reporter handlers.Reporter
	Payments handlers.CallbackApplier
	Notifier notify.Notifier
	Hub      *notify.Hub
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, cfg *config.Config, d Deps) {
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
		logger.L().Named("api").Info("dev mode: no-cache headers enabled")
	}

	auth := middleware.AuthMiddleware(cfg, false)
	ops := middleware.OpsTokenMiddleware(cfg)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(func() int { return len(d.Checker.Status()) }))
		v1.GET("/config", handlers.GetConfig(cfg))

		// Gateway callbacks
		v1.POST("/payments/callback", handlers.PaymentCallback(d.Payments, d.Notifier))

		matches := v1.Group("/matches", auth)
		{
			matches.POST("/redirect", handlers.RecordRedirect(d.Barrier, d.Checker))
			matches.GET("/:challengeId", handlers.GetMatch(d.Matches, d.Checker))
		}

		v1.POST("/match-results/report-result", auth, handlers.ReportResult(d.Reporter))

		checkers := v1.Group("/match-checker", ops)
		{
			checkers.GET("/status", handlers.CheckerStatus(d.Checker))
			checkers.POST("/:matchId/stop", handlers.StopChecker(d.Checker))
			checkers.POST("/:matchId/recheck", handlers.RecheckMatch(d.Checker, d.Matches))
		}

		v1.GET("/ws", middleware.WebSocketCORSCheck(cfg), middleware.AuthMiddleware(cfg, true), handlers.HandleNotifications(d.Hub))
	}
}
