package handlers

import (
	"net/http"

	"github.com/chequemate/backend/internal/config"
	"github.com/chequemate/backend/internal/models"
	"github.com/gin-gonic/gin"
)

// GetConfig returns minimal config values required by frontend
func GetConfig(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"platforms":              []string{models.PlatformChessCom, models.PlatformLichess},
			"min_payout_amount":      cfg.MinPayoutAmount,
			"checker_interval_secs":  cfg.CheckerIntervalSeconds,
			"checker_max_attempts":   cfg.CheckerMaxAttempts,
			"payments_configured":    cfg.PaymentsConfigured(),
			"verify_timeout_seconds": cfg.VerifyTimeoutSeconds,
		})
	}
}
