package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/middleware"
	"github.com/chequemate/backend/internal/payment"
	"github.com/chequemate/backend/internal/report"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps domain errors onto status codes. Unknown errors are
// logged and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, match.ErrNotFound), errors.Is(err, payment.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, match.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, report.ErrInvalidResult):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, report.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.L().Named("api").Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// currentUser reads the id set by the auth middleware.
func currentUser(c *gin.Context) (int64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return id, ok
}

func parseChallengeID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("challengeId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge id"})
		return 0, false
	}
	return id, true
}
