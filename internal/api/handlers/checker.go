package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/chequemate/backend/internal/checker"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CheckerControl is the operator's handle on the result poller.
type CheckerControl interface {
	Status() []checker.Status
	Stop(matchID string) bool
	ArmWithDelay(t checker.Target, d time.Duration) bool
}

// MatchByID loads one match record.
type MatchByID interface {
	FindByID(ctx context.Context, matchID string) (*models.MatchRecord, error)
}

// CheckerStatus lists every match currently being polled.
func CheckerStatus(ctl CheckerControl) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := ctl.Status()
		c.JSON(http.StatusOK, gin.H{"active": len(entries), "checkers": entries})
	}
}

// StopChecker cancels polling for a match. The match stays unresolved.
func StopChecker(ctl CheckerControl) gin.HandlerFunc {
	return func(c *gin.Context) {
		matchID := c.Param("matchId")
		stopped := ctl.Stop(matchID)
		logger.L().Named("ops").Info("manual checker stop", zap.String("match_id", matchID), zap.Bool("stopped", stopped))
		if !stopped {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active checker for match"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stopped": true, "match_id": matchID})
	}
}

// RecheckMatch re-arms polling for a started, unresolved match with no
// initial delay.
func RecheckMatch(ctl CheckerControl, repo MatchByID) gin.HandlerFunc {
	return func(c *gin.Context) {
		matchID := c.Param("matchId")
		rec, err := repo.FindByID(c.Request.Context(), matchID)
		if err != nil {
			respondError(c, err)
			return
		}
		if rec.ResultChecked {
			c.JSON(http.StatusConflict, gin.H{"error": "match already resolved"})
			return
		}
		if !rec.BothRedirected {
			c.JSON(http.StatusConflict, gin.H{"error": "match has not started"})
			return
		}

		armed := ctl.ArmWithDelay(checker.TargetFromRecord(rec), 0)
		logger.L().Named("ops").Info("manual recheck", zap.String("match_id", matchID), zap.Bool("armed", armed))
		c.JSON(http.StatusOK, gin.H{"armed": armed, "match_id": matchID})
	}
}
