package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/report"
	"github.com/gin-gonic/gin"
)

// Reporter accepts a player's own account of the result.
type Reporter interface {
	Report(ctx context.Context, r report.Report) (*models.MatchResult, error)
}

// ReportResult lets a participant submit win, loss or draw with an optional
// link to the game. A report that loses the race to an earlier resolution
// is kept for audit and answered with 409.
func ReportResult(svc Reporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req struct {
			ChallengeID int64  `json:"challenge_id" binding:"required"`
			Result      string `json:"result" binding:"required"`
			GameURL     string `json:"game_url"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "challenge_id and result required"})
			return
		}

		res, err := svc.Report(c.Request.Context(), report.Report{
			ChallengeID: req.ChallengeID,
			Result:      req.Result,
			GameURL:     req.GameURL,
			ReporterID:  userID,
		})
		if errors.Is(err, report.ErrAlreadyResolved) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "result": resultOrNil(res)})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": newResultView(*res)})
	}
}

func resultOrNil(r *models.MatchResult) interface{} {
	if r == nil {
		return nil
	}
	return newResultView(*r)
}
