package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/models"
	"github.com/gin-gonic/gin"
)

// Redirector records a player's arrival on the chess platform.
type Redirector interface {
	RecordRedirection(ctx context.Context, challengeID, userID int64) (*match.Redirection, error)
}

// MatchReader loads match records for the status endpoint.
type MatchReader interface {
	FindByChallenge(ctx context.Context, challengeID int64) (*models.MatchRecord, error)
	ResultsForChallenge(ctx context.Context, challengeID int64) ([]models.MatchResult, error)
}

// PollStater reports whether a match is waiting for, or in, a result check.
type PollStater interface {
	PollState(matchID string) match.PollState
}

type matchView struct {
	*models.MatchRecord
	State          string  `json:"state"`
	TimeControl    string  `json:"time_control,omitempty"`
	MatchStartedAt *string `json:"match_started_at,omitempty"`
	WinnerID       *int64  `json:"winner_id,omitempty"`
	Result         string  `json:"result,omitempty"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

func newMatchView(rec *models.MatchRecord, poll match.PollState) matchView {
	v := matchView{
		MatchRecord: rec,
		State:       match.StateOf(rec, poll),
		TimeControl: rec.TimeControl.String,
		Result:      rec.Result.String,
	}
	if rec.MatchStartedAt.Valid {
		s := rec.MatchStartedAt.Time.UTC().Format(time.RFC3339)
		v.MatchStartedAt = &s
	}
	if rec.CompletedAt.Valid {
		s := rec.CompletedAt.Time.UTC().Format(time.RFC3339)
		v.CompletedAt = &s
	}
	if rec.WinnerID.Valid {
		id := rec.WinnerID.Int64
		v.WinnerID = &id
	}
	return v
}

// RecordRedirect is called by the client right before it sends the player
// to the chess platform.
func RecordRedirect(barrier Redirector, polls PollStater) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req struct {
			ChallengeID int64 `json:"challenge_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.ChallengeID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "challenge_id required"})
			return
		}

		red, err := barrier.RecordRedirection(c.Request.Context(), req.ChallengeID, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"match":       newMatchView(red.Record, polls.PollState(red.Record.ID)),
			"started_now": red.StartedNow,
		})
	}
}

// GetMatch returns the match record for a challenge with its derived state
// and the result audit. Only participants may read it.
func GetMatch(repo MatchReader, polls PollStater) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		challengeID, ok := parseChallengeID(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		rec, err := repo.FindByChallenge(ctx, challengeID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !rec.IsParticipant(userID) {
			respondError(c, match.ErrForbidden)
			return
		}
		results, err := repo.ResultsForChallenge(ctx, challengeID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"match":   newMatchView(rec, polls.PollState(rec.ID)),
			"results": newResultViews(results),
		})
	}
}

type resultView struct {
	models.MatchResult
	WinnerID        *int64 `json:"winner_id,omitempty"`
	LoserID         *int64 `json:"loser_id,omitempty"`
	GameURL         string `json:"game_url,omitempty"`
	ProofConsistent *bool  `json:"proof_consistent,omitempty"`
	ReportedBy      *int64 `json:"reported_by,omitempty"`
}

func newResultView(r models.MatchResult) resultView {
	v := resultView{MatchResult: r, GameURL: r.GameURL.String}
	if r.WinnerID.Valid {
		v.WinnerID = &r.WinnerID.Int64
	}
	if r.LoserID.Valid {
		v.LoserID = &r.LoserID.Int64
	}
	if r.ProofConsistent.Valid {
		v.ProofConsistent = &r.ProofConsistent.Bool
	}
	if r.ReportedBy.Valid {
		v.ReportedBy = &r.ReportedBy.Int64
	}
	return v
}

func newResultViews(rows []models.MatchResult) []resultView {
	out := make([]resultView, 0, len(rows))
	for _, r := range rows {
		out = append(out, newResultView(r))
	}
	return out
}
