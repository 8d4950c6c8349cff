package match

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chequemate/backend/internal/models"
)

var timeNow = time.Now

var (
	// ErrNotFound is returned when the challenge, the match or the participant mapping is missing.
	ErrNotFound = errors.New("match not found")
	// ErrForbidden is returned when the caller is not one of the two participants.
	ErrForbidden = errors.New("not a match participant")
)

// Redirection is the post-update state of a redirection event.
type Redirection struct {
	Record *models.MatchRecord
	// StartedNow is true only for the call that made both players redirected.
	StartedNow bool
	// FirstForUser is false when this user had already redirected.
	FirstForUser bool
}

// Resolution is a candidate outcome from either the poller or a manual report.
type Resolution struct {
	MatchID         string
	ChallengeID     int64
	Platform        string
	Code            string
	WinnerID        *int64
	LoserID         *int64
	GameURL         string
	URLVerified     bool
	ProofConsistent *bool
	ReportedBy      *int64
	Source          string
	Raw             []byte
}

// Repository persists match records and the append-only result audit.
type Repository interface {
	FindByID(ctx context.Context, matchID string) (*models.MatchRecord, error)
	FindByChallenge(ctx context.Context, challengeID int64) (*models.MatchRecord, error)
	// EnsureRecord inserts rec unless a record for the challenge already exists and returns the stored row.
	EnsureRecord(ctx context.Context, rec *models.MatchRecord) (*models.MatchRecord, error)
	// MarkRedirected sets one redirection flag and stamps the start time exactly once, atomically.
	MarkRedirected(ctx context.Context, challengeID int64, isChallenger bool) (*Redirection, error)
	// Resolve flips result_checked false to true and appends the audit row in one step.
	// claimed is false when another resolver already won; the audit row is then non-authoritative.
	Resolve(ctx context.Context, res Resolution) (result *models.MatchResult, claimed bool, err error)
	MarkCompleted(ctx context.Context, matchID string) error
	// ListAwaitingResult returns started, unresolved records for the recovery sweep.
	ListAwaitingResult(ctx context.Context) ([]models.MatchRecord, error)
	ResultsForChallenge(ctx context.Context, challengeID int64) ([]models.MatchResult, error)
}

// NewRecord builds an unredirected record for an accepted challenge.
func NewRecord(id string, ch *models.Challenge) *models.MatchRecord {
	return &models.MatchRecord{
		ID:                 id,
		ChallengeID:        ch.ID,
		ChallengerID:       ch.ChallengerID,
		OpponentID:         ch.OpponentID,
		ChallengerUsername: ch.ChallengerUsername,
		OpponentUsername:   ch.OpponentUsername,
		Platform:           ch.Platform,
		TimeControl:        ch.TimeControl,
	}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func resultRow(res Resolution, authoritative bool, now time.Time) models.MatchResult {
	return models.MatchResult{
		ChallengeID:     res.ChallengeID,
		WinnerID:        nullInt(res.WinnerID),
		LoserID:         nullInt(res.LoserID),
		Result:          res.Code,
		Platform:        res.Platform,
		GameURL:         nullString(res.GameURL),
		URLVerified:     res.URLVerified,
		ProofConsistent: nullBool(res.ProofConsistent),
		ReportedBy:      nullInt(res.ReportedBy),
		Source:          res.Source,
		Authoritative:   authoritative,
		MatchDate:       now,
	}
}
