package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chequemate/backend/internal/models"
	"github.com/jmoiron/sqlx"
)

const recordColumns = `id, challenge_id, challenger_id, opponent_id, challenger_username, opponent_username,
	platform, time_control, challenger_redirected, opponent_redirected, both_redirected, match_started_at,
	result_checked, winner_id, result, match_result, completed_at, created_at, updated_at`

const resultColumns = `id, challenge_id, winner_id, loser_id, result, platform, game_url, url_verified,
	proof_consistent, reported_by, source, authoritative, match_date`

// PostgresStore is the Repository backed by ongoing_matches and match_results.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByID(ctx context.Context, matchID string) (*models.MatchRecord, error) {
	var rec models.MatchRecord
	err := s.db.GetContext(ctx, &rec, `SELECT `+recordColumns+` FROM ongoing_matches WHERE id = $1`, matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find match %s: %w", matchID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) FindByChallenge(ctx context.Context, challengeID int64) (*models.MatchRecord, error) {
	var rec models.MatchRecord
	err := s.db.GetContext(ctx, &rec, `SELECT `+recordColumns+` FROM ongoing_matches WHERE challenge_id = $1`, challengeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find match for challenge %d: %w", challengeID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) EnsureRecord(ctx context.Context, rec *models.MatchRecord) (*models.MatchRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ongoing_matches (id, challenge_id, challenger_id, opponent_id, challenger_username,
			opponent_username, platform, time_control, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (challenge_id) DO NOTHING`,
		rec.ID, rec.ChallengeID, rec.ChallengerID, rec.OpponentID, rec.ChallengerUsername,
		rec.OpponentUsername, rec.Platform, rec.TimeControl)
	if err != nil {
		return nil, fmt.Errorf("insert match for challenge %d: %w", rec.ChallengeID, err)
	}
	return s.FindByChallenge(ctx, rec.ChallengeID)
}

type redirectRow struct {
	models.MatchRecord
	StartedNow   bool `db:"started_now"`
	FirstForUser bool `db:"first_for_user"`
}

// The CTE locks the row and keeps the pre-update flags so the caller learns
// whether this statement was the one that started the match.
const markRedirectedQuery = `
	WITH prev AS (
		SELECT id, challenger_redirected, opponent_redirected, match_started_at
		FROM ongoing_matches
		WHERE challenge_id = $1
		FOR UPDATE
	)
	UPDATE ongoing_matches m SET
		challenger_redirected = m.challenger_redirected OR $2,
		opponent_redirected   = m.opponent_redirected OR $3,
		both_redirected       = (m.challenger_redirected OR $2) AND (m.opponent_redirected OR $3),
		match_started_at      = CASE
			WHEN m.match_started_at IS NULL AND (m.challenger_redirected OR $2) AND (m.opponent_redirected OR $3)
			THEN NOW()
			ELSE m.match_started_at
		END,
		updated_at = NOW()
	FROM prev
	WHERE m.id = prev.id
	RETURNING m.id, m.challenge_id, m.challenger_id, m.opponent_id, m.challenger_username, m.opponent_username,
		m.platform, m.time_control, m.challenger_redirected, m.opponent_redirected, m.both_redirected,
		m.match_started_at, m.result_checked, m.winner_id, m.result, m.match_result, m.completed_at,
		m.created_at, m.updated_at,
		(prev.match_started_at IS NULL AND m.match_started_at IS NOT NULL) AS started_now,
		(CASE WHEN $2 THEN NOT prev.challenger_redirected ELSE NOT prev.opponent_redirected END) AS first_for_user`

func (s *PostgresStore) MarkRedirected(ctx context.Context, challengeID int64, isChallenger bool) (*Redirection, error) {
	var row redirectRow
	err := s.db.QueryRowxContext(ctx, markRedirectedQuery, challengeID, isChallenger, !isChallenger).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark redirected for challenge %d: %w", challengeID, err)
	}
	rec := row.MatchRecord
	return &Redirection{Record: &rec, StartedNow: row.StartedNow, FirstForUser: row.FirstForUser}, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, res Resolution) (*models.MatchResult, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, `
		UPDATE ongoing_matches
		SET result_checked = TRUE, winner_id = $2, result = $3, match_result = $4, updated_at = NOW()
		WHERE id = $1 AND result_checked = FALSE`,
		res.MatchID, nullInt(res.WinnerID), res.Code, jsonParam(res.Raw))
	if err != nil {
		return nil, false, fmt.Errorf("claim match %s: %w", res.MatchID, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim match %s: %w", res.MatchID, err)
	}
	claimed := n == 1

	row := resultRow(res, claimed, timeNow())
	var stored models.MatchResult
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO match_results (challenge_id, winner_id, loser_id, result, platform, game_url, url_verified,
			proof_consistent, reported_by, source, authoritative, match_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+resultColumns,
		row.ChallengeID, row.WinnerID, row.LoserID, row.Result, row.Platform, row.GameURL, row.URLVerified,
		row.ProofConsistent, row.ReportedBy, row.Source, row.Authoritative, row.MatchDate).StructScan(&stored)
	if err != nil {
		return nil, false, fmt.Errorf("insert match result for challenge %d: %w", res.ChallengeID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit resolve: %w", err)
	}
	return &stored, claimed, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, matchID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ongoing_matches SET completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND result_checked = TRUE AND completed_at IS NULL`, matchID)
	if err != nil {
		return fmt.Errorf("complete match %s: %w", matchID, err)
	}
	return nil
}

func (s *PostgresStore) ListAwaitingResult(ctx context.Context) ([]models.MatchRecord, error) {
	var recs []models.MatchRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT `+recordColumns+`
		FROM ongoing_matches
		WHERE both_redirected = TRUE AND result_checked = FALSE AND match_started_at IS NOT NULL
		ORDER BY match_started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list awaiting matches: %w", err)
	}
	return recs, nil
}

func (s *PostgresStore) ResultsForChallenge(ctx context.Context, challengeID int64) ([]models.MatchResult, error) {
	var rows []models.MatchResult
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+resultColumns+` FROM match_results WHERE challenge_id = $1 ORDER BY id ASC`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("list results for challenge %d: %w", challengeID, err)
	}
	return rows, nil
}

// lib/pq sends []byte as bytea, which does not cast to jsonb.
func jsonParam(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
