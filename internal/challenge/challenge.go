package challenge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chequemate/backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when the challenge does not exist.
var ErrNotFound = errors.New("challenge not found")

// Reader loads accepted challenges together with the platform handles of both players.
type Reader interface {
	GetChallenge(ctx context.Context, challengeID int64) (*models.Challenge, error)
}

// Store reads the challenges and users tables. It never writes them.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Platform handles fall back to the app username when a player has not linked one.
const challengeQuery = `
	SELECT c.id, c.challenger, c.opponent, c.platform, c.time_control, c.bet_amount,
	       c.challenger_phone, c.opponent_phone, c.status,
	       CASE WHEN c.platform = 'lichess.org'
	            THEN COALESCE(NULLIF(cu.lichess_username, ''), cu.username)
	            ELSE COALESCE(NULLIF(cu.chess_com_username, ''), cu.username)
	       END AS challenger_username,
	       CASE WHEN c.platform = 'lichess.org'
	            THEN COALESCE(NULLIF(ou.lichess_username, ''), ou.username)
	            ELSE COALESCE(NULLIF(ou.chess_com_username, ''), ou.username)
	       END AS opponent_username
	FROM challenges c
	JOIN users cu ON cu.id = c.challenger
	JOIN users ou ON ou.id = c.opponent
	WHERE c.id = $1`

func (s *Store) GetChallenge(ctx context.Context, challengeID int64) (*models.Challenge, error) {
	var c models.Challenge
	if err := s.db.GetContext(ctx, &c, challengeQuery, challengeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load challenge %d: %w", challengeID, err)
	}
	return &c, nil
}
