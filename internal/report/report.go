// Package report handles results submitted by the players themselves.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/chequemate/backend/internal/chessapi"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/outcome"
	"go.uber.org/zap"
)

var (
	ErrInvalidResult   = errors.New("result must be one of win, loss, draw")
	ErrAlreadyResolved = errors.New("match already resolved")
)

// Reported results, from the reporter's point of view
const (
	ResultWin  = "win"
	ResultLoss = "loss"
	ResultDraw = "draw"
)

type Report struct {
	ChallengeID int64
	Result      string
	GameURL     string
	ReporterID  int64
}

// GameFetcher loads one game by platform id.
type GameFetcher interface {
	FetchGame(ctx context.Context, platform, id string) (*chessapi.Game, error)
}

type Resolver interface {
	Resolve(ctx context.Context, res match.Resolution) (*models.MatchResult, bool, error)
}

// Stopper cancels the match's automatic result polling.
type Stopper interface {
	Stop(matchID string) bool
}

type Service struct {
	repo          match.Repository
	fetcher       GameFetcher
	resolver      Resolver
	stopper       Stopper
	verifyTimeout time.Duration
	log           *zap.Logger
}

func NewService(repo match.Repository, fetcher GameFetcher, resolver Resolver, stopper Stopper, verifyTimeout time.Duration) *Service {
	if verifyTimeout <= 0 {
		verifyTimeout = 5 * time.Second
	}
	return &Service{
		repo:          repo,
		fetcher:       fetcher,
		resolver:      resolver,
		stopper:       stopper,
		verifyTimeout: verifyTimeout,
		log:           logger.L().Named("report"),
	}
}

// Report records a player's claimed result. The game link is checked but a
// failed check never blocks the report; it only marks it unverified. When
// the match was already resolved the report is kept for audit and
// ErrAlreadyResolved is returned along with the stored row.
func (s *Service) Report(ctx context.Context, r Report) (*models.MatchResult, error) {
	result := strings.ToLower(strings.TrimSpace(r.Result))
	if result != ResultWin && result != ResultLoss && result != ResultDraw {
		return nil, ErrInvalidResult
	}

	rec, err := s.repo.FindByChallenge(ctx, r.ChallengeID)
	if err != nil {
		return nil, err
	}
	if !rec.IsParticipant(r.ReporterID) {
		return nil, match.ErrForbidden
	}

	reporter, other := r.ReporterID, rec.OtherParticipant(r.ReporterID)
	res := match.Resolution{
		MatchID:     rec.ID,
		ChallengeID: rec.ChallengeID,
		Platform:    rec.Platform,
		GameURL:     strings.TrimSpace(r.GameURL),
		ReportedBy:  &reporter,
		Source:      models.SourceManual,
	}
	switch result {
	case ResultWin:
		res.Code, res.WinnerID, res.LoserID = outcome.CodeWin, &reporter, &other
	case ResultLoss:
		res.Code, res.WinnerID, res.LoserID = outcome.CodeResigned, &other, &reporter
	default:
		res.Code = outcome.CodeAgreed
	}

	v := s.verify(ctx, rec, res.GameURL, reporter, result)
	res.URLVerified = v.urlVerified
	res.ProofConsistent = v.proofConsistent
	res.Raw, _ = json.Marshal(map[string]interface{}{
		"reported_result": result,
		"reported_by":     reporter,
		"game_url":        res.GameURL,
		"url_verified":    v.urlVerified,
	})

	stored, claimed, err := s.resolver.Resolve(ctx, res)
	if err != nil {
		return nil, err
	}
	if s.stopper != nil {
		s.stopper.Stop(rec.ID)
	}

	s.log.Info("result reported",
		zap.String("match_id", rec.ID),
		zap.Int64("reporter_id", reporter),
		zap.String("result", result),
		zap.Bool("url_verified", v.urlVerified),
		zap.Bool("authoritative", claimed))

	if !claimed {
		return stored, ErrAlreadyResolved
	}
	return stored, nil
}

type verification struct {
	urlVerified     bool
	proofConsistent *bool
}

func (s *Service) verify(ctx context.Context, rec *models.MatchRecord, gameURL string, reporter int64, result string) verification {
	var v verification
	if gameURL == "" || s.fetcher == nil {
		return v
	}

	platform, gameID, ok := chessapi.ExtractGameID(gameURL)
	if !ok || !strings.EqualFold(platform, rec.Platform) {
		s.log.Info("game link not recognised for platform", zap.String("match_id", rec.ID), zap.String("game_url", gameURL))
		return v
	}

	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	game, err := s.fetcher.FetchGame(vctx, platform, gameID)
	if err != nil {
		s.log.Info("game link verification failed", zap.String("match_id", rec.ID), zap.Error(err))
		return v
	}
	if !game.Has(rec.ChallengerUsername) || !game.Has(rec.OpponentUsername) {
		s.log.Info("game link does not involve both players", zap.String("match_id", rec.ID), zap.String("game_url", gameURL))
		return v
	}
	v.urlVerified = true

	reporterName := rec.ChallengerUsername
	if reporter == rec.OpponentID {
		reporterName = rec.OpponentUsername
	}
	reporterSide := outcome.Black
	if strings.EqualFold(game.White.Username, reporterName) {
		reporterSide = outcome.White
	}

	winner, draw, decided := gameOutcome(game)
	if !decided {
		return v
	}
	var consistent bool
	switch result {
	case ResultDraw:
		consistent = draw
	case ResultWin:
		consistent = !draw && winner == reporterSide
	case ResultLoss:
		consistent = !draw && winner != reporterSide
	}
	v.proofConsistent = &consistent
	return v
}

// gameOutcome prefers the replayed PGN and falls back to the side tokens.
func gameOutcome(g *chessapi.Game) (winner outcome.Side, draw, decided bool) {
	if g.PGN != "" {
		if sum, err := chessapi.SummarizePGN(g.PGN); err == nil && sum.Decided {
			return sum.Winner, sum.Draw, true
		}
	}
	d := outcome.FromSides(g.White.Result, g.Black.Result)
	if !d.Recognized {
		return outcome.NoSide, false, false
	}
	return d.Winner, d.Winner == outcome.NoSide, true
}
