// Package checker polls the external platforms for the result of every
// started match until a game turns up or the attempt budget runs out.
package checker

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chequemate/backend/internal/chessapi"
	"github.com/chequemate/backend/internal/config"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/outcome"
	"go.uber.org/zap"
)

// Finder looks up a finished game between two players.
type Finder interface {
	Supports(platform string) bool
	FindRecentGame(ctx context.Context, platform, a, b string, window time.Duration) (*chessapi.Game, error)
}

// Resolver turns a found game into the match's single authoritative outcome.
type Resolver interface {
	Resolve(ctx context.Context, res match.Resolution) (*models.MatchResult, bool, error)
}

// AwaitingLister returns the matches the recovery sweep must re-arm.
type AwaitingLister interface {
	ListAwaitingResult(ctx context.Context) ([]models.MatchRecord, error)
}

// Target is everything one poll chain needs.
type Target struct {
	MatchID            string
	ChallengeID        int64
	Platform           string
	TimeControl        string
	ChallengerID       int64
	OpponentID         int64
	ChallengerUsername string
	OpponentUsername   string
}

func TargetFromRecord(rec *models.MatchRecord) Target {
	return Target{
		MatchID:            rec.ID,
		ChallengeID:        rec.ChallengeID,
		Platform:           rec.Platform,
		TimeControl:        rec.TimeControl.String,
		ChallengerID:       rec.ChallengerID,
		OpponentID:         rec.OpponentID,
		ChallengerUsername: rec.ChallengerUsername,
		OpponentUsername:   rec.OpponentUsername,
	}
}

// Options tunes the poll cadence.
type Options struct {
	Interval       time.Duration
	MaxAttempts    int
	DefaultDelay   time.Duration
	Window         time.Duration
	AttemptTimeout time.Duration
}

// OptionsFromConfig reads the checker settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:       time.Duration(cfg.CheckerIntervalSeconds) * time.Second,
		MaxAttempts:    cfg.CheckerMaxAttempts,
		DefaultDelay:   time.Duration(cfg.CheckerDefaultDelaySeconds) * time.Second,
		Window:         time.Duration(cfg.CheckerWindowMinutes) * time.Minute,
		AttemptTimeout: time.Duration(cfg.ChessAPITimeoutSeconds) * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 20 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 30
	}
	if o.DefaultDelay <= 0 {
		o.DefaultDelay = 300 * time.Second
	}
	if o.Window <= 0 {
		o.Window = 30 * time.Minute
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	return o
}

type entry struct {
	target   Target
	timer    *time.Timer
	attempts int
	gen      uint64
	checking bool
	nextAt   time.Time
}

// Scheduler owns the registry of armed matches. Each match has at most one
// timer, and the next attempt is only scheduled after the previous one
// returns, so attempts for the same match never overlap.
type Scheduler struct {
	finder   Finder
	resolver Resolver
	opts     Options
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	closed  bool
}

func NewScheduler(finder Finder, resolver Resolver, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		finder:   finder,
		resolver: resolver,
		opts:     opts.withDefaults(),
		log:      logger.L().Named("checker"),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
	}
}

// Arm schedules the first check after the time-control based delay.
func (s *Scheduler) Arm(t Target) bool {
	return s.ArmWithDelay(t, InitialDelay(t.TimeControl, s.opts.DefaultDelay))
}

// ArmMatch adapts Arm for the redirection barrier.
func (s *Scheduler) ArmMatch(rec *models.MatchRecord) bool {
	return s.Arm(TargetFromRecord(rec))
}

// ArmWithDelay registers the match and schedules its first check after d.
// It returns false when the match is already armed, the platform cannot be
// polled, or the scheduler has been shut down.
func (s *Scheduler) ArmWithDelay(t Target, d time.Duration) bool {
	if !s.finder.Supports(t.Platform) {
		s.log.Info("platform has no game feed, relying on manual report",
			zap.String("match_id", t.MatchID), zap.String("platform", t.Platform))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.entries[t.MatchID]; ok {
		return false
	}

	e := &entry{target: t}
	s.entries[t.MatchID] = e
	s.scheduleLocked(e, d)

	s.log.Info("result checker armed",
		zap.String("match_id", t.MatchID),
		zap.Int64("challenge_id", t.ChallengeID),
		zap.String("time_control", t.TimeControl),
		zap.Duration("delay", d))
	return true
}

func (s *Scheduler) scheduleLocked(e *entry, d time.Duration) {
	s.seq++
	gen := s.seq
	id := e.target.MatchID
	e.gen = gen
	e.checking = false
	e.nextAt = time.Now().Add(d)
	e.timer = time.AfterFunc(d, func() { s.fire(id, gen) })
}

// Stop cancels the match's pending check and forgets it. An attempt already
// in flight finishes but neither reschedules nor resolves.
func (s *Scheduler) Stop(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[matchID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, matchID)
	s.log.Info("result checker stopped", zap.String("match_id", matchID), zap.Int("attempts", e.attempts))
	return true
}

func (s *Scheduler) fire(matchID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[matchID]
	if !ok || e.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	e.checking = true
	e.attempts++
	attempt := e.attempts
	target := e.target
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	game, err := s.check(target)
	if err != nil {
		s.log.Warn("result check failed, treating as miss",
			zap.String("match_id", matchID), zap.Int("attempt", attempt), zap.Error(err))
	}

	if game != nil {
		if !s.owns(matchID, e) {
			s.log.Info("game found after checker was stopped, discarding", zap.String("match_id", matchID))
			return
		}
		s.resolve(target, game)
		s.mu.Lock()
		if s.entries[matchID] == e {
			delete(s.entries, matchID)
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[matchID] != e || s.closed {
		return
	}
	if attempt >= s.opts.MaxAttempts {
		delete(s.entries, matchID)
		s.log.Warn("result checker exhausted, waiting for manual report",
			zap.String("match_id", matchID), zap.Int("attempts", attempt))
		return
	}
	s.log.Debug("no result yet, rescheduling",
		zap.String("match_id", matchID), zap.Int("attempt", attempt), zap.Duration("in", s.opts.Interval))
	s.scheduleLocked(e, s.opts.Interval)
}

func (s *Scheduler) owns(matchID string, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[matchID] == e && !s.closed
}

func (s *Scheduler) check(t Target) (*chessapi.Game, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.AttemptTimeout)
	defer cancel()
	return s.finder.FindRecentGame(ctx, t.Platform, t.ChallengerUsername, t.OpponentUsername, s.opts.Window)
}

func (s *Scheduler) resolve(t Target, g *chessapi.Game) {
	d := outcome.FromSides(g.White.Result, g.Black.Result)
	if !d.Recognized {
		s.log.Warn("unrecognized outcome tokens, settling as draw",
			zap.String("match_id", t.MatchID),
			zap.String("white_result", g.White.Result),
			zap.String("black_result", g.Black.Result))
	}

	res := match.Resolution{
		MatchID:     t.MatchID,
		ChallengeID: t.ChallengeID,
		Platform:    t.Platform,
		Code:        d.Code,
		GameURL:     g.URL,
		URLVerified: true,
		Source:      models.SourcePoller,
		Raw:         rawGame(g),
	}

	whiteIsChallenger := strings.EqualFold(g.White.Username, t.ChallengerUsername)
	sideUser := func(side outcome.Side) *int64 {
		var id int64
		switch {
		case side == outcome.NoSide:
			return nil
		case (side == outcome.White) == whiteIsChallenger:
			id = t.ChallengerID
		default:
			id = t.OpponentID
		}
		return &id
	}
	res.WinnerID = sideUser(d.Winner)
	res.LoserID = sideUser(d.Loser)

	_, claimed, err := s.resolver.Resolve(s.ctx, res)
	if err != nil {
		s.log.Error("resolving match failed", zap.String("match_id", t.MatchID), zap.Error(err))
		return
	}
	if !claimed {
		s.log.Info("match already resolved by another source", zap.String("match_id", t.MatchID))
		return
	}
	s.log.Info("match resolved from platform feed",
		zap.String("match_id", t.MatchID), zap.String("game_url", g.URL), zap.String("result", d.Code))
}

func rawGame(g *chessapi.Game) []byte {
	raw, err := json.Marshal(map[string]interface{}{
		"id":       g.ID,
		"url":      g.URL,
		"platform": g.Platform,
		"white":    map[string]string{"username": g.White.Username, "result": g.White.Result},
		"black":    map[string]string{"username": g.Black.Username, "result": g.Black.Result},
		"end_time": g.EndTime.Unix(),
	})
	if err != nil {
		return nil
	}
	return raw
}

// Status is one registry entry as reported to operators.
type Status struct {
	MatchID         string    `json:"matchId"`
	ChallengeID     int64     `json:"challengeId"`
	CheckCount      int       `json:"checkCount"`
	MaxChecks       int       `json:"maxChecks"`
	RemainingChecks int       `json:"remainingChecks"`
	Checking        bool      `json:"checking"`
	NextCheckAt     time.Time `json:"nextCheckAt"`
}

// Status snapshots the registry.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, Status{
			MatchID:         id,
			ChallengeID:     e.target.ChallengeID,
			CheckCount:      e.attempts,
			MaxChecks:       s.opts.MaxAttempts,
			RemainingChecks: s.opts.MaxAttempts - e.attempts,
			Checking:        e.checking,
			NextCheckAt:     e.nextAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// PollState reports the registry's view of one match.
func (s *Scheduler) PollState(matchID string) match.PollState {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[matchID]
	switch {
	case !ok:
		return match.PollNone
	case e.checking:
		return match.PollRunning
	default:
		return match.PollWaiting
	}
}

// Recover re-arms, with no delay, every match that was started but never
// resolved before the process last stopped.
func (s *Scheduler) Recover(ctx context.Context, lister AwaitingLister) (int, error) {
	recs, err := lister.ListAwaitingResult(ctx)
	if err != nil {
		return 0, err
	}
	armed := 0
	for i := range recs {
		if s.ArmWithDelay(TargetFromRecord(&recs[i]), 0) {
			armed++
		}
	}
	s.log.Info("recovery sweep complete", zap.Int("awaiting", len(recs)), zap.Int("armed", armed))
	return armed, nil
}

// Cleanup stops every timer and waits for in-flight attempts to return.
func (s *Scheduler) Cleanup() {
	s.mu.Lock()
	s.closed = true
	n := len(s.entries)
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Info("result checkers cleaned up", zap.Int("stopped", n))
}
