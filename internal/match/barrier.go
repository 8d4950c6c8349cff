package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/chequemate/backend/internal/challenge"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Armer admits a started match into result polling.
type Armer interface {
	ArmMatch(rec *models.MatchRecord) bool
}

// StakeCollector requests a player's stake from the payment gateway.
type StakeCollector interface {
	CollectStake(ctx context.Context, ch *models.Challenge, userID int64) error
}

// BarrierConfig wires the barrier's collaborators. Notifier and Stakes are optional.
type BarrierConfig struct {
	Repo       Repository
	Challenges challenge.Reader
	Armer      Armer
	Notifier   notify.Notifier
	Stakes     StakeCollector
}

// Barrier records each player's arrival on the external platform and starts
// the match once both have arrived.
type Barrier struct {
	repo       Repository
	challenges challenge.Reader
	armer      Armer
	notifier   notify.Notifier
	stakes     StakeCollector
	log        *zap.Logger
}

func NewBarrier(cfg BarrierConfig) *Barrier {
	n := cfg.Notifier
	if n == nil {
		n = notify.Discard{}
	}
	return &Barrier{
		repo:       cfg.Repo,
		challenges: cfg.Challenges,
		armer:      cfg.Armer,
		notifier:   n,
		stakes:     cfg.Stakes,
		log:        logger.L().Named("barrier"),
	}
}

// RecordRedirection marks userID as redirected for the challenge. The match
// record is created on the first call. Arming happens only on the call that
// makes both players redirected; repeated calls are no-ops.
func (b *Barrier) RecordRedirection(ctx context.Context, challengeID, userID int64) (*Redirection, error) {
	ch, err := b.challenges.GetChallenge(ctx, challengeID)
	if errors.Is(err, challenge.ErrNotFound) {
		return nil, fmt.Errorf("challenge %d: %w", challengeID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var isChallenger bool
	switch userID {
	case ch.ChallengerID:
		isChallenger = true
	case ch.OpponentID:
		isChallenger = false
	default:
		return nil, fmt.Errorf("user %d has no seat in challenge %d: %w", userID, challengeID, ErrNotFound)
	}

	if _, err := b.repo.EnsureRecord(ctx, NewRecord(uuid.NewString(), ch)); err != nil {
		return nil, err
	}

	red, err := b.repo.MarkRedirected(ctx, challengeID, isChallenger)
	if err != nil {
		return nil, err
	}

	b.log.Info("player redirected",
		zap.Int64("challenge_id", challengeID),
		zap.Int64("user_id", userID),
		zap.Bool("challenger", isChallenger),
		zap.Bool("both_redirected", red.Record.BothRedirected),
		zap.Bool("first_for_user", red.FirstForUser))

	if red.FirstForUser {
		b.afterFirstRedirect(ctx, ch, red.Record, userID)
	}

	if red.StartedNow {
		b.log.Info("both players redirected, match started",
			zap.String("match_id", red.Record.ID),
			zap.Time("started_at", red.Record.MatchStartedAt.Time))
		for _, uid := range []int64{red.Record.ChallengerID, red.Record.OpponentID} {
			b.notify(ctx, uid, notify.Event{Type: notify.EventMatchStarted, Data: map[string]interface{}{
				"challengeId": challengeID,
				"matchId":     red.Record.ID,
				"platform":    red.Record.Platform,
			}})
		}
		if b.armer != nil {
			b.armer.ArmMatch(red.Record)
		}
	}

	return red, nil
}

func (b *Barrier) afterFirstRedirect(ctx context.Context, ch *models.Challenge, rec *models.MatchRecord, userID int64) {
	b.notify(ctx, rec.OtherParticipant(userID), notify.Event{Type: notify.EventPlayerRedirected, Data: map[string]interface{}{
		"challengeId":  ch.ID,
		"redirectedBy": userID,
		"platform":     rec.Platform,
	}})

	if b.stakes == nil || !ch.Stake().IsPositive() {
		return
	}
	if err := b.stakes.CollectStake(ctx, ch, userID); err != nil {
		b.log.Warn("stake collection failed",
			zap.Int64("challenge_id", ch.ID),
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

func (b *Barrier) notify(ctx context.Context, userID int64, ev notify.Event) {
	if err := b.notifier.Notify(ctx, userID, ev); err != nil {
		b.log.Warn("notification failed", zap.String("type", ev.Type), zap.Int64("user_id", userID), zap.Error(err))
	}
}
