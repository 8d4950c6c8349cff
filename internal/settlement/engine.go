// Package settlement closes a resolved match: it claims the single
// authoritative result, moves the stakes and tells both players.
package settlement

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chequemate/backend/internal/challenge"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/notify"
	"github.com/chequemate/backend/internal/outcome"
	"github.com/chequemate/backend/internal/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Payouter sends money to a player's phone and returns the gateway's id.
type Payouter interface {
	Payout(ctx context.Context, requestID, phone string, amount decimal.Decimal, narration string) (string, error)
}

// Messenger sends a best-effort receipt.
type Messenger interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

type Config struct {
	Repo       match.Repository
	Challenges challenge.Reader
	Ledger     payment.Store
	// Payouter may be nil; payouts are then recorded for remediation.
	Payouter  Payouter
	Notifier  notify.Notifier
	Messenger Messenger
	MinPayout decimal.Decimal
}

type Engine struct {
	repo       match.Repository
	challenges challenge.Reader
	ledger     payment.Store
	payouter   Payouter
	notifier   notify.Notifier
	messenger  Messenger
	minPayout  decimal.Decimal
	log        *zap.Logger
}

func NewEngine(cfg Config) *Engine {
	n := cfg.Notifier
	if n == nil {
		n = notify.Discard{}
	}
	return &Engine{
		repo:       cfg.Repo,
		challenges: cfg.Challenges,
		ledger:     cfg.Ledger,
		payouter:   cfg.Payouter,
		notifier:   n,
		messenger:  cfg.Messenger,
		minPayout:  cfg.MinPayout,
		log:        logger.L().Named("settlement"),
	}
}

// Resolve records res and settles the match when this call wins the
// compare-and-set on result_checked. A losing call only leaves a
// non-authoritative audit row behind.
func (e *Engine) Resolve(ctx context.Context, res match.Resolution) (*models.MatchResult, bool, error) {
	result, claimed, err := e.repo.Resolve(ctx, res)
	if err != nil {
		return nil, false, fmt.Errorf("resolve match %s: %w", res.MatchID, err)
	}
	if !claimed {
		e.log.Info("match already resolved, result kept for audit only",
			zap.String("match_id", res.MatchID),
			zap.String("source", res.Source),
			zap.String("result", res.Code))
		return result, false, nil
	}

	e.log.Info("match resolved",
		zap.String("match_id", res.MatchID),
		zap.Int64("challenge_id", res.ChallengeID),
		zap.String("source", res.Source),
		zap.String("result", res.Code),
		zap.String("class", outcome.Classify(res.Code).String()))

	if err := e.Settle(ctx, res.ChallengeID, res.Code, res.WinnerID, res.LoserID); err != nil {
		// The claim stands; a settle failure is left for remediation.
		e.log.Error("settlement failed after resolution",
			zap.String("match_id", res.MatchID),
			zap.Int64("challenge_id", res.ChallengeID),
			zap.Error(err))
	}
	return result, true, nil
}

// Settle moves the stakes for a resolved challenge, closes the match record
// and notifies both players. Transfers are independent: one failing does
// not stop the other or the close.
func (e *Engine) Settle(ctx context.Context, challengeID int64, code string, winnerID, loserID *int64) error {
	ch, err := e.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return fmt.Errorf("load challenge %d: %w", challengeID, err)
	}

	if outcome.Classify(code) == outcome.Unknown {
		e.log.Warn("unknown outcome code, refunding both players",
			zap.Int64("challenge_id", challengeID), zap.String("result", code))
	}

	transfers := Plan(ch, code, winnerID, loserID, e.minPayout)
	if len(transfers) == 0 {
		e.log.Info("no stake on challenge, nothing to pay", zap.Int64("challenge_id", challengeID))
	}
	for _, t := range transfers {
		e.execute(ctx, ch, t)
	}

	if rec, err := e.repo.FindByChallenge(ctx, challengeID); err == nil {
		if err := e.repo.MarkCompleted(ctx, rec.ID); err != nil {
			e.log.Error("failed to mark match completed", zap.String("match_id", rec.ID), zap.Error(err))
		}
	} else {
		e.log.Error("match record missing at settlement", zap.Int64("challenge_id", challengeID), zap.Error(err))
	}

	e.announce(ctx, ch, code, Payee(ch, code, winnerID, loserID), transfers)
	return nil
}

func (e *Engine) execute(ctx context.Context, ch *models.Challenge, t Transfer) {
	log := e.log.With(
		zap.String("request_id", t.RequestID),
		zap.Int64("user_id", t.UserID),
		zap.String("amount", t.Amount.StringFixed(2)),
		zap.String("reason", t.Reason))

	p := &models.Payment{
		UserID:          t.UserID,
		ChallengeID:     ch.ID,
		PhoneNumber:     t.Phone,
		Amount:          t.Amount,
		TransactionType: t.Kind,
		PayoutReason:    sql.NullString{String: t.Reason, Valid: true},
		RequestID:       t.RequestID,
		Status:          models.PaymentPending,
	}

	if t.Kind == models.TxnBalanceCredit {
		p.Notes = sql.NullString{String: fmt.Sprintf("Amount below minimum payout (%s), credited to user balance", e.minPayout), Valid: true}
		created, err := e.ledger.CreditBalance(ctx, p)
		switch {
		case err != nil:
			log.Error("balance credit failed", zap.Error(err))
		case !created:
			log.Info("balance credit already recorded")
		default:
			log.Info("amount below minimum payout, credited to balance")
		}
		return
	}

	created, err := e.ledger.Record(ctx, p)
	if err != nil {
		log.Error("failed to record payout", zap.Error(err))
		return
	}
	if !created {
		log.Info("payout already recorded, skipping dispatch")
		return
	}

	if e.payouter == nil || t.Phone == "" {
		note := payment.ErrNotConfigured.Error()
		if t.Phone == "" {
			note = "no payout phone on file"
		}
		log.Warn("payout needs remediation", zap.String("note", note))
		if err := e.ledger.MarkNeedsRemediation(ctx, t.RequestID, note); err != nil {
			log.Error("failed to flag payout", zap.Error(err))
		}
		return
	}

	narration := fmt.Sprintf("ChequeMate %s - Challenge %d", t.Reason, ch.ID)
	txID, err := e.payouter.Payout(ctx, t.RequestID, t.Phone, t.Amount, narration)
	if err != nil {
		log.Error("payout dispatch failed", zap.Error(err))
		if merr := e.ledger.MarkFailed(ctx, t.RequestID, err.Error()); merr != nil {
			log.Error("failed to mark payout failed", zap.Error(merr))
		}
		return
	}
	if err := e.ledger.MarkDispatched(ctx, t.RequestID, txID); err != nil {
		log.Error("failed to store transaction id", zap.Error(err))
	}
	log.Info("payout dispatched", zap.String("transaction_id", txID))
	e.receipt(ch, t)
}

func (e *Engine) receipt(ch *models.Challenge, t Transfer) {
	if e.messenger == nil || t.Phone == "" {
		return
	}
	msg := fmt.Sprintf("ChequeMate: KES %s %s for challenge #%d is on its way to your M-Pesa.", t.Amount.StringFixed(0), t.Reason, ch.ID)
	go func() {
		if _, err := e.messenger.SendSMS(context.Background(), t.Phone, msg); err != nil {
			e.log.Warn("failed to send payout receipt", zap.Int64("user_id", t.UserID), zap.Error(err))
		}
	}()
}

func (e *Engine) announce(ctx context.Context, ch *models.Challenge, code string, payee *int64, transfers []Transfer) {
	amounts := make(map[int64]string, len(transfers))
	for _, t := range transfers {
		amounts[t.UserID] = t.Amount.StringFixed(2)
	}
	base := func(userID int64) map[string]interface{} {
		d := map[string]interface{}{"challengeId": ch.ID, "result": code}
		if a, ok := amounts[userID]; ok {
			d["amount"] = a
		}
		return d
	}

	if payee == nil {
		for _, uid := range []int64{ch.ChallengerID, ch.OpponentID} {
			e.send(ctx, uid, notify.Event{Type: notify.EventDraw, Data: base(uid)})
		}
		return
	}

	loser := ch.ChallengerID
	if *payee == ch.ChallengerID {
		loser = ch.OpponentID
	}
	won := base(*payee)
	won["winnerId"] = *payee
	e.send(ctx, *payee, notify.Event{Type: notify.EventVictory, Data: won})
	lost := base(loser)
	lost["winnerId"] = *payee
	e.send(ctx, loser, notify.Event{Type: notify.EventMatchResult, Data: lost})
}

func (e *Engine) send(ctx context.Context, userID int64, ev notify.Event) {
	if err := e.notifier.Notify(ctx, userID, ev); err != nil {
		e.log.Warn("notification failed", zap.String("type", ev.Type), zap.Int64("user_id", userID), zap.Error(err))
	}
}
