package payment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Depositor requests a deposit from a player's phone.
type Depositor interface {
	Collect(ctx context.Context, requestID, phone string, amount decimal.Decimal, narration string) (string, error)
}

// StakeCollector requests each player's stake the first time they are
// redirected to the game.
type StakeCollector struct {
	gateway Depositor
	store   Store
	log     *zap.Logger
}

// NewStakeCollector wires the collector. A nil gateway records the deposit
// for remediation instead of calling out.
func NewStakeCollector(gateway Depositor, store Store) *StakeCollector {
	return &StakeCollector{gateway: gateway, store: store, log: logger.L().Named("stakes")}
}

func (s *StakeCollector) CollectStake(ctx context.Context, ch *models.Challenge, userID int64) error {
	stake := ch.Stake()
	if !stake.IsPositive() {
		return nil
	}

	p := &models.Payment{
		UserID:          userID,
		ChallengeID:     ch.ID,
		PhoneNumber:     ch.PhoneFor(userID),
		Amount:          stake,
		TransactionType: models.TxnDeposit,
		PayoutReason:    sql.NullString{String: "stake", Valid: true},
		RequestID:       RequestID(PrefixDeposit, ch.ID, userID),
		Status:          models.PaymentPending,
	}
	created, err := s.store.Record(ctx, p)
	if err != nil {
		return err
	}
	if !created {
		s.log.Debug("stake already requested", zap.String("request_id", p.RequestID))
		return nil
	}

	if s.gateway == nil || p.PhoneNumber == "" {
		reason := ErrNotConfigured.Error()
		if p.PhoneNumber == "" {
			reason = "no phone number on file"
		}
		return s.store.MarkNeedsRemediation(ctx, p.RequestID, reason)
	}

	txID, err := s.gateway.Collect(ctx, p.RequestID, p.PhoneNumber, stake, fmt.Sprintf("ChequeMate stake - Challenge %d", ch.ID))
	if err != nil {
		if merr := s.store.MarkFailed(ctx, p.RequestID, err.Error()); merr != nil {
			s.log.Error("failed to mark deposit failed", zap.String("request_id", p.RequestID), zap.Error(merr))
		}
		return fmt.Errorf("collect stake %s: %w", p.RequestID, err)
	}
	return s.store.MarkDispatched(ctx, p.RequestID, txID)
}
