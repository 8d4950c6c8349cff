package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/models"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StaleFlagger flags payouts that never received a callback.
type StaleFlagger interface {
	FlagStale(ctx context.Context, cutoff time.Time) ([]models.Payment, error)
}

// StartPendingSweep runs a background job that moves pending withdrawals
// older than staleAfter to needs_remediation. The caller owns Shutdown.
func StartPendingSweep(ctx context.Context, store StaleFlagger, staleAfter, every time.Duration) (gocron.Scheduler, error) {
	log := logger.L().Named("payment-sweep")

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { sweepStale(ctx, store, staleAfter, log) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule stale payout sweep: %w", err)
	}

	sched.Start()
	log.Info("stale payout sweep started", zap.Duration("every", every), zap.Duration("stale_after", staleAfter))
	return sched, nil
}

func sweepStale(ctx context.Context, store StaleFlagger, staleAfter time.Duration, log *zap.Logger) int {
	if ctx.Err() != nil {
		return 0
	}
	flagged, err := store.FlagStale(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		log.Error("stale payout sweep failed", zap.Error(err))
		return 0
	}
	for _, p := range flagged {
		log.Warn("payout needs remediation",
			zap.String("request_id", p.RequestID),
			zap.Int64("user_id", p.UserID),
			zap.Int64("challenge_id", p.ChallengeID),
			zap.String("amount", p.Amount.StringFixed(2)))
	}
	return len(flagged)
}
