package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/notify"
	"github.com/chequemate/backend/internal/payment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallbackApplier moves a payment row to the status a gateway callback reports.
type CallbackApplier interface {
	ApplyCallback(ctx context.Context, cb *payment.Callback) (*models.Payment, bool, error)
}

// PaymentCallback handles the gateway's status callbacks for deposits and
// withdrawals. Repeated callbacks for a settled row are acknowledged
// without changing it.
func PaymentCallback(ledger CallbackApplier, notifier notify.Notifier) gin.HandlerFunc {
	log := logger.L().Named("webhook")
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		cb, err := payment.ParseCallback(body)
		if err != nil {
			log.Warn("invalid callback payload", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		log.Info("payment callback",
			zap.String("request_id", cb.RequestID),
			zap.String("status", cb.Status),
			zap.String("transaction_id", cb.TransactionID))

		ctx := c.Request.Context()
		p, changed, err := ledger.ApplyCallback(ctx, cb)
		if errors.Is(err, payment.ErrPaymentNotFound) {
			log.Warn("callback for unknown payment", zap.String("request_id", cb.RequestID))
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		if !changed {
			c.JSON(http.StatusOK, gin.H{"message": "already processed", "status": p.Status})
			return
		}

		if notifier != nil {
			ev := notify.Event{Type: notify.EventPaymentStatus, Data: map[string]interface{}{
				"requestId":       p.RequestID,
				"challengeId":     p.ChallengeID,
				"status":          p.Status,
				"transactionType": p.TransactionType,
				"amount":          p.Amount.StringFixed(2),
			}}
			if err := notifier.Notify(ctx, p.UserID, ev); err != nil {
				log.Warn("payment status notification failed", zap.Int64("user_id", p.UserID), zap.Error(err))
			}
		}
		c.JSON(http.StatusOK, gin.H{"message": "webhook processed", "status": p.Status})
	}
}
