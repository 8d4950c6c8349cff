package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chequemate/backend/internal/accounts"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrPaymentNotFound is returned when a callback names an unknown request id.
var ErrPaymentNotFound = errors.New("payment not found")

// Store is the payments table as seen by the code that moves money.
type Store interface {
	// Record inserts p unless its request id exists; created is false on a duplicate.
	Record(ctx context.Context, p *models.Payment) (created bool, err error)
	MarkDispatched(ctx context.Context, requestID, transactionID string) error
	MarkFailed(ctx context.Context, requestID, note string) error
	MarkNeedsRemediation(ctx context.Context, requestID, note string) error
	// CreditBalance records a completed balance_credit row and moves the
	// amount onto the player's platform balance in one transaction.
	CreditBalance(ctx context.Context, p *models.Payment) (created bool, err error)
}

// Callback is a parsed gateway status notification.
type Callback struct {
	RequestID     string
	Status        string
	TransactionID string
	Raw           []byte
}

// ParseCallback reads a gateway callback body. The request id arrives as
// either originatorRequestId or requestId depending on the product.
func ParseCallback(body []byte) (*Callback, error) {
	var in struct {
		OriginatorRequestID string `json:"originatorRequestId"`
		RequestID           string `json:"requestId"`
		Status              string `json:"status"`
		TransactionID       string `json:"transactionId"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	id := in.OriginatorRequestID
	if id == "" {
		id = in.RequestID
	}
	if id == "" {
		return nil, errors.New("callback has no request id")
	}
	return &Callback{
		RequestID:     id,
		Status:        CallbackStatus(in.Status),
		TransactionID: in.TransactionID,
		Raw:           body,
	}, nil
}

// CallbackStatus maps a gateway status word onto a payments status.
func CallbackStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "completed", "success", "successful", "succeeded":
		return models.PaymentCompleted
	case "failed", "failure", "cancelled", "canceled", "rejected", "reversed":
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

const paymentColumns = `id, user_id, challenge_id, phone_number, amount, transaction_type, payout_reason,
	request_id, transaction_id, status, notes, created_at, updated_at`

// Ledger is the Postgres Store.
type Ledger struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewLedger(db *sqlx.DB) *Ledger {
	return &Ledger{db: db, log: logger.L().Named("ledger")}
}

const insertPayment = `INSERT INTO payments
	(user_id, challenge_id, phone_number, amount, transaction_type, payout_reason, request_id, status, notes)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (request_id) DO NOTHING
	RETURNING id`

func insertArgs(p *models.Payment) []interface{} {
	return []interface{}{p.UserID, p.ChallengeID, p.PhoneNumber, p.Amount, p.TransactionType,
		p.PayoutReason, p.RequestID, p.Status, p.Notes}
}

func (l *Ledger) Record(ctx context.Context, p *models.Payment) (bool, error) {
	err := l.db.QueryRowxContext(ctx, insertPayment, insertArgs(p)...).Scan(&p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert payment %s: %w", p.RequestID, err)
	}
	return true, nil
}

func (l *Ledger) setStatus(ctx context.Context, requestID, status, note string) error {
	_, err := l.db.ExecContext(ctx, `UPDATE payments SET status=$2, notes=$3, updated_at=NOW()
		WHERE request_id=$1 AND status='pending'`, requestID, status, note)
	if err != nil {
		return fmt.Errorf("mark payment %s %s: %w", requestID, status, err)
	}
	return nil
}

func (l *Ledger) MarkDispatched(ctx context.Context, requestID, transactionID string) error {
	_, err := l.db.ExecContext(ctx, `UPDATE payments SET transaction_id=NULLIF($2,''), updated_at=NOW()
		WHERE request_id=$1`, requestID, transactionID)
	if err != nil {
		return fmt.Errorf("store transaction id for %s: %w", requestID, err)
	}
	return nil
}

func (l *Ledger) MarkFailed(ctx context.Context, requestID, note string) error {
	return l.setStatus(ctx, requestID, models.PaymentFailed, note)
}

func (l *Ledger) MarkNeedsRemediation(ctx context.Context, requestID, note string) error {
	return l.setStatus(ctx, requestID, models.PaymentNeedsRemediation, note)
}

func (l *Ledger) CreditBalance(ctx context.Context, p *models.Payment) (bool, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	p.TransactionType = models.TxnBalanceCredit
	p.Status = models.PaymentCompleted
	err = tx.QueryRowxContext(ctx, insertPayment, insertArgs(p)...).Scan(&p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert balance credit %s: %w", p.RequestID, err)
	}

	if err := accounts.CreditPlayerBalance(ctx, tx, p.UserID, p.Amount, p.RequestID, "Below minimum payout"); err != nil {
		return false, fmt.Errorf("credit balance for user %d: %w", p.UserID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyCallback moves a non-terminal payment to the callback's status.
// Terminal rows are returned unchanged so gateway retries are harmless.
func (l *Ledger) ApplyCallback(ctx context.Context, cb *Callback) (*models.Payment, bool, error) {
	var p models.Payment
	err := l.db.GetContext(ctx, &p, `UPDATE payments SET
			status=$2,
			transaction_id=COALESCE(NULLIF($3,''), transaction_id),
			callback_data=$4,
			updated_at=NOW()
		WHERE request_id=$1 AND status IN ('pending','needs_remediation')
		RETURNING `+paymentColumns, cb.RequestID, cb.Status, cb.TransactionID, string(cb.Raw))
	if err == nil {
		return &p, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("apply callback %s: %w", cb.RequestID, err)
	}

	err = l.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE request_id=$1`, cb.RequestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrPaymentNotFound
	}
	if err != nil {
		return nil, false, err
	}
	return &p, false, nil
}

// FlagStale marks pending withdrawals created before cutoff for remediation.
func (l *Ledger) FlagStale(ctx context.Context, cutoff time.Time) ([]models.Payment, error) {
	var out []models.Payment
	err := l.db.SelectContext(ctx, &out, `UPDATE payments SET
			status='needs_remediation',
			notes='no gateway callback before cutoff',
			updated_at=NOW()
		WHERE status='pending' AND transaction_type='withdrawal' AND created_at < $1
		RETURNING `+paymentColumns, cutoff)
	if err != nil {
		return nil, fmt.Errorf("flag stale payouts: %w", err)
	}
	return out, nil
}

// ForChallenge lists every payment row of a challenge.
func (l *Ledger) ForChallenge(ctx context.Context, challengeID int64) ([]models.Payment, error) {
	var out []models.Payment
	err := l.db.SelectContext(ctx, &out, `SELECT `+paymentColumns+` FROM payments WHERE challenge_id=$1 ORDER BY id`, challengeID)
	return out, err
}
