package payment

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/chequemate/backend/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryLedger is a Store kept in process memory for tests.
type MemoryLedger struct {
	mu       sync.Mutex
	rows     map[string]*models.Payment
	balances map[int64]decimal.Decimal
	nextID   int64
	now      func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		rows:     make(map[string]*models.Payment),
		balances: make(map[int64]decimal.Decimal),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (m *MemoryLedger) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryLedger) insertLocked(p *models.Payment) bool {
	if _, ok := m.rows[p.RequestID]; ok {
		return false
	}
	m.nextID++
	p.ID = m.nextID
	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.rows[p.RequestID] = &cp
	return true
}

func (m *MemoryLedger) Record(_ context.Context, p *models.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(p), nil
}

func (m *MemoryLedger) update(requestID string, fn func(p *models.Payment)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[requestID]; ok {
		fn(p)
		p.UpdatedAt = m.now()
	}
}

func (m *MemoryLedger) MarkDispatched(_ context.Context, requestID, transactionID string) error {
	m.update(requestID, func(p *models.Payment) {
		p.TransactionID = sql.NullString{String: transactionID, Valid: transactionID != ""}
	})
	return nil
}

func (m *MemoryLedger) setStatus(requestID, status, note string) {
	m.update(requestID, func(p *models.Payment) {
		if p.Status != models.PaymentPending {
			return
		}
		p.Status = status
		p.Notes = sql.NullString{String: note, Valid: note != ""}
	})
}

func (m *MemoryLedger) MarkFailed(_ context.Context, requestID, note string) error {
	m.setStatus(requestID, models.PaymentFailed, note)
	return nil
}

func (m *MemoryLedger) MarkNeedsRemediation(_ context.Context, requestID, note string) error {
	m.setStatus(requestID, models.PaymentNeedsRemediation, note)
	return nil
}

func (m *MemoryLedger) CreditBalance(_ context.Context, p *models.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.TransactionType = models.TxnBalanceCredit
	p.Status = models.PaymentCompleted
	if !m.insertLocked(p) {
		return false, nil
	}
	m.balances[p.UserID] = m.balances[p.UserID].Add(p.Amount)
	return true, nil
}

func (m *MemoryLedger) ApplyCallback(_ context.Context, cb *Callback) (*models.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[cb.RequestID]
	if !ok {
		return nil, false, ErrPaymentNotFound
	}
	if p.Status != models.PaymentPending && p.Status != models.PaymentNeedsRemediation {
		cp := *p
		return &cp, false, nil
	}
	p.Status = cb.Status
	if cb.TransactionID != "" {
		p.TransactionID = sql.NullString{String: cb.TransactionID, Valid: true}
	}
	p.UpdatedAt = m.now()
	cp := *p
	return &cp, true, nil
}

func (m *MemoryLedger) FlagStale(_ context.Context, cutoff time.Time) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.rows {
		if p.Status == models.PaymentPending && p.TransactionType == models.TxnWithdrawal && p.CreatedAt.Before(cutoff) {
			p.Status = models.PaymentNeedsRemediation
			p.Notes = sql.NullString{String: "no gateway callback before cutoff", Valid: true}
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryLedger) ForChallenge(_ context.Context, challengeID int64) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.rows {
		if p.ChallengeID == challengeID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Balance returns the user's accumulated platform balance.
func (m *MemoryLedger) Balance(userID int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}
