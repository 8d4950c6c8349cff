package accounts

import (
	"context"
	"fmt"

	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// account types constants
const (
	AccountPlayerBalance = "player_balance"
	AccountSettlement    = "settlement"
)

const accountColumns = `id, account_type, owner_user_id, balance, created_at, updated_at`

// GetOrCreateAccount returns an account for the given owner and type, creating it if missing.
// A nil owner selects the system account of that type.
func GetOrCreateAccount(ctx context.Context, q sqlx.ExtContext, accountType string, ownerUserID *int64) (*models.Account, error) {
	if q == nil {
		return nil, fmt.Errorf("db is nil")
	}

	var a models.Account
	if ownerUserID == nil {
		if _, err := q.ExecContext(ctx, `INSERT INTO accounts (account_type, balance) VALUES ($1, 0)
			ON CONFLICT (account_type) WHERE owner_user_id IS NULL DO NOTHING`, accountType); err != nil {
			return nil, fmt.Errorf("create %s account: %w", accountType, err)
		}
		if err := sqlx.GetContext(ctx, q, &a, `SELECT `+accountColumns+` FROM accounts WHERE account_type=$1 AND owner_user_id IS NULL`, accountType); err != nil {
			return nil, err
		}
		return &a, nil
	}

	if _, err := q.ExecContext(ctx, `INSERT INTO accounts (account_type, owner_user_id, balance) VALUES ($1, $2, 0)
		ON CONFLICT (account_type, owner_user_id) WHERE owner_user_id IS NOT NULL DO NOTHING`, accountType, *ownerUserID); err != nil {
		return nil, fmt.Errorf("create %s account for user %d: %w", accountType, *ownerUserID, err)
	}
	if err := sqlx.GetContext(ctx, q, &a, `SELECT `+accountColumns+` FROM accounts WHERE account_type=$1 AND owner_user_id=$2`, accountType, *ownerUserID); err != nil {
		return nil, err
	}
	return &a, nil
}

// Transfer performs a single debit/credit between accounts within an existing tx.
// It selects both accounts FOR UPDATE, checks balances, updates balances and inserts an account_transactions row.
func Transfer(ctx context.Context, tx *sqlx.Tx, debitAccountID, creditAccountID int64, amount decimal.Decimal, referenceType, referenceID, description string) error {
	if tx == nil {
		return fmt.Errorf("tx is nil")
	}
	if !amount.IsPositive() {
		return fmt.Errorf("transfer amount must be positive, got %s", amount)
	}

	var accs []models.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id IN ($1,$2) FOR UPDATE`
	if err := tx.SelectContext(ctx, &accs, query, debitAccountID, creditAccountID); err != nil {
		return err
	}

	var debitAcc, creditAcc *models.Account
	for i := range accs {
		if accs[i].ID == debitAccountID {
			debitAcc = &accs[i]
		}
		if accs[i].ID == creditAccountID {
			creditAcc = &accs[i]
		}
	}
	if debitAcc == nil || creditAcc == nil {
		return fmt.Errorf("account not found for transfer")
	}

	// Player balances never go negative; the settlement account may.
	if debitAcc.AccountType == AccountPlayerBalance && debitAcc.Balance.LessThan(amount) {
		return fmt.Errorf("insufficient funds in account %d", debitAccountID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance=balance-$1, updated_at=NOW() WHERE id=$2`, amount, debitAcc.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance=balance+$1, updated_at=NOW() WHERE id=$2`, amount, creditAcc.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO account_transactions (debit_account_id, credit_account_id, amount, reference_type, reference_id, description)
		VALUES ($1,$2,$3,$4,$5,$6)`, debitAccountID, creditAccountID, amount, referenceType, referenceID, description); err != nil {
		return err
	}

	logger.L().Named("accounts").Debug("transfer completed",
		zap.Int64("debit_account", debitAccountID),
		zap.Int64("credit_account", creditAccountID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("reference", referenceType+":"+referenceID))
	return nil
}

// CreditPlayerBalance moves amount from the settlement account to the user's
// platform balance.
func CreditPlayerBalance(ctx context.Context, tx *sqlx.Tx, userID int64, amount decimal.Decimal, referenceID, description string) error {
	settlement, err := GetOrCreateAccount(ctx, tx, AccountSettlement, nil)
	if err != nil {
		return err
	}
	balance, err := GetOrCreateAccount(ctx, tx, AccountPlayerBalance, &userID)
	if err != nil {
		return err
	}
	return Transfer(ctx, tx, settlement.ID, balance.ID, amount, "PAYMENT", referenceID, description)
}
