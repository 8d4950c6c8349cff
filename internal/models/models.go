package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Supported external platforms
const (
	PlatformChessCom = "chess.com"
	PlatformLichess  = "lichess.org"
)

// Result sources recorded on match_results
const (
	SourcePoller = "poller"
	SourceManual = "manual"
)

// MatchRecord is one row of ongoing_matches: a challenge that reached redirection
type MatchRecord struct {
	ID                   string         `db:"id" json:"id"`
	ChallengeID          int64          `db:"challenge_id" json:"challenge_id"`
	ChallengerID         int64          `db:"challenger_id" json:"challenger_id"`
	OpponentID           int64          `db:"opponent_id" json:"opponent_id"`
	ChallengerUsername   string         `db:"challenger_username" json:"challenger_username"`
	OpponentUsername     string         `db:"opponent_username" json:"opponent_username"`
	Platform             string         `db:"platform" json:"platform"`
	TimeControl          sql.NullString `db:"time_control" json:"-"`
	ChallengerRedirected bool           `db:"challenger_redirected" json:"challenger_redirected"`
	OpponentRedirected   bool           `db:"opponent_redirected" json:"opponent_redirected"`
	BothRedirected       bool           `db:"both_redirected" json:"both_redirected"`
	MatchStartedAt       sql.NullTime   `db:"match_started_at" json:"-"`
	ResultChecked        bool           `db:"result_checked" json:"result_checked"`
	WinnerID             sql.NullInt64  `db:"winner_id" json:"-"`
	Result               sql.NullString `db:"result" json:"-"`
	MatchResult          []byte         `db:"match_result" json:"-"`
	CompletedAt          sql.NullTime   `db:"completed_at" json:"-"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
}

// IsParticipant reports whether userID is the challenger or the opponent
func (m *MatchRecord) IsParticipant(userID int64) bool {
	return userID == m.ChallengerID || userID == m.OpponentID
}

// OtherParticipant returns the participant that is not userID
func (m *MatchRecord) OtherParticipant(userID int64) int64 {
	if userID == m.ChallengerID {
		return m.OpponentID
	}
	return m.ChallengerID
}

// MatchResult is an append-only audit row describing one resolution attempt
type MatchResult struct {
	ID              int64          `db:"id" json:"id"`
	ChallengeID     int64          `db:"challenge_id" json:"challenge_id"`
	WinnerID        sql.NullInt64  `db:"winner_id" json:"-"`
	LoserID         sql.NullInt64  `db:"loser_id" json:"-"`
	Result          string         `db:"result" json:"result"`
	Platform        string         `db:"platform" json:"platform"`
	GameURL         sql.NullString `db:"game_url" json:"-"`
	URLVerified     bool           `db:"url_verified" json:"url_verified"`
	ProofConsistent sql.NullBool   `db:"proof_consistent" json:"-"`
	ReportedBy      sql.NullInt64  `db:"reported_by" json:"-"`
	Source          string         `db:"source" json:"source"`
	Authoritative   bool           `db:"authoritative" json:"authoritative"`
	MatchDate       time.Time      `db:"match_date" json:"match_date"`
}

// Challenge is the read-only view of an accepted challenge with platform handles resolved
type Challenge struct {
	ID                 int64               `db:"id"`
	ChallengerID       int64               `db:"challenger"`
	OpponentID         int64               `db:"opponent"`
	Platform           string              `db:"platform"`
	TimeControl        sql.NullString      `db:"time_control"`
	BetAmount          decimal.NullDecimal `db:"bet_amount"`
	ChallengerPhone    sql.NullString      `db:"challenger_phone"`
	OpponentPhone      sql.NullString      `db:"opponent_phone"`
	Status             string              `db:"status"`
	ChallengerUsername string              `db:"challenger_username"`
	OpponentUsername   string              `db:"opponent_username"`
}

// Stake returns the wager per player, zero when absent
func (c *Challenge) Stake() decimal.Decimal {
	if !c.BetAmount.Valid {
		return decimal.Zero
	}
	return c.BetAmount.Decimal
}

// PhoneFor returns the payout destination for a participant
func (c *Challenge) PhoneFor(userID int64) string {
	switch userID {
	case c.ChallengerID:
		return c.ChallengerPhone.String
	case c.OpponentID:
		return c.OpponentPhone.String
	}
	return ""
}

// Payment transaction types
const (
	TxnDeposit       = "deposit"
	TxnWithdrawal    = "withdrawal"
	TxnBalanceCredit = "balance_credit"
)

// Payment statuses
const (
	PaymentPending          = "pending"
	PaymentCompleted        = "completed"
	PaymentFailed           = "failed"
	PaymentNeedsRemediation = "needs_remediation"
)

// Payment is one money movement requested for a challenge
type Payment struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	ChallengeID     int64           `db:"challenge_id" json:"challenge_id"`
	PhoneNumber     string          `db:"phone_number" json:"phone_number"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	TransactionType string          `db:"transaction_type" json:"transaction_type"`
	PayoutReason    sql.NullString  `db:"payout_reason" json:"-"`
	RequestID       string          `db:"request_id" json:"request_id"`
	TransactionID   sql.NullString  `db:"transaction_id" json:"-"`
	Status          string          `db:"status" json:"status"`
	Notes           sql.NullString  `db:"notes" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Account is a ledger account, either a system account or one owned by a user
type Account struct {
	ID          int64           `db:"id" json:"id"`
	AccountType string          `db:"account_type" json:"account_type"`
	OwnerUserID sql.NullInt64   `db:"owner_user_id" json:"-"`
	Balance     decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}
