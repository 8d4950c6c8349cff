package settlement

import (
	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/outcome"
	"github.com/chequemate/backend/internal/payment"
	"github.com/shopspring/decimal"
)

// Payout reasons stored on payments.payout_reason
const (
	ReasonRefund   = "refund"
	ReasonWinnings = "winnings"
)

// Transfer is one planned money movement to a participant.
type Transfer struct {
	UserID    int64
	Phone     string
	Amount    decimal.Decimal
	Kind      string
	Reason    string
	RequestID string
}

// Payee returns the participant who takes the pot, or nil when the outcome
// refunds both players. A declared winner or loser that is not one of the
// two participants also refunds.
func Payee(ch *models.Challenge, code string, winnerID, loserID *int64) *int64 {
	isParticipant := func(id *int64) bool {
		return id != nil && (*id == ch.ChallengerID || *id == ch.OpponentID)
	}

	switch outcome.Classify(code) {
	case outcome.WinnerDeclared:
		if isParticipant(winnerID) {
			id := *winnerID
			return &id
		}
	case outcome.LoserDeclared:
		if isParticipant(loserID) {
			id := ch.ChallengerID
			if *loserID == ch.ChallengerID {
				id = ch.OpponentID
			}
			return &id
		}
	}
	return nil
}

// Plan computes the transfers for a resolved challenge. Amounts under
// minPayout become platform balance credits instead of gateway payouts.
func Plan(ch *models.Challenge, code string, winnerID, loserID *int64, minPayout decimal.Decimal) []Transfer {
	stake := ch.Stake()
	if !stake.IsPositive() {
		return nil
	}

	build := func(userID int64, amount decimal.Decimal, reason, prefix string) Transfer {
		t := Transfer{
			UserID:    userID,
			Phone:     ch.PhoneFor(userID),
			Amount:    amount,
			Kind:      models.TxnWithdrawal,
			Reason:    reason,
			RequestID: payment.RequestID(prefix, ch.ID, userID),
		}
		if amount.LessThan(minPayout) {
			t.Kind = models.TxnBalanceCredit
			t.RequestID = payment.RequestID(payment.PrefixBalance, ch.ID, userID)
		}
		return t
	}

	if payee := Payee(ch, code, winnerID, loserID); payee != nil {
		return []Transfer{build(*payee, stake.Mul(decimal.NewFromInt(2)), ReasonWinnings, payment.PrefixPayout)}
	}
	return []Transfer{
		build(ch.ChallengerID, stake, ReasonRefund, payment.PrefixRefund),
		build(ch.OpponentID, stake, ReasonRefund, payment.PrefixRefund),
	}
}
