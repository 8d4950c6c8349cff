package match

import "github.com/chequemate/backend/internal/models"

// Match lifecycle states
const (
	StatePendingRedirect = "PENDING_REDIRECT"
	StateStarted         = "STARTED"
	StateAwaitingCheck   = "AWAITING_CHECK"
	StateChecking        = "CHECKING"
	StateResolved        = "RESOLVED"
	StateSettled         = "SETTLED"
)

// PollState is the poller's view of a match.
type PollState int

const (
	PollNone PollState = iota
	PollWaiting
	PollRunning
)

// StateOf derives the lifecycle state from the stored record and the poller registry.
func StateOf(rec *models.MatchRecord, poll PollState) string {
	switch {
	case rec.CompletedAt.Valid:
		return StateSettled
	case rec.ResultChecked:
		return StateResolved
	case !rec.BothRedirected:
		return StatePendingRedirect
	case poll == PollRunning:
		return StateChecking
	case poll == PollWaiting:
		return StateAwaitingCheck
	default:
		return StateStarted
	}
}
