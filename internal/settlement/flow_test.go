package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chequemate/backend/internal/challenge"
	"github.com/chequemate/backend/internal/checker"
	"github.com/chequemate/backend/internal/chessapi"
	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/notify"
	"github.com/chequemate/backend/internal/payment"
	"github.com/shopspring/decimal"
)

// scriptedFinder misses a fixed number of times, then reports a game.
type scriptedFinder struct {
	mu     sync.Mutex
	misses int
	calls  int
	game   *chessapi.Game
}

func (f *scriptedFinder) Supports(p string) bool { return p == models.PlatformChessCom }

func (f *scriptedFinder) FindRecentGame(_ context.Context, _, _, _ string, _ time.Duration) (*chessapi.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.misses {
		return nil, nil
	}
	return f.game, nil
}

func TestRedirectPollSettleFlow(t *testing.T) {
	ctx := context.Background()
	ch := testChallenge(100, 100)

	store := match.NewMemoryStore()
	ledger := payment.NewMemoryLedger()
	payouter := newFakePayouter()
	notifier := &recordingNotifier{}
	reader := challenge.NewMemoryReader(ch)

	engine := NewEngine(Config{
		Repo: store, Challenges: reader, Ledger: ledger,
		Payouter: payouter, Notifier: notifier, MinPayout: minPayout,
	})
	finder := &scriptedFinder{
		misses: 2,
		game: &chessapi.Game{
			ID:    "4242",
			URL:   "https://www.chess.com/game/live/4242",
			White: chessapi.Player{Username: "Alice", Result: "win"},
			Black: chessapi.Player{Username: "bob", Result: "checkmated"},
		},
	}
	sched := checker.NewScheduler(finder, engine, checker.Options{
		Interval:     5 * time.Millisecond,
		MaxAttempts:  5,
		DefaultDelay: time.Millisecond,
		Window:       30 * time.Minute,
	})
	defer sched.Cleanup()

	barrier := match.NewBarrier(match.BarrierConfig{
		Repo: store, Challenges: reader, Armer: sched, Notifier: notifier,
	})

	red, err := barrier.RecordRedirection(ctx, ch.ID, 1)
	if err != nil || red.StartedNow {
		t.Fatalf("first redirect = %+v, %v", red, err)
	}
	if len(sched.Status()) != 0 {
		t.Fatalf("checker armed before both players redirected")
	}
	red, err = barrier.RecordRedirection(ctx, ch.ID, 2)
	if err != nil || !red.StartedNow {
		t.Fatalf("second redirect = %+v, %v", red, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, _ := store.FindByChallenge(ctx, ch.ID)
		if rec != nil && rec.CompletedAt.Valid && len(notifier.typesFor(2)) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("match never settled; status=%+v", sched.Status())
		}
		time.Sleep(2 * time.Millisecond)
	}

	rec, _ := store.FindByChallenge(ctx, ch.ID)
	if rec.WinnerID.Int64 != 1 || rec.Result.String != "checkmated" {
		t.Errorf("record winner=%d result=%s", rec.WinnerID.Int64, rec.Result.String)
	}
	if match.StateOf(rec, sched.PollState(rec.ID)) != match.StateSettled {
		t.Errorf("state = %s", match.StateOf(rec, sched.PollState(rec.ID)))
	}

	rows, _ := ledger.ForChallenge(ctx, ch.ID)
	if len(rows) != 1 || rows[0].RequestID != "PAY_100_1" || !rows[0].Amount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("payments = %+v", rows)
	}

	want := map[int64][]string{
		1: {notify.EventPlayerRedirected, notify.EventMatchStarted, notify.EventVictory},
		2: {notify.EventPlayerRedirected, notify.EventMatchStarted, notify.EventMatchResult},
	}
	for uid, types := range want {
		got := notifier.typesFor(uid)
		if len(got) != len(types) {
			t.Errorf("user %d events = %v, want %v", uid, got, types)
			continue
		}
		for i := range types {
			if got[i] != types[i] {
				t.Errorf("user %d events = %v, want %v", uid, got, types)
				break
			}
		}
	}
}
