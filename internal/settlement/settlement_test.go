package settlement

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/chequemate/backend/internal/challenge"
	"github.com/chequemate/backend/internal/match"
	"github.com/chequemate/backend/internal/models"
	"github.com/chequemate/backend/internal/notify"
	"github.com/chequemate/backend/internal/outcome"
	"github.com/chequemate/backend/internal/payment"
	"github.com/shopspring/decimal"
)

var minPayout = decimal.NewFromInt(10)

func testChallenge(id int64, stake int64) models.Challenge {
	ch := models.Challenge{
		ID:                 id,
		ChallengerID:       1,
		OpponentID:         2,
		Platform:           models.PlatformChessCom,
		ChallengerPhone:    sql.NullString{String: "254712345678", Valid: true},
		OpponentPhone:      sql.NullString{String: "254798765432", Valid: true},
		ChallengerUsername: "alice",
		OpponentUsername:   "bob",
	}
	if stake > 0 {
		ch.BetAmount = decimal.NullDecimal{Decimal: decimal.NewFromInt(stake), Valid: true}
	}
	return ch
}

func id(v int64) *int64 { return &v }

type fakePayouter struct {
	mu    sync.Mutex
	calls map[string]decimal.Decimal
	fail  map[int64]bool
}

func newFakePayouter() *fakePayouter {
	return &fakePayouter{calls: make(map[string]decimal.Decimal), fail: make(map[int64]bool)}
}

func (f *fakePayouter) Payout(_ context.Context, requestID, phone string, amount decimal.Decimal, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[requestID] = amount
	if (phone == "254712345678" && f.fail[1]) || (phone == "254798765432" && f.fail[2]) {
		return "", errors.New("gateway timeout")
	}
	return "TX-" + requestID, nil
}

func (f *fakePayouter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events map[int64][]string
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.events == nil {
		n.events = make(map[int64][]string)
	}
	n.events[userID] = append(n.events[userID], ev.Type)
	return nil
}

func (n *recordingNotifier) typesFor(userID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events[userID]...)
}

type harness struct {
	engine   *Engine
	store    *match.MemoryStore
	ledger   *payment.MemoryLedger
	payouter *fakePayouter
	notifier *recordingNotifier
	rec      *models.MatchRecord
	ch       models.Challenge
}

func newHarness(t *testing.T, ch models.Challenge, withGateway bool) *harness {
	t.Helper()
	h := &harness{
		store:    match.NewMemoryStore(),
		ledger:   payment.NewMemoryLedger(),
		payouter: newFakePayouter(),
		notifier: &recordingNotifier{},
		ch:       ch,
	}
	cfg := Config{
		Repo:       h.store,
		Challenges: challenge.NewMemoryReader(ch),
		Ledger:     h.ledger,
		Notifier:   h.notifier,
		MinPayout:  minPayout,
	}
	if withGateway {
		cfg.Payouter = h.payouter
	}
	h.engine = NewEngine(cfg)

	ctx := context.Background()
	rec, err := h.store.EnsureRecord(ctx, match.NewRecord("match-1", &ch))
	if err != nil {
		t.Fatal(err)
	}
	h.store.MarkRedirected(ctx, ch.ID, true)
	h.store.MarkRedirected(ctx, ch.ID, false)
	h.rec = rec
	return h
}

func (h *harness) resolve(t *testing.T, code string, winner, loser *int64) (*models.MatchResult, bool) {
	t.Helper()
	res, claimed, err := h.engine.Resolve(context.Background(), match.Resolution{
		MatchID: h.rec.ID, ChallengeID: h.ch.ID, Platform: h.ch.Platform,
		Code: code, WinnerID: winner, LoserID: loser, Source: models.SourcePoller,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return res, claimed
}

func (h *harness) payments(t *testing.T) map[string]models.Payment {
	t.Helper()
	rows, _ := h.ledger.ForChallenge(context.Background(), h.ch.ID)
	out := make(map[string]models.Payment, len(rows))
	for _, p := range rows {
		out[p.RequestID] = p
	}
	return out
}

func TestPlanAmounts(t *testing.T) {
	ch := testChallenge(7, 100)
	cases := []struct {
		name   string
		code   string
		winner *int64
		loser  *int64
		want   map[string]string
	}{
		{"win pays double", outcome.CodeWin, id(1), id(2), map[string]string{"PAY_7_1": "200"}},
		{"stalemate refunds", outcome.CodeStalemate, nil, nil, map[string]string{"REF_7_1": "100", "REF_7_2": "100"}},
		{"loser declared pays the other", outcome.CodeTimeout, nil, id(1), map[string]string{"PAY_7_2": "200"}},
		{"unknown refunds", "cosmic_ray", id(1), id(2), map[string]string{"REF_7_1": "100", "REF_7_2": "100"}},
		{"win without winner refunds", outcome.CodeWin, nil, nil, map[string]string{"REF_7_1": "100", "REF_7_2": "100"}},
		{"outsider winner refunds", outcome.CodeWin, id(99), nil, map[string]string{"REF_7_1": "100", "REF_7_2": "100"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Plan(&ch, tc.code, tc.winner, tc.loser, minPayout)
			if len(got) != len(tc.want) {
				t.Fatalf("transfers = %+v", got)
			}
			for _, tr := range got {
				want, ok := tc.want[tr.RequestID]
				if !ok || !tr.Amount.Equal(decimal.RequireFromString(want)) || tr.Kind != models.TxnWithdrawal {
					t.Errorf("unexpected transfer %+v", tr)
				}
			}
		})
	}
}

func TestPlanSmallAmountsBecomeBalanceCredits(t *testing.T) {
	ch := testChallenge(3, 5)
	got := Plan(&ch, outcome.CodeAgreed, nil, nil, minPayout)
	if len(got) != 2 {
		t.Fatalf("transfers = %+v", got)
	}
	for _, tr := range got {
		if tr.Kind != models.TxnBalanceCredit || tr.RequestID[:4] != "BAL_" {
			t.Errorf("transfer = %+v, want balance credit", tr)
		}
	}
	// 2 x 5 reaches the minimum exactly
	win := Plan(&ch, outcome.CodeWin, id(2), id(1), minPayout)
	if len(win) != 1 || win[0].Kind != models.TxnWithdrawal || !win[0].Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("win transfers = %+v", win)
	}
}

func TestPlanZeroStake(t *testing.T) {
	ch := testChallenge(3, 0)
	if got := Plan(&ch, outcome.CodeWin, id(1), id(2), minPayout); got != nil {
		t.Errorf("zero stake transfers = %+v", got)
	}
}

func TestSettleWinPaysWinnerAndNotifies(t *testing.T) {
	h := newHarness(t, testChallenge(10, 100), true)
	if _, claimed := h.resolve(t, outcome.CodeWin, id(1), id(2)); !claimed {
		t.Fatalf("first resolve should claim")
	}

	pays := h.payments(t)
	p, ok := pays["PAY_10_1"]
	if len(pays) != 1 || !ok || !p.Amount.Equal(decimal.NewFromInt(200)) || p.TransactionID.String != "TX-PAY_10_1" {
		t.Fatalf("payments = %+v", pays)
	}
	if got := h.notifier.typesFor(1); len(got) != 1 || got[0] != notify.EventVictory {
		t.Errorf("winner events = %v", got)
	}
	if got := h.notifier.typesFor(2); len(got) != 1 || got[0] != notify.EventMatchResult {
		t.Errorf("loser events = %v", got)
	}
	rec, _ := h.store.FindByID(context.Background(), h.rec.ID)
	if !rec.ResultChecked || !rec.CompletedAt.Valid || rec.WinnerID.Int64 != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestSettleDrawRefundsBoth(t *testing.T) {
	h := newHarness(t, testChallenge(11, 100), true)
	h.resolve(t, outcome.CodeStalemate, nil, nil)

	pays := h.payments(t)
	if len(pays) != 2 || !pays["REF_11_1"].Amount.Equal(decimal.NewFromInt(100)) || !pays["REF_11_2"].Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("payments = %+v", pays)
	}
	for _, uid := range []int64{1, 2} {
		if got := h.notifier.typesFor(uid); len(got) != 1 || got[0] != notify.EventDraw {
			t.Errorf("user %d events = %v", uid, got)
		}
	}
}

func TestSettleLoserDeclaredPaysOtherPlayer(t *testing.T) {
	h := newHarness(t, testChallenge(12, 100), true)
	h.resolve(t, outcome.CodeResigned, nil, id(2))

	pays := h.payments(t)
	if _, ok := pays["PAY_12_1"]; len(pays) != 1 || !ok {
		t.Fatalf("payments = %+v", pays)
	}
}

func TestSettleUnknownCodeRefunds(t *testing.T) {
	h := newHarness(t, testChallenge(13, 100), true)
	h.resolve(t, "moon_phase", id(1), id(2))
	if pays := h.payments(t); len(pays) != 2 {
		t.Fatalf("payments = %+v", pays)
	}
}

func TestSettleZeroStakeStillCloses(t *testing.T) {
	h := newHarness(t, testChallenge(14, 0), true)
	h.resolve(t, outcome.CodeWin, id(1), id(2))

	if pays := h.payments(t); len(pays) != 0 {
		t.Errorf("payments = %+v", pays)
	}
	if h.payouter.count() != 0 {
		t.Errorf("gateway must not be called")
	}
	rec, _ := h.store.FindByID(context.Background(), h.rec.ID)
	if !rec.CompletedAt.Valid {
		t.Errorf("match should be closed")
	}
}

func TestSettleSmallStakeCreditsBalance(t *testing.T) {
	h := newHarness(t, testChallenge(15, 5), true)
	h.resolve(t, outcome.CodeAgreed, nil, nil)

	if h.payouter.count() != 0 {
		t.Errorf("gateway called for amounts below minimum")
	}
	for _, uid := range []int64{1, 2} {
		if !h.ledger.Balance(uid).Equal(decimal.NewFromInt(5)) {
			t.Errorf("user %d balance = %s", uid, h.ledger.Balance(uid))
		}
	}
	for _, p := range h.payments(t) {
		if p.TransactionType != models.TxnBalanceCredit || p.Status != models.PaymentCompleted {
			t.Errorf("payment = %+v", p)
		}
	}
}

func TestSettleOneFailedTransferDoesNotBlockTheOther(t *testing.T) {
	h := newHarness(t, testChallenge(16, 100), true)
	h.payouter.fail[1] = true
	h.resolve(t, outcome.CodeAgreed, nil, nil)

	pays := h.payments(t)
	if pays["REF_16_1"].Status != models.PaymentFailed {
		t.Errorf("failed refund status = %s", pays["REF_16_1"].Status)
	}
	if pays["REF_16_2"].Status != models.PaymentPending || pays["REF_16_2"].TransactionID.String == "" {
		t.Errorf("second refund = %+v", pays["REF_16_2"])
	}
	rec, _ := h.store.FindByID(context.Background(), h.rec.ID)
	if !rec.CompletedAt.Valid {
		t.Errorf("match should close despite a failed transfer")
	}
}

func TestSettleWithoutGatewayNeedsRemediation(t *testing.T) {
	h := newHarness(t, testChallenge(17, 100), false)
	h.resolve(t, outcome.CodeWin, id(2), id(1))

	p := h.payments(t)["PAY_17_2"]
	if p.Status != models.PaymentNeedsRemediation {
		t.Errorf("status = %s, want needs_remediation", p.Status)
	}
}

func TestResolveIsExactlyOnceUnderConcurrency(t *testing.T) {
	h := newHarness(t, testChallenge(18, 100), true)

	const n = 20
	var wg sync.WaitGroup
	claims := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, winner, loser := outcome.CodeWin, id(1), id(2)
			if i%2 == 1 {
				code, winner, loser = outcome.CodeAgreed, nil, nil
			}
			_, claimed, err := h.engine.Resolve(context.Background(), match.Resolution{
				MatchID: h.rec.ID, ChallengeID: 18, Code: code, WinnerID: winner, LoserID: loser,
				Source: models.SourceManual,
			})
			if err != nil {
				t.Errorf("resolve: %v", err)
			}
			claims <- claimed
		}(i)
	}
	wg.Wait()
	close(claims)

	won := 0
	for c := range claims {
		if c {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("claims = %d, want exactly 1", won)
	}

	results, _ := h.store.ResultsForChallenge(context.Background(), 18)
	auth := 0
	for _, r := range results {
		if r.Authoritative {
			auth++
		}
	}
	if len(results) != n || auth != 1 {
		t.Errorf("results = %d authoritative = %d", len(results), auth)
	}

	pays := h.payments(t)
	var total decimal.Decimal
	for _, p := range pays {
		total = total.Add(p.Amount)
	}
	if !total.Equal(decimal.NewFromInt(200)) {
		t.Errorf("total paid out = %s, want 200", total)
	}
}

func TestLosingResolveReturnsAuditRow(t *testing.T) {
	h := newHarness(t, testChallenge(19, 100), true)
	h.resolve(t, outcome.CodeWin, id(1), id(2))
	res, claimed := h.resolve(t, outcome.CodeAgreed, nil, nil)
	if claimed || res == nil || res.Authoritative {
		t.Errorf("second resolve = %+v claimed=%v", res, claimed)
	}
	if h.payouter.count() != 1 {
		t.Errorf("gateway calls = %d, want 1", h.payouter.count())
	}
}
