package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chequemate/backend/internal/config"
	"github.com/chequemate/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type onitServer struct {
	authCalls     int32
	withdrawCalls int32
	failFirst     int32
	status        int
	lastBody      map[string]interface{}
}

func (o *onitServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/jwt", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&o.authCalls, 1)
		var in map[string]interface{}
		json.NewDecoder(r.Body).Decode(&in)
		if in["userId"] != float64(1003) || in["password"] != "secret" {
			t.Errorf("auth body = %v", in)
		}
		w.Write([]byte(`{"access_token":"tok-1","validity":60}`))
	})
	mux.HandleFunc("/api/v1/transaction/withdraw", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&o.withdrawCalls, 1)
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&o.lastBody)
		if n <= atomic.LoadInt32(&o.failFirst) {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if o.status != 0 {
			w.WriteHeader(o.status)
			w.Write([]byte(`{"message":"nope"}`))
			return
		}
		w.Write([]byte(`{"transactionId":"TX-9","status":"PENDING"}`))
	})
	return mux
}

func newTestGateway(t *testing.T, o *onitServer) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := httptest.NewServer(o.handler(t))
	t.Cleanup(srv.Close)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		OnitHost:           srv.URL,
		OnitUserID:         "1003",
		OnitPassword:       "secret",
		OnitSourceAccount:  "0001650000001",
		OnitChannel:        "MPESA",
		OnitProduct:        "CA04",
		OnitCallbackURL:    "https://example.test/cb",
		OnitTimeoutSeconds: 5,
	}
	return NewClient(cfg, rdb), mr
}

func TestWithdrawCachesToken(t *testing.T) {
	o := &onitServer{}
	c, mr := newTestGateway(t, o)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		txID, err := c.Payout(ctx, "PAY_1_2", "0712345678", decimal.RequireFromString("199.6"), "winnings")
		if err != nil {
			t.Fatalf("payout: %v", err)
		}
		if txID != "TX-9" {
			t.Errorf("transaction id = %q", txID)
		}
	}
	if n := atomic.LoadInt32(&o.authCalls); n != 1 {
		t.Errorf("auth calls = %d, want 1", n)
	}
	if got, _ := mr.Get("onit_token:1003"); got != "tok-1" {
		t.Errorf("cached token = %q", got)
	}
	if ttl := mr.TTL("onit_token:1003"); ttl != 54*time.Minute {
		t.Errorf("token ttl = %v, want 54m", ttl)
	}

	body := o.lastBody
	if body["destinationAccount"] != "254712345678" || body["amount"] != float64(200) || body["channelType"] != "MOBILE" {
		t.Errorf("withdraw body = %v", body)
	}
	if body["originatorRequestId"] != "PAY_1_2" || body["sourceAccount"] != "0001650000001" {
		t.Errorf("withdraw ids = %v", body)
	}
}

func TestWithdrawRetriesServerErrors(t *testing.T) {
	o := &onitServer{failFirst: 2}
	c, _ := newTestGateway(t, o)

	if _, err := c.Payout(context.Background(), "PAY_1_2", "254712345678", decimal.NewFromInt(200), "w"); err != nil {
		t.Fatalf("payout after retries: %v", err)
	}
	if n := atomic.LoadInt32(&o.withdrawCalls); n != 3 {
		t.Errorf("withdraw calls = %d, want 3", n)
	}
}

func TestWithdrawClientErrorDoesNotRetry(t *testing.T) {
	o := &onitServer{status: http.StatusBadRequest}
	c, _ := newTestGateway(t, o)

	if _, err := c.Payout(context.Background(), "PAY_1_2", "254712345678", decimal.NewFromInt(200), "w"); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&o.withdrawCalls); n != 1 {
		t.Errorf("withdraw calls = %d, want 1", n)
	}
}

func TestWithdrawAuthErrorClearsToken(t *testing.T) {
	o := &onitServer{status: http.StatusForbidden}
	c, mr := newTestGateway(t, o)

	if _, err := c.Payout(context.Background(), "PAY_1_2", "254712345678", decimal.NewFromInt(200), "w"); err == nil {
		t.Fatalf("expected auth error")
	}
	if mr.Exists("onit_token:1003") {
		t.Errorf("token should be cleared after 403")
	}
}

func TestNilClientIsNotConfigured(t *testing.T) {
	var c *Client
	if _, err := c.Withdraw(context.Background(), TransferRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
	if NewClient(&config.Config{}, nil) != nil {
		t.Errorf("client without credentials should be nil")
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		network string
		ok      bool
	}{
		{"0712345678", "254712345678", "SAFARICOM", true},
		{"+254 712 345 678", "254712345678", "SAFARICOM", true},
		{"254733123456", "254733123456", "AIRTEL", true},
		{"0110123456", "254110123456", "SAFARICOM", true},
		{"712-345-678", "254712345678", "SAFARICOM", true},
		{"0812345678", "", "", false},
		{"07123", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePhoneNumber(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("NormalizePhoneNumber(%q) err = %v", tc.in, err)
			continue
		}
		if tc.ok && (got.NormalizedNumber != tc.want || got.Network != tc.network) {
			t.Errorf("NormalizePhoneNumber(%q) = %+v", tc.in, got)
		}
	}
}

func TestRequestIDIsDeterministic(t *testing.T) {
	if got := RequestID(PrefixPayout, 17, 4); got != "PAY_17_4" {
		t.Errorf("request id = %s", got)
	}
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"originatorRequestId":"PAY_1_2","status":"SUCCESS","transactionId":"TX"}`))
	if err != nil || cb.RequestID != "PAY_1_2" || cb.Status != models.PaymentCompleted {
		t.Fatalf("callback = %+v, %v", cb, err)
	}
	cb, err = ParseCallback([]byte(`{"requestId":"REF_1_2","status":"Failed"}`))
	if err != nil || cb.RequestID != "REF_1_2" || cb.Status != models.PaymentFailed {
		t.Fatalf("callback = %+v, %v", cb, err)
	}
	if _, err := ParseCallback([]byte(`{"status":"ok"}`)); err == nil {
		t.Errorf("missing request id should fail")
	}
	if _, err := ParseCallback([]byte(`nope`)); err == nil {
		t.Errorf("bad json should fail")
	}
}

func TestMemoryLedgerCallbackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	p := &models.Payment{UserID: 1, ChallengeID: 5, Amount: decimal.NewFromInt(200),
		TransactionType: models.TxnWithdrawal, RequestID: "PAY_5_1", Status: models.PaymentPending}
	if created, _ := l.Record(ctx, p); !created {
		t.Fatalf("first record should be created")
	}
	if created, _ := l.Record(ctx, p); created {
		t.Fatalf("duplicate request id must not be created")
	}

	got, changed, err := l.ApplyCallback(ctx, &Callback{RequestID: "PAY_5_1", Status: models.PaymentCompleted, TransactionID: "TX"})
	if err != nil || !changed || got.Status != models.PaymentCompleted {
		t.Fatalf("apply = %+v %v %v", got, changed, err)
	}
	got, changed, _ = l.ApplyCallback(ctx, &Callback{RequestID: "PAY_5_1", Status: models.PaymentFailed})
	if changed || got.Status != models.PaymentCompleted {
		t.Errorf("terminal payment changed by late callback: %+v", got)
	}
	if _, _, err := l.ApplyCallback(ctx, &Callback{RequestID: "nope"}); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("unknown request err = %v", err)
	}
}

func TestSweepFlagsOnlyStaleWithdrawals(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	old := time.Now().Add(-time.Hour)
	l.SetClock(func() time.Time { return old })
	l.Record(ctx, &models.Payment{RequestID: "PAY_1_1", TransactionType: models.TxnWithdrawal, Status: models.PaymentPending})
	l.Record(ctx, &models.Payment{RequestID: "DEP_1_1", TransactionType: models.TxnDeposit, Status: models.PaymentPending})
	l.SetClock(time.Now)
	l.Record(ctx, &models.Payment{RequestID: "PAY_2_1", TransactionType: models.TxnWithdrawal, Status: models.PaymentPending})

	if n := sweepStale(ctx, l, 30*time.Minute, zap.NewNop()); n != 1 {
		t.Fatalf("flagged %d, want 1", n)
	}
	rows, _ := l.ForChallenge(ctx, 0)
	for _, p := range rows {
		want := models.PaymentPending
		if p.RequestID == "PAY_1_1" {
			want = models.PaymentNeedsRemediation
		}
		if p.Status != want {
			t.Errorf("%s status = %s, want %s", p.RequestID, p.Status, want)
		}
	}
}

type fakeDepositor struct {
	calls int
	err   error
}

func (f *fakeDepositor) Collect(_ context.Context, requestID, phone string, amount decimal.Decimal, _ string) (string, error) {
	f.calls++
	return "DTX", f.err
}

func TestStakeCollector(t *testing.T) {
	ctx := context.Background()
	ch := &models.Challenge{ID: 8, ChallengerID: 1, OpponentID: 2}
	ch.BetAmount.Decimal, ch.BetAmount.Valid = decimal.NewFromInt(50), true
	ch.ChallengerPhone.String, ch.ChallengerPhone.Valid = "0712345678", true

	l := NewMemoryLedger()
	dep := &fakeDepositor{}
	s := NewStakeCollector(dep, l)

	if err := s.CollectStake(ctx, ch, 1); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := s.CollectStake(ctx, ch, 1); err != nil {
		t.Fatalf("repeat collect: %v", err)
	}
	if dep.calls != 1 {
		t.Errorf("gateway calls = %d, want 1", dep.calls)
	}

	// opponent has no phone on file
	if err := s.CollectStake(ctx, ch, 2); err != nil {
		t.Fatalf("collect without phone: %v", err)
	}
	rows, _ := l.ForChallenge(ctx, 8)
	if len(rows) != 2 || rows[0].TransactionID.String != "DTX" || rows[1].Status != models.PaymentNeedsRemediation {
		t.Errorf("rows = %+v", rows)
	}

	failing := NewStakeCollector(&fakeDepositor{err: errors.New("boom")}, NewMemoryLedger())
	if err := failing.CollectStake(ctx, ch, 1); err == nil {
		t.Errorf("gateway failure should surface")
	}
}
