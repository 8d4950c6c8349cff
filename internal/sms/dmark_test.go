package sms

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
	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
)

type dmarkServer struct {
	token      string
	tokenCalls int32
	sendCalls  int32
	failFirst  int32
	lastBody   map[string]interface{}
}

func (d *dmarkServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/get_token/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&d.tokenCalls, 1)
		json.NewEncoder(w).Encode(map[string]string{"access_token": d.token})
	})
	mux.HandleFunc("/v3/api/send_sms/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&d.sendCalls, 1)
		if r.Header.Get("authToken") != d.token {
			t.Errorf("authToken = %q", r.Header.Get("authToken"))
		}
		json.NewDecoder(r.Body).Decode(&d.lastBody)
		if n <= atomic.LoadInt32(&d.failFirst) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"msg_id":"m-77"}`))
	})
	return mux
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func newTestClient(t *testing.T, d *dmarkServer, rateLimit int) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := httptest.NewServer(d.handler(t))
	t.Cleanup(srv.Close)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := NewClient(&config.Config{
		SMSServiceBaseURL:   srv.URL,
		SMSServiceUsername:  "chequemate",
		SMSServicePassword:  "pw",
		SMSRateLimitSeconds: rateLimit,
	}, rdb)
	return c, mr
}

func TestSendSMSCachesTokenAndFormatsNumber(t *testing.T) {
	d := &dmarkServer{token: signedToken(t, time.Now().Add(time.Hour))}
	c, mr := newTestClient(t, d, 0)

	for i := 0; i < 2; i++ {
		id, err := c.SendSMS(context.Background(), "0712 345 678", "hello")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if id != "m-77" {
			t.Errorf("message id = %q", id)
		}
	}
	if d.tokenCalls != 1 {
		t.Errorf("token calls = %d, want 1", d.tokenCalls)
	}
	if d.lastBody["numbers"] != "254712345678" || d.lastBody["msg"] != "hello" {
		t.Errorf("body = %v", d.lastBody)
	}
	ttl := mr.TTL(c.tokenKey())
	if ttl < 50*time.Minute || ttl > 55*time.Minute {
		t.Errorf("token ttl = %v, want about 54m", ttl)
	}
}

func TestSendSMSRetriesServerErrors(t *testing.T) {
	d := &dmarkServer{token: signedToken(t, time.Now().Add(time.Hour)), failFirst: 2}
	c, _ := newTestClient(t, d, 0)

	if _, err := c.SendSMS(context.Background(), "254712345678", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if d.sendCalls != 3 {
		t.Errorf("send calls = %d, want 3", d.sendCalls)
	}
}

func TestSendSMSRateLimitsPerPhone(t *testing.T) {
	d := &dmarkServer{token: signedToken(t, time.Now().Add(time.Hour))}
	c, _ := newTestClient(t, d, 60)
	ctx := context.Background()

	if _, err := c.SendSMS(ctx, "0712345678", "one"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := c.SendSMS(ctx, "+254712345678", "two"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second send err = %v, want rate limited", err)
	}
	if _, err := c.SendSMS(ctx, "0798765432", "three"); err != nil {
		t.Errorf("other phone: %v", err)
	}
}

func TestSendSMSRejectsBadNumberAndNilClient(t *testing.T) {
	d := &dmarkServer{token: "opaque"}
	c, _ := newTestClient(t, d, 0)
	if _, err := c.SendSMS(context.Background(), "12", "x"); err == nil {
		t.Error("expected invalid phone error")
	}
	if d.sendCalls != 0 {
		t.Errorf("send calls = %d", d.sendCalls)
	}

	var nilClient *Client
	if _, err := nilClient.SendSMS(context.Background(), "0712345678", "x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("nil client err = %v", err)
	}
	if NewClient(&config.Config{}, nil) != nil {
		t.Error("unconfigured client should be nil")
	}
}

func TestTokenTTLFallsBackForOpaqueTokens(t *testing.T) {
	c := &Client{tokenFallbackSeconds: 120}
	if got := c.tokenTTL("not-a-jwt", time.Now()); got != 2*time.Minute {
		t.Errorf("opaque ttl = %v", got)
	}
	expired := signedToken(t, time.Now().Add(-time.Minute))
	if got := c.tokenTTL(expired, time.Now()); got != 2*time.Minute {
		t.Errorf("expired ttl = %v", got)
	}
}
