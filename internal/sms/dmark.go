package sms

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chequemate/backend/internal/config"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/payment"
	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("sms client not configured")
	ErrRateLimited   = errors.New("sms rate limited")
)

// Client is a minimal DMark SMS client with token caching in Redis.
type Client struct {
	baseURL              string
	username             string
	password             string
	rdb                  *redis.Client
	httpClient           *http.Client
	rateLimitSeconds     int
	tokenFallbackSeconds int
	cacheKeyPrefix       string
	log                  *zap.Logger
}

// NewClient constructs a DMark client. Returns nil if not configured.
func NewClient(cfg *config.Config, rdb *redis.Client) *Client {
	if cfg == nil || cfg.SMSServiceBaseURL == "" || cfg.SMSServiceUsername == "" || cfg.SMSServicePassword == "" {
		return nil
	}

	fallback := cfg.SMSTokenFallbackSeconds
	if fallback <= 0 {
		fallback = 3000
	}
	return &Client{
		baseURL:              strings.TrimRight(cfg.SMSServiceBaseURL, "/"),
		username:             cfg.SMSServiceUsername,
		password:             cfg.SMSServicePassword,
		rdb:                  rdb,
		httpClient:           &http.Client{Timeout: 15 * time.Second},
		rateLimitSeconds:     cfg.SMSRateLimitSeconds,
		tokenFallbackSeconds: fallback,
		cacheKeyPrefix:       "sms_token:",
		log:                  logger.L().Named("sms"),
	}
}

// SendSMS sends a single SMS and returns the provider message id when one
// is given. Messages to the same phone inside the rate-limit window are
// dropped with ErrRateLimited.
func (c *Client) SendSMS(ctx context.Context, phone string, message string) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}

	details, err := payment.NormalizePhoneNumber(phone)
	if err != nil {
		return "", err
	}
	number := details.NormalizedNumber

	if c.rdb != nil && c.rateLimitSeconds > 0 {
		key := "sms_rate:" + number
		ok, err := c.rdb.SetNX(ctx, key, "1", time.Duration(c.rateLimitSeconds)*time.Second).Result()
		if err == nil && !ok {
			return "", fmt.Errorf("%w: %s", ErrRateLimited, number)
		}
		// a Redis failure does not block the send
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"msg":     message,
		"numbers": number,
		"dlr_url": "",
		"scan_ip": false,
	})

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt-1)); err != nil {
				return "", err
			}
		}

		accessToken, err := c.getAccessToken(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/api/send_sms/", bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("authToken", accessToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			id := messageID(body)
			c.log.Debug("sms sent", zap.String("phone", number), zap.String("message_id", id))
			return id, nil
		case resp.StatusCode == http.StatusUnauthorized:
			c.clearToken(ctx)
			lastErr = fmt.Errorf("sms provider rejected token: %s", string(body))
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("sms provider error %d: %s", resp.StatusCode, string(body))
		default:
			return "", fmt.Errorf("sms send failed: %d %s", resp.StatusCode, string(body))
		}
	}

	if lastErr == nil {
		lastErr = errors.New("sms send failed")
	}
	return "", lastErr
}

func messageID(body []byte) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	for _, k := range []string{"msg_id", "message_id"} {
		if v, ok := parsed[k].(string); ok {
			return v
		}
	}
	return ""
}

func (c *Client) tokenKey() string {
	return c.cacheKeyPrefix + shortCredHash(c.username, c.password)
}

func (c *Client) clearToken(ctx context.Context) {
	if c.rdb != nil {
		c.rdb.Del(ctx, c.tokenKey())
	}
}

// getAccessToken fetches or returns cached DMark access token
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	key := c.tokenKey()
	if c.rdb != nil {
		if tok, err := c.rdb.Get(ctx, key).Result(); err == nil {
			return tok, nil
		}
	}

	b, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/get_token/", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if parsed.AccessToken == "" {
		return "", errors.New("token not present in response")
	}

	if c.rdb != nil {
		c.rdb.Set(ctx, key, parsed.AccessToken, c.tokenTTL(parsed.AccessToken, time.Now()))
	}
	return parsed.AccessToken, nil
}

// tokenTTL caches for 90% of the token's remaining life, or the fallback
// when the token carries no usable exp claim.
func (c *Client) tokenTTL(token string, now time.Time) time.Duration {
	fallback := time.Duration(c.tokenFallbackSeconds) * time.Second
	exp, err := jwtExpiry(token)
	if err != nil {
		return fallback
	}
	remaining := exp.Sub(now) * 9 / 10
	if remaining <= 0 {
		return fallback
	}
	return remaining
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// is only ever handed back to the provider that issued it.
func jwtExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, errors.New("exp claim not found")
	}
	return time.Unix(int64(exp), 0), nil
}

func shortCredHash(u, p string) string {
	h := md5.Sum([]byte(u + ":" + p))
	return hex.EncodeToString(h[:])[:8]
}

func backoff(attempt int) time.Duration {
	return time.Duration(100+attempt*200) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
