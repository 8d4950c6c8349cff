package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chequemate/backend/internal/config"
	"github.com/chequemate/backend/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no gateway credentials are present.
var ErrNotConfigured = errors.New("payment gateway not configured")

// Client handles Onit mobile money API integration
type Client struct {
	baseURL       string
	userID        string
	password      string
	sourceAccount string
	channel       string
	product       string
	callbackURL   string
	rdb           *redis.Client
	httpClient    *http.Client
	cacheKey      string
	log           *zap.Logger
}

// NewClient creates a new Onit client. It returns nil when the gateway is not configured.
func NewClient(cfg *config.Config, rdb *redis.Client) *Client {
	log := logger.L().Named("payment")
	if cfg == nil || !cfg.PaymentsConfigured() {
		log.Warn("payment gateway not fully configured, payouts will need remediation")
		return nil
	}

	return &Client{
		baseURL:       baseURLFor(cfg.OnitHost),
		userID:        cfg.OnitUserID,
		password:      cfg.OnitPassword,
		sourceAccount: cfg.OnitSourceAccount,
		channel:       cfg.OnitChannel,
		product:       cfg.OnitProduct,
		callbackURL:   cfg.OnitCallbackURL,
		rdb:           rdb,
		httpClient:    &http.Client{Timeout: time.Duration(cfg.OnitTimeoutSeconds) * time.Second},
		cacheKey:      "onit_token:",
		log:           log,
	}
}

// ONIT_HOST is usually a bare hostname.
func baseURLFor(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}

func retryDelay(attempt int) time.Duration {
	return time.Duration(100+attempt*200) * time.Millisecond
}

func (c *Client) tokenKey() string {
	return c.cacheKey + c.userID
}

func (c *Client) clearToken(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, c.tokenKey()).Err(); err != nil {
		c.log.Warn("failed to clear cached token", zap.Error(err))
		return
	}
	c.log.Info("cleared cached gateway token")
}

// getAccessToken returns the cached JWT or fetches a new one.
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	if c.rdb != nil {
		if token, err := c.rdb.Get(ctx, c.tokenKey()).Result(); err == nil && token != "" {
			return token, nil
		}
	}

	c.log.Info("fetching new gateway access token")

	// The gateway expects a numeric userId when it is one.
	var uid interface{} = c.userID
	if n, err := strconv.ParseInt(c.userID, 10, 64); err == nil {
		uid = n
	}
	payload, err := json.Marshal(map[string]interface{}{"userId": uid, "password": c.password})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/jwt", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
		Validity    int    `json:"validity"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	token := tokenResp.AccessToken
	if token == "" {
		token = tokenResp.Token
	}
	if token == "" {
		return "", errors.New("no access token in response")
	}

	// Cache with 90% of validity; validity is in minutes
	if c.rdb != nil && tokenResp.Validity > 0 {
		ttl := time.Duration(tokenResp.Validity) * time.Minute * 9 / 10
		if err := c.rdb.Set(ctx, c.tokenKey(), token, ttl).Err(); err != nil {
			c.log.Warn("failed to cache gateway token", zap.Error(err))
		} else {
			c.log.Debug("cached gateway token", zap.Duration("ttl", ttl))
		}
	}

	return token, nil
}

// TransferRequest is one money movement between the platform float and a phone.
type TransferRequest struct {
	RequestID string
	Phone     string
	Amount    decimal.Decimal
	Narration string
}

// TransferResponse is the gateway's synchronous acknowledgement.
type TransferResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// Withdraw pushes money from the platform float to the player's phone.
func (c *Client) Withdraw(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	phone, err := NormalizePhoneNumber(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("invalid phone number: %w", err)
	}
	return c.send(ctx, "withdraw", req, map[string]interface{}{
		"originatorRequestId": req.RequestID,
		"sourceAccount":       c.sourceAccount,
		"destinationAccount":  phone.NormalizedNumber,
		"amount":              req.Amount.Round(0).IntPart(),
		"channel":             c.channel,
		"channelType":         "MOBILE",
		"product":             c.product,
		"narration":           req.Narration,
		"callbackUrl":         c.callbackURL,
	})
}

// Deposit asks the player's phone to pay into the platform float.
func (c *Client) Deposit(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	phone, err := NormalizePhoneNumber(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("invalid phone number: %w", err)
	}
	return c.send(ctx, "deposit", req, map[string]interface{}{
		"originatorRequestId": req.RequestID,
		"sourceAccount":       phone.NormalizedNumber,
		"destinationAccount":  c.sourceAccount,
		"amount":              req.Amount.Round(0).IntPart(),
		"channel":             c.channel,
		"product":             c.product,
		"event":               "",
		"narration":           req.Narration,
		"callbackUrl":         c.callbackURL,
	})
}

func (c *Client) send(ctx context.Context, kind string, req TransferRequest, payload map[string]interface{}) (*TransferResponse, error) {
	var token string
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var err error
		token, err = c.getAccessToken(ctx)
		if err == nil {
			break
		}
		lastErr = err
		time.Sleep(retryDelay(attempt))
	}
	if token == "" {
		return nil, fmt.Errorf("failed to get access token: %w", lastErr)
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	endpoint := c.baseURL + "/api/v1/transaction/" + kind

	c.log.Info("initiating transfer",
		zap.String("kind", kind),
		zap.String("request_id", req.RequestID),
		zap.String("amount", req.Amount.StringFixed(0)))

	for attempt := 0; attempt < 3; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonPayload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			if attempt < 2 {
				time.Sleep(retryDelay(attempt))
				continue
			}
			return nil, fmt.Errorf("%s request failed: %w", kind, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		var out TransferResponse
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &out); err != nil && resp.StatusCode < 300 {
				return nil, fmt.Errorf("failed to decode response: %w (body: %s)", err, string(body))
			}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.log.Info("transfer accepted",
				zap.String("kind", kind),
				zap.String("request_id", req.RequestID),
				zap.String("transaction_id", out.TransactionID))
			return &out, nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			c.clearToken(ctx)
			return &out, fmt.Errorf("%s failed (auth error): %d - %s", kind, resp.StatusCode, string(body))
		case resp.StatusCode >= 500 && attempt < 2:
			lastErr = fmt.Errorf("%s failed with status %d: %s", kind, resp.StatusCode, string(body))
			time.Sleep(retryDelay(attempt))
			continue
		}

		return &out, fmt.Errorf("%s failed: %d - %s", kind, resp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("%s failed after retries: %w", kind, lastErr)
}

// Payout sends a settlement transfer and returns the gateway's transaction id.
func (c *Client) Payout(ctx context.Context, requestID, phone string, amount decimal.Decimal, narration string) (string, error) {
	resp, err := c.Withdraw(ctx, TransferRequest{RequestID: requestID, Phone: phone, Amount: amount, Narration: narration})
	if err != nil {
		return "", err
	}
	return resp.TransactionID, nil
}

// Collect requests a stake deposit and returns the gateway's transaction id.
func (c *Client) Collect(ctx context.Context, requestID, phone string, amount decimal.Decimal, narration string) (string, error) {
	resp, err := c.Deposit(ctx, TransferRequest{RequestID: requestID, Phone: phone, Amount: amount, Narration: narration})
	if err != nil {
		return "", err
	}
	return resp.TransactionID, nil
}
