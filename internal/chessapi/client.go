// Package chessapi reads recent and single games from chess.com and lichess
// and reduces them to the narrow Game view the rest of the service uses.
package chessapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chequemate/backend/internal/config"
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/models"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var (
	// ErrSourceUnavailable covers timeouts, transport errors, rate limiting and 5xx answers.
	ErrSourceUnavailable = errors.New("chess platform unavailable")
	// ErrGameNotFound is a 404 from a single-game endpoint.
	ErrGameNotFound = errors.New("game not found")
	// ErrUnsupportedPlatform is returned for platforms without a public game history.
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

// Player is one side of a finished game.
type Player struct {
	Username string
	// Result is the side's own outcome token, e.g. "win", "resigned", "agreed".
	Result string
}

// Game is the validated subset of a platform game the service relies on.
type Game struct {
	ID       string
	URL      string
	Platform string
	White    Player
	Black    Player
	EndTime  time.Time
	PGN      string
}

// Between reports whether the game was played by exactly these two usernames, in either colour.
func (g *Game) Between(a, b string) bool {
	w, bl := strings.ToLower(g.White.Username), strings.ToLower(g.Black.Username)
	a, b = strings.ToLower(a), strings.ToLower(b)
	return (w == a && bl == b) || (w == b && bl == a)
}

// Has reports whether username played either side.
func (g *Game) Has(username string) bool {
	u := strings.ToLower(username)
	return strings.ToLower(g.White.Username) == u || strings.ToLower(g.Black.Username) == u
}

// Options configures a Client.
type Options struct {
	ChessComBase string
	LichessBase  string
	Timeout      time.Duration
	UserAgent    string
}

// Client talks to both platforms over fasthttp.
type Client struct {
	http         *fasthttp.Client
	chessComBase string
	lichessBase  string
	timeout      time.Duration
	userAgent    string
	now          func() time.Time
	log          *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		http: &fasthttp.Client{
			MaxConnsPerHost:     50,
			ReadTimeout:         opts.Timeout,
			WriteTimeout:        opts.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		chessComBase: strings.TrimRight(opts.ChessComBase, "/"),
		lichessBase:  strings.TrimRight(opts.LichessBase, "/"),
		timeout:      opts.Timeout,
		userAgent:    opts.UserAgent,
		now:          time.Now,
		log:          logger.L().Named("chessapi"),
	}
}

// FromConfig builds a Client from the service configuration.
func FromConfig(cfg *config.Config) *Client {
	return NewClient(Options{
		ChessComBase: cfg.ChessComAPIBase,
		LichessBase:  cfg.LichessAPIBase,
		Timeout:      time.Duration(cfg.ChessAPITimeoutSeconds) * time.Second,
		UserAgent:    cfg.ChessAPIUserAgent,
	})
}

// Supports reports whether the platform exposes a recent-games feed.
func (c *Client) Supports(platform string) bool {
	return platform == models.PlatformChessCom || platform == models.PlatformLichess
}

// RecentGames lists the user's games that ended at or after since, newest first.
func (c *Client) RecentGames(ctx context.Context, platform, username string, since time.Time) ([]Game, error) {
	switch platform {
	case models.PlatformChessCom:
		return c.chessComRecent(ctx, username, since)
	case models.PlatformLichess:
		return c.lichessRecent(ctx, username, since)
	default:
		return nil, fmt.Errorf("%s: %w", platform, ErrUnsupportedPlatform)
	}
}

// FetchGame loads a single game by its platform id.
func (c *Client) FetchGame(ctx context.Context, platform, gameID string) (*Game, error) {
	switch platform {
	case models.PlatformChessCom:
		return c.chessComGame(ctx, gameID)
	case models.PlatformLichess:
		return c.lichessGame(ctx, gameID)
	default:
		return nil, fmt.Errorf("%s: %w", platform, ErrUnsupportedPlatform)
	}
}

// get performs a GET bounded by both the client timeout and the context deadline.
func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", accept)
	if c.userAgent != "" {
		req.Header.SetUserAgent(c.userAgent)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrSourceUnavailable, url, err)
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusOK:
	case code == fasthttp.StatusNotFound:
		return nil, fmt.Errorf("GET %s: %w", url, ErrGameNotFound)
	case code == fasthttp.StatusTooManyRequests || code >= 500:
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrSourceUnavailable, url, code)
	default:
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, code)
	}

	return append([]byte(nil), resp.Body()...), nil
}
