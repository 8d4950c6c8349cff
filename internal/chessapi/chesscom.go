package chessapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chequemate/backend/internal/models"
	"go.uber.org/zap"
)

type chessComArchives struct {
	Archives []string `json:"archives"`
}

type chessComSide struct {
	Username string `json:"username"`
	Result   string `json:"result"`
}

type chessComGame struct {
	URL     string       `json:"url"`
	PGN     string       `json:"pgn"`
	EndTime int64        `json:"end_time"`
	White   chessComSide `json:"white"`
	Black   chessComSide `json:"black"`
}

type chessComMonth struct {
	Games []chessComGame `json:"games"`
}

func (g chessComGame) toGame() (Game, bool) {
	if g.White.Username == "" || g.Black.Username == "" || g.EndTime <= 0 {
		return Game{}, false
	}
	return Game{
		ID:       lastPathSegment(g.URL),
		URL:      g.URL,
		Platform: models.PlatformChessCom,
		White:    Player{Username: g.White.Username, Result: g.White.Result},
		Black:    Player{Username: g.Black.Username, Result: g.Black.Result},
		EndTime:  time.Unix(g.EndTime, 0),
		PGN:      g.PGN,
	}, true
}

// chessComRecent resolves the newest monthly archive and scans it from the tail.
func (c *Client) chessComRecent(ctx context.Context, username string, since time.Time) ([]Game, error) {
	archivesURL := fmt.Sprintf("%s/pub/player/%s/games/archives", c.chessComBase, url.PathEscape(strings.ToLower(username)))
	body, err := c.get(ctx, archivesURL, "application/json")
	if errors.Is(err, ErrGameNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var archives chessComArchives
	if err := json.Unmarshal(body, &archives); err != nil {
		return nil, fmt.Errorf("%w: decode archives for %s: %v", ErrSourceUnavailable, username, err)
	}
	if len(archives.Archives) == 0 {
		return nil, nil
	}

	latest := archives.Archives[len(archives.Archives)-1]
	body, err = c.get(ctx, latest, "application/json")
	if err != nil {
		return nil, err
	}

	var month chessComMonth
	if err := json.Unmarshal(body, &month); err != nil {
		return nil, fmt.Errorf("%w: decode archive %s: %v", ErrSourceUnavailable, latest, err)
	}

	// Archives are ordered oldest first.
	var out []Game
	for i := len(month.Games) - 1; i >= 0; i-- {
		g, ok := month.Games[i].toGame()
		if !ok {
			c.log.Debug("skipping malformed chess.com game", zap.String("url", month.Games[i].URL))
			continue
		}
		if g.EndTime.Before(since) {
			break
		}
		out = append(out, g)
	}
	return out, nil
}

func (c *Client) chessComGame(ctx context.Context, gameID string) (*Game, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/pub/game/%s", c.chessComBase, url.PathEscape(gameID)), "application/json")
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Game *chessComGame `json:"game"`
	}
	var raw chessComGame
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Game != nil {
		raw = *wrapped.Game
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode chess.com game %s: %w", gameID, err)
	}

	g, ok := raw.toGame()
	if !ok {
		// Live games that are still running have no end time yet.
		if raw.White.Username == "" || raw.Black.Username == "" {
			return nil, fmt.Errorf("chess.com game %s: %w", gameID, ErrGameNotFound)
		}
		g = Game{
			ID:       gameID,
			URL:      raw.URL,
			Platform: models.PlatformChessCom,
			White:    Player{Username: raw.White.Username, Result: raw.White.Result},
			Black:    Player{Username: raw.Black.Username, Result: raw.Black.Result},
			PGN:      raw.PGN,
		}
	}
	if g.ID == "" {
		g.ID = gameID
	}
	return &g, nil
}

func lastPathSegment(u string) string {
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}
