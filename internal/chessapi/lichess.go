package chessapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chequemate/backend/internal/models"
	"go.uber.org/zap"
)

const lichessRecentMax = 10

type lichessUser struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type lichessSide struct {
	User lichessUser `json:"user"`
}

type lichessGame struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Winner     string `json:"winner"`
	CreatedAt  int64  `json:"createdAt"`
	LastMoveAt int64  `json:"lastMoveAt"`
	PGN        string `json:"pgn"`
	Players    struct {
		White lichessSide `json:"white"`
		Black lichessSide `json:"black"`
	} `json:"players"`
}

// Statuses of games that have not finished yet.
var lichessUnfinished = map[string]bool{
	"created": true,
	"started": true,
}

// lichessLoserToken maps a decisive status to the losing side's token.
var lichessLoserToken = map[string]string{
	"mate":       "checkmated",
	"resign":     "resigned",
	"outoftime":  "timeout",
	"timeout":    "abandoned",
	"cheat":      "rule_violation",
	"noStart":    "abandoned",
	"variantEnd": "checkmated",
}

// lichessDrawToken maps a drawn status to a draw-class token.
var lichessDrawToken = map[string]string{
	"draw":      "agreed",
	"stalemate": "stalemate",
	"aborted":   "aborted",
	"noStart":   "aborted",
	"outoftime": "timevsinsufficient",
}

func (g lichessGame) name(side lichessSide) string {
	if side.User.Name != "" {
		return side.User.Name
	}
	return side.User.ID
}

func (g lichessGame) toGame() (Game, bool) {
	white, black := g.name(g.Players.White), g.name(g.Players.Black)
	if g.ID == "" || white == "" || black == "" || lichessUnfinished[g.Status] {
		return Game{}, false
	}

	end := g.LastMoveAt
	if end == 0 {
		end = g.CreatedAt
	}
	if end == 0 {
		return Game{}, false
	}

	var wr, br string
	switch g.Winner {
	case "white", "black":
		loser, ok := lichessLoserToken[g.Status]
		if !ok {
			loser = "lose"
		}
		if g.Winner == "white" {
			wr, br = "win", loser
		} else {
			wr, br = loser, "win"
		}
	default:
		token, ok := lichessDrawToken[g.Status]
		if !ok {
			token = g.Status
		}
		wr, br = token, token
	}

	return Game{
		ID:       g.ID,
		URL:      "https://lichess.org/" + g.ID,
		Platform: models.PlatformLichess,
		White:    Player{Username: white, Result: wr},
		Black:    Player{Username: black, Result: br},
		EndTime:  time.UnixMilli(end),
		PGN:      g.PGN,
	}, true
}

func (c *Client) lichessRecent(ctx context.Context, username string, since time.Time) ([]Game, error) {
	q := url.Values{}
	q.Set("max", fmt.Sprint(lichessRecentMax))
	q.Set("since", fmt.Sprint(since.UnixMilli()))
	q.Set("pgnInJson", "true")
	endpoint := fmt.Sprintf("%s/api/games/user/%s?%s", c.lichessBase, url.PathEscape(username), q.Encode())

	body, err := c.get(ctx, endpoint, "application/x-ndjson")
	if errors.Is(err, ErrGameNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Game
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw lichessGame
		if err := json.Unmarshal(line, &raw); err != nil {
			c.log.Debug("skipping malformed lichess line", zap.Error(err))
			continue
		}
		g, ok := raw.toGame()
		if !ok || g.EndTime.Before(since) {
			continue
		}
		out = append(out, g)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read lichess feed for %s: %v", ErrSourceUnavailable, username, err)
	}
	return out, nil
}

func (c *Client) lichessGame(ctx context.Context, gameID string) (*Game, error) {
	endpoint := fmt.Sprintf("%s/game/export/%s?pgnInJson=true", c.lichessBase, url.PathEscape(gameID))
	body, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var raw lichessGame
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode lichess game %s: %w", gameID, err)
	}
	g, ok := raw.toGame()
	if !ok {
		return nil, fmt.Errorf("lichess game %s: %w", gameID, ErrGameNotFound)
	}
	return &g, nil
}
