package chessapi

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FindRecentGame looks for the newest game between a and b that ended inside
// the trailing window. Both players' feeds are queried concurrently because
// either one may lag. It returns nil, nil on a clean miss and an
// ErrSourceUnavailable error only when neither feed answered.
func (c *Client) FindRecentGame(ctx context.Context, platform, a, b string, window time.Duration) (*Game, error) {
	if !c.Supports(platform) {
		return nil, fmt.Errorf("%s: %w", platform, ErrUnsupportedPlatform)
	}

	since := c.now().Add(-window)
	users := []string{a, b}
	games := make([][]Game, len(users))
	errs := make([]error, len(users))

	var g errgroup.Group
	for i, u := range users {
		g.Go(func() error {
			games[i], errs[i] = c.RecentGames(ctx, platform, u, since)
			return nil
		})
	}
	g.Wait()

	if errs[0] != nil && errs[1] != nil {
		return nil, errs[0]
	}
	for i, err := range errs {
		if err != nil {
			c.log.Warn("recent games feed failed, using the other player's feed",
				zap.String("platform", platform), zap.String("username", users[i]), zap.Error(err))
		}
	}

	var best *Game
	for _, list := range games {
		for i := range list {
			game := &list[i]
			if !game.Between(a, b) || game.EndTime.Before(since) {
				continue
			}
			if best == nil || game.EndTime.After(best.EndTime) {
				best = game
			}
		}
	}
	return best, nil
}
