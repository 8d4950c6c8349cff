package chessapi

import (
	"regexp"

	"github.com/chequemate/backend/internal/models"
)

var (
	chessComGameURL = regexp.MustCompile(`(?i)chess\.com/(?:game/(?:live|daily)/|live/game/|game/|daily/game/)(\d+)`)
	// Lichess ids are 8 characters; player-specific links append 4 more.
	lichessGameURL = regexp.MustCompile(`(?i)lichess\.org/([a-z0-9]{8})(?:[a-z0-9]{4})?(?:[/?#]|$)`)
)

// ExtractGameID finds the platform and game id in a game link.
func ExtractGameID(link string) (platform, id string, ok bool) {
	if m := chessComGameURL.FindStringSubmatch(link); m != nil {
		return models.PlatformChessCom, m[1], true
	}
	if m := lichessGameURL.FindStringSubmatch(link); m != nil {
		return models.PlatformLichess, m[1], true
	}
	return "", "", false
}
