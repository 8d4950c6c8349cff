package checker

import (
	"strconv"
	"strings"
	"time"
)

// Assumed moves per player when estimating game length.
const movesPerPlayer = 30

// InitialDelay estimates how long a game with the given "minutes+increment"
// time control lasts: both clocks fully used plus the increment for every
// move. Missing or malformed controls fall back to def.
func InitialDelay(timeControl string, def time.Duration) time.Duration {
	tc := strings.TrimSpace(timeControl)
	if tc == "" {
		return def
	}

	parts := strings.SplitN(tc, "+", 2)
	minutes, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || minutes < 0 {
		return def
	}

	increment := 0
	if len(parts) == 2 {
		increment, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || increment < 0 {
			return def
		}
	}

	secs := 2*minutes*60 + 2*movesPerPlayer*increment
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
