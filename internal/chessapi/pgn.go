package chessapi

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/chequemate/backend/internal/outcome"
	nchess "github.com/corentings/chess/v2"
)

// PGNSummary is what a proof PGN says about the end of the game.
type PGNSummary struct {
	Winner  outcome.Side
	Draw    bool
	Decided bool
	Method  string
	Plies   int
}

var (
	pgnTag       = regexp.MustCompile(`\[(\w+)\s+"([^"]*)"\]`)
	pgnComment   = regexp.MustCompile(`\{[^}]*\}|;[^\n]*`)
	pgnVariation = regexp.MustCompile(`\([^()]*\)`)
	pgnMoveNo    = regexp.MustCompile(`^\d+\.+`)
)

var errEmptyPGN = errors.New("empty pgn")

// SummarizePGN replays the movetext to confirm it is a legal game and reads
// the result. Checkmate and stalemate come from the replay; resignations
// and flags only exist in the Result tag.
func SummarizePGN(pgn string) (*PGNSummary, error) {
	if strings.TrimSpace(pgn) == "" {
		return nil, errEmptyPGN
	}

	tags := map[string]string{}
	for _, m := range pgnTag.FindAllStringSubmatch(pgn, -1) {
		tags[m[1]] = m[2]
	}

	movetext := pgnTag.ReplaceAllString(pgn, " ")
	movetext = pgnComment.ReplaceAllString(movetext, " ")
	for pgnVariation.MatchString(movetext) {
		movetext = pgnVariation.ReplaceAllString(movetext, " ")
	}

	game := nchess.NewGame()
	notation := nchess.AlgebraicNotation{}
	plies := 0
	for _, tok := range strings.Fields(movetext) {
		tok = pgnMoveNo.ReplaceAllString(tok, "")
		tok = strings.TrimRight(tok, "!?")
		if tok == "" || strings.HasPrefix(tok, "$") || isResultToken(tok) {
			continue
		}
		move, err := notation.Decode(game.Position(), tok)
		if err != nil {
			return nil, fmt.Errorf("decode move %d %q: %w", plies+1, tok, err)
		}
		if err := game.Move(move, nil); err != nil {
			return nil, fmt.Errorf("apply move %d %q: %w", plies+1, tok, err)
		}
		plies++
	}

	sum := &PGNSummary{Plies: plies}
	switch game.Outcome() {
	case nchess.WhiteWon:
		sum.Winner, sum.Decided = outcome.White, true
	case nchess.BlackWon:
		sum.Winner, sum.Decided = outcome.Black, true
	case nchess.Draw:
		sum.Draw, sum.Decided = true, true
	}
	if sum.Decided {
		sum.Method = strings.ToLower(game.Method().String())
		return sum, nil
	}

	switch tags["Result"] {
	case "1-0":
		sum.Winner, sum.Decided = outcome.White, true
	case "0-1":
		sum.Winner, sum.Decided = outcome.Black, true
	case "1/2-1/2":
		sum.Draw, sum.Decided = true, true
	}
	sum.Method = strings.ToLower(tags["Termination"])
	return sum, nil
}

func isResultToken(tok string) bool {
	switch tok {
	case "1-0", "0-1", "1/2-1/2", "*":
		return true
	}
	return false
}
