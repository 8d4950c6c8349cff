// Package outcome classifies the end-of-game tokens reported by chess
// platforms and players into the three buckets settlement understands.
package outcome

import "strings"

// Class is the settlement bucket of an outcome code.
type Class int

const (
	// Unknown codes settle as draws so stakes are never stranded.
	Unknown Class = iota
	Draw
	WinnerDeclared
	LoserDeclared
)

func (c Class) String() string {
	switch c {
	case Draw:
		return "draw"
	case WinnerDeclared:
		return "winner_declared"
	case LoserDeclared:
		return "loser_declared"
	default:
		return "unknown"
	}
}

// Decisive reports whether the class pays a single winner.
func (c Class) Decisive() bool {
	return c == WinnerDeclared || c == LoserDeclared
}

// Canonical codes produced by this package.
const (
	CodeWin       = "win"
	CodeResigned  = "resigned"
	CodeTimeout   = "timeout"
	CodeCheckmate = "checkmated"
	CodeAbandoned = "abandoned"
	CodeAgreed    = "agreed"
	CodeStalemate = "stalemate"
	CodeAborted   = "aborted"
	CodeViolation = "rule_violation"
)

var drawCodes = map[string]struct{}{
	"insufficient":         {},
	"timevsinsufficient":   {},
	"repetition":           {},
	"threefold_repetition": {},
	"stalemate":            {},
	"agreed":               {},
	"draw":                 {},
	"fifty_move":           {},
	"50move":               {},
	"aborted":              {},
}

var loserCodes = map[string]struct{}{
	"resigned":       {},
	"timeout":        {},
	"checkmated":     {},
	"abandoned":      {},
	"adjudication":   {},
	"rule_violation": {},
}

// Normalize lowercases and trims a raw token.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Classify maps an outcome code to its settlement bucket.
func Classify(code string) Class {
	code = Normalize(code)
	if code == CodeWin {
		return WinnerDeclared
	}
	if _, ok := drawCodes[code]; ok {
		return Draw
	}
	if _, ok := loserCodes[code]; ok {
		return LoserDeclared
	}
	return Unknown
}

// Side is which colour a participant played.
type Side int

const (
	NoSide Side = iota
	White
	Black
)

// Decision is the parsed result of a finished game.
type Decision struct {
	Code   string
	Winner Side
	Loser  Side
	// Recognized is false when neither token matched a known vocabulary.
	Recognized bool
}

// losingTokens are per-side tokens a platform reports for the losing colour.
// "lose" is chess.com's generic loss marker; it carries no reason.
var losingTokens = map[string]string{
	"resigned":            CodeResigned,
	"timeout":             CodeTimeout,
	"checkmated":          CodeCheckmate,
	"abandoned":           CodeAbandoned,
	"adjudication":        "adjudication",
	"rule_violation":      CodeViolation,
	"lose":                CodeResigned,
	"kingofthehill":       CodeCheckmate,
	"threecheck":          CodeCheckmate,
	"bughousepartnerlose": CodeResigned,
}

// FromSides parses the two per-side tokens of a finished game.
//
// A side reporting "win" makes that colour the winner and the other side's
// token, when it is a known losing reason, becomes the code. Matching draw
// tokens make a draw. Anything else is a draw that is not Recognized, which
// callers log.
func FromSides(white, black string) Decision {
	white, black = Normalize(white), Normalize(black)

	switch {
	case white == CodeWin && black != CodeWin:
		return decisive(White, Black, black)
	case black == CodeWin && white != CodeWin:
		return decisive(Black, White, white)
	}

	if _, ok := drawCodes[white]; ok {
		return Decision{Code: white, Recognized: true}
	}
	if _, ok := drawCodes[black]; ok {
		return Decision{Code: black, Recognized: true}
	}

	code := white
	if code == "" {
		code = black
	}
	return Decision{Code: code}
}

func decisive(winner, loser Side, loserToken string) Decision {
	code, ok := losingTokens[loserToken]
	if !ok {
		code = CodeWin
	}
	return Decision{Code: code, Winner: winner, Loser: loser, Recognized: true}
}
