package outcome

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		code string
		want Class
	}{
		{"win", WinnerDeclared},
		{"WIN", WinnerDeclared},
		{"stalemate", Draw},
		{"agreed", Draw},
		{"threefold_repetition", Draw},
		{"timevsinsufficient", Draw},
		{"aborted", Draw},
		{"50move", Draw},
		{"resigned", LoserDeclared},
		{" timeout ", LoserDeclared},
		{"checkmated", LoserDeclared},
		{"abandoned", LoserDeclared},
		{"adjudication", LoserDeclared},
		{"rule_violation", LoserDeclared},
		{"bughousepartnerlose", Unknown},
		{"", Unknown},
	}

	for _, tc := range cases {
		if got := Classify(tc.code); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestFromSides(t *testing.T) {
	cases := []struct {
		name       string
		white      string
		black      string
		wantCode   string
		wantWinner Side
		wantLoser  Side
		recognized bool
	}{
		{"white wins by resignation", "win", "resigned", CodeResigned, White, Black, true},
		{"black wins on time", "timeout", "win", CodeTimeout, Black, White, true},
		{"black mates", "checkmated", "win", CodeCheckmate, Black, White, true},
		{"generic loss", "win", "lose", CodeResigned, White, Black, true},
		{"unknown losing reason still decisive", "win", "mystery", CodeWin, White, Black, true},
		{"stalemate", "stalemate", "stalemate", "stalemate", NoSide, NoSide, true},
		{"agreed draw", "agreed", "agreed", "agreed", NoSide, NoSide, true},
		{"repetition", "repetition", "repetition", "repetition", NoSide, NoSide, true},
		{"unrecognized", "weird", "weirder", "weird", NoSide, NoSide, false},
		{"both claim win", "win", "win", "win", NoSide, NoSide, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := FromSides(tc.white, tc.black)
			if d.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", d.Code, tc.wantCode)
			}
			if d.Winner != tc.wantWinner || d.Loser != tc.wantLoser {
				t.Errorf("winner/loser = %v/%v, want %v/%v", d.Winner, d.Loser, tc.wantWinner, tc.wantLoser)
			}
			if d.Recognized != tc.recognized {
				t.Errorf("recognized = %v, want %v", d.Recognized, tc.recognized)
			}
		})
	}
}

func TestDecisiveCodesClassifyConsistently(t *testing.T) {
	d := FromSides("win", "timeout")
	if !Classify(d.Code).Decisive() {
		t.Errorf("decisive side parse produced non-decisive code %q", d.Code)
	}
	d = FromSides("agreed", "agreed")
	if Classify(d.Code) != Draw {
		t.Errorf("draw side parse produced %v", Classify(d.Code))
	}
}
