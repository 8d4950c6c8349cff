package main

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashToken(t *testing.T) {
	tok, err := newToken()
	if err != nil {
		t.Fatal(err)
	}
	if len(tok) != 48 {
		t.Errorf("token length = %d", len(tok))
	}
	hash, err := hashToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(tok)) != nil {
		t.Error("hash does not verify the token")
	}
	if _, err := hashToken("short"); err == nil {
		t.Error("short token accepted")
	}
}
