// Command ops-token prints a bcrypt hash for OPS_TOKEN_HASH. The token is
// read from OPS_TOKEN or generated when unset.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	token := os.Getenv("OPS_TOKEN")
	generated := false
	if token == "" {
		var err error
		if token, err = newToken(); err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		generated = true
	}

	hash, err := hashToken(token)
	if err != nil {
		log.Fatalf("Failed to hash token: %v", err)
	}

	if generated {
		fmt.Printf("OPS_TOKEN=%s\n", token)
	}
	fmt.Printf("OPS_TOKEN_HASH=%s\n", hash)
	log.Println("Send the token in the X-Ops-Token header for /api/v1/match-checker routes.")
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) (string, error) {
	if len(token) < 16 {
		return "", fmt.Errorf("token must be at least 16 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
