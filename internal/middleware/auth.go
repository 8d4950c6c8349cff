package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/chequemate/backend/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "user_id"

// OpsTokenHeader carries the shared operations secret.
const OpsTokenHeader = "X-Ops-Token"

// ParseUserToken validates an HS256 token and returns its id claim.
func ParseUserToken(secret, token string) (int64, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	id, ok := claims["id"].(float64)
	if !ok || id <= 0 {
		return 0, fmt.Errorf("token has no user id")
	}
	return int64(id), nil
}

// AuthMiddleware validates the bearer JWT and sets user_id in context.
// When allowQuery is set the token may also come from ?token=, which is how
// browsers authenticate websocket upgrades.
func AuthMiddleware(cfg *config.Config, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		} else if allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := ParseUserToken(cfg.JWTSecret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the id set by AuthMiddleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// OpsTokenMiddleware guards operational endpoints with a shared secret
// checked against the bcrypt hash in OPS_TOKEN_HASH. With no hash set the
// endpoints are disabled.
func OpsTokenMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.OpsTokenHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ops endpoints disabled"})
			return
		}
		token := c.GetHeader(OpsTokenHeader)
		if token == "" || bcrypt.CompareHashAndPassword([]byte(cfg.OpsTokenHash), []byte(token)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid ops token"})
			return
		}
		c.Next()
	}
}
