package handlers

import (
	"github.com/chequemate/backend/internal/logger"
	"github.com/chequemate/backend/internal/notify"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleNotifications upgrades an authenticated request to the user's
// notification socket.
func HandleNotifications(hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		if err := hub.Serve(c.Writer, c.Request, userID); err != nil {
			// the upgrader has already written the error response
			logger.L().Named("ws").Warn("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}
