package middlewares

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/utils"
)

// SessionUser is what the login service stores under "Token:<token>".
type SessionUser struct {
	UserId    int    `json:"user_id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	PartyType string `json:"party_type"`
	PartyId   int    `json:"party_id"`
}

func sessionKey(token string) string {
	return "Token:" + token
}

// SessionMiddleware resolves the opaque "token" header through redis.
// Older sessions store only the username as a plain string.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		raw, exists, err := config.GetRedisValue(sessionKey(token))
		if err != nil || !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var user SessionUser
		if jsonErr := json.Unmarshal([]byte(raw), &user); jsonErr != nil {
			user = SessionUser{Username: raw}
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, user.Username)
		if user.UserId > 0 {
			ctx = utils.SetUserIdInContext(ctx, user.UserId)
			name := user.Name
			if name == "" {
				name = user.Username
			}
			ctx = utils.SetUserNameInContext(ctx, name)
		}
		if user.PartyId > 0 {
			ctx = utils.SetPartyInContext(ctx, user.PartyType, user.PartyId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
