package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/speak-arena/internal/auth"
	"github.com/suPer8Hu/speak-arena/internal/common"
)

const (
	PlayerIDKey = "player_id"
	NicknameKey = "nickname"
)

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(tok) == "" {
			// EventSource cannot set headers, so streams may pass the token as a query param
			tok = c.Query("access_token")
		}
		if tok == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}

		claims, err := auth.ParseJWT(strings.TrimSpace(tok), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}
		c.Set(PlayerIDKey, claims.Subject)
		c.Set(NicknameKey, claims.Nickname)
		c.Next()
	}
}
