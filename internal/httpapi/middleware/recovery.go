package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/speak-arena/internal/common"
)

func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Printf("[Recovery] panic method=%s path=%s request_id=%s err=%v",
			c.Request.Method, c.Request.URL.Path, c.GetString(RequestIDKey), recovered)
		common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
		c.Abort()
	})
}
