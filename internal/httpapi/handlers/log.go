package handlers

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/speak-arena/internal/httpapi/middleware"
)

func logf(c *gin.Context, format string, args ...any) {
	log.Printf(format+" request_id=%s", append(args, c.GetString(middleware.RequestIDKey))...)
}
