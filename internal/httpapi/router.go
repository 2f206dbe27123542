package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/speak-arena/internal/clock"
	"github.com/suPer8Hu/speak-arena/internal/common"
	"github.com/suPer8Hu/speak-arena/internal/config"
	"github.com/suPer8Hu/speak-arena/internal/httpapi/handlers"
	"github.com/suPer8Hu/speak-arena/internal/httpapi/middleware"
	"github.com/suPer8Hu/speak-arena/internal/moderation"
	"gorm.io/gorm"
)

// NewRouter wires the HTTP surface. events may be nil when no broker is configured.
func NewRouter(db *gorm.DB, cfg config.Config, rt handlers.RealtimeStore, events moderation.EventPublisher, clk clock.Clock) (*gin.Engine, *handlers.Handler) {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rt, events, clk)

	r.GET("/ping", h.Ping)
	r.GET("/levels/:level", h.GetLevel)
	r.GET("/leaderboard", h.Leaderboard)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	// progression
	authGroup.GET("/me/progress", h.GetProgress)
	authGroup.POST("/me/progress/reload", h.ReloadProgress)
	authGroup.PUT("/me/profile", h.UpdateProfile)
	authGroup.POST("/me/progress/xp", h.AddXP)
	authGroup.POST("/me/progress/speaking", h.AddSpeakingTime)
	authGroup.POST("/me/progress/tick", h.Tick)
	authGroup.GET("/me/moderation", h.ModerationHistory)

	// global chat
	authGroup.POST("/chat/messages", h.SendGlobalMessage)
	authGroup.GET("/chat/messages", h.ListGlobalMessages)
	authGroup.GET("/chat/messages/stream", h.StreamGlobalMessages)
	authGroup.GET("/chat/status", h.GlobalChatStatus)

	// rooms
	authGroup.POST("/rooms", h.CreateRoom)
	authGroup.GET("/rooms", h.ListRooms)
	authGroup.POST("/rooms/:room_id/join", h.JoinRoom)
	authGroup.POST("/rooms/:room_id/leave", h.LeaveRoom)
	authGroup.GET("/rooms/:room_id/participants", h.ListParticipants)
	authGroup.POST("/rooms/:room_id/messages", h.SendRoomMessage)
	authGroup.GET("/rooms/:room_id/messages", h.ListRoomMessages)
	authGroup.GET("/rooms/:room_id/messages/stream", h.StreamRoomMessages)
	authGroup.GET("/rooms/:room_id/chat/status", h.RoomChatStatus)
	authGroup.POST("/rooms/:room_id/reactions", h.SendReaction)
	authGroup.PUT("/rooms/:room_id/hands", h.RaiseHand)
	authGroup.DELETE("/rooms/:room_id/hands", h.LowerHand)
	authGroup.GET("/rooms/:room_id/hands", h.ListHands)
	return r, h
}
