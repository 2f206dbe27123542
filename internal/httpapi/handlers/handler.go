package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/speak-arena/internal/chatlog"
	"github.com/suPer8Hu/speak-arena/internal/clock"
	"github.com/suPer8Hu/speak-arena/internal/common"
	"github.com/suPer8Hu/speak-arena/internal/config"
	"github.com/suPer8Hu/speak-arena/internal/httpapi/middleware"
	"github.com/suPer8Hu/speak-arena/internal/moderation"
	"github.com/suPer8Hu/speak-arena/internal/profile"
	"github.com/suPer8Hu/speak-arena/internal/progression"
	"github.com/suPer8Hu/speak-arena/internal/room"
	"gorm.io/gorm"
)

// WarningTTL is how long clients keep a moderation warning on screen.
const WarningTTL = 4000

const defaultAvatar = "https://cdn-icons-png.flaticon.com/512/1077/1077114.png"

// RealtimeStore is the realtime backend: the chat log plus room hand-raise state.
type RealtimeStore interface {
	moderation.MessageLog
	SetHand(ctx context.Context, roomID string, h chatlog.Hand) error
	ClearHand(ctx context.Context, roomID, playerID string) error
	Hands(ctx context.Context, roomID string) ([]chatlog.Hand, error)
}

type Handler struct {
	Cfg      config.Config
	Clock    clock.Clock
	Realtime RealtimeStore
	Chat     *moderation.Hub
	Progress *progression.Registry
	Profiles *profile.Repo
	Rooms    *room.Repo
	Audit    *moderation.AuditRepo
}

func NewHandler(db *gorm.DB, cfg config.Config, rt RealtimeStore, events moderation.EventPublisher, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.System{}
	}
	profiles := profile.NewRepo(db)
	policy := moderation.Policy{
		Limit:   cfg.ChatMsgLimit,
		Window:  cfg.ChatWindow,
		Penalty: cfg.ChatPenalty,
	}
	return &Handler{
		Cfg:      cfg,
		Clock:    clk,
		Realtime: rt,
		Chat:     moderation.NewHub(rt, clk, policy, events),
		Progress: progression.NewRegistry(profiles, progression.WithLevelCap(cfg.LevelCap)),
		Profiles: profiles,
		Rooms:    room.NewRepo(db),
		Audit:    moderation.NewAuditRepo(db),
	}
}

// Sweep evicts chat sessions and progression engines idle for longer than idle.
func (h *Handler) Sweep(idle time.Duration) (sessions, engines int) {
	return h.Chat.Sweep(idle), h.Progress.Sweep(idle)
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func identityFromContext(c *gin.Context) (progression.Identity, bool) {
	pid := c.GetString(middleware.PlayerIDKey)
	if pid == "" {
		return progression.Identity{}, false
	}
	return progression.Identity{
		PlayerID: pid,
		Nickname: c.GetString(middleware.NicknameKey),
	}, true
}

// engine resolves the caller's progression engine, writing the failure response itself.
func (h *Handler) engine(c *gin.Context) (*progression.Engine, bool) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	e, err := h.Progress.Get(c.Request.Context(), ident)
	if err != nil {
		logf(c, "[engine] load profile failed player=%s err=%v", ident.PlayerID, err)
		common.Fail(c, http.StatusServiceUnavailable, 50301, "profile store unavailable")
		return nil, false
	}
	return e, true
}
