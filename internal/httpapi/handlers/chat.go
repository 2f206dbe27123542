package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/speak-arena/internal/chatlog"
	"github.com/suPer8Hu/speak-arena/internal/common"
	"github.com/suPer8Hu/speak-arena/internal/moderation"
	"github.com/suPer8Hu/speak-arena/internal/room"
)

const maxHistoryLimit = 200

type sendMessageReq struct {
	Message string `json:"message"`
}

func (h *Handler) SendGlobalMessage(c *gin.Context) {
	h.sendTo(c, chatlog.GlobalChannel)
}

func (h *Handler) ListGlobalMessages(c *gin.Context) {
	h.listFrom(c, chatlog.GlobalChannel)
}

func (h *Handler) StreamGlobalMessages(c *gin.Context) {
	h.streamFrom(c, chatlog.GlobalChannel)
}

func (h *Handler) GlobalChatStatus(c *gin.Context) {
	h.statusOf(c, chatlog.GlobalChannel)
}

func (h *Handler) SendRoomMessage(c *gin.Context) {
	if rm, ok := h.memberRoom(c); ok {
		h.sendTo(c, chatlog.RoomChannel(rm.ID))
	}
}

func (h *Handler) ListRoomMessages(c *gin.Context) {
	if rm, ok := h.activeRoom(c); ok {
		h.listFrom(c, chatlog.RoomChannel(rm.ID))
	}
}

func (h *Handler) StreamRoomMessages(c *gin.Context) {
	if rm, ok := h.activeRoom(c); ok {
		h.streamFrom(c, chatlog.RoomChannel(rm.ID))
	}
}

func (h *Handler) RoomChatStatus(c *gin.Context) {
	if rm, ok := h.activeRoom(c); ok {
		h.statusOf(c, chatlog.RoomChannel(rm.ID))
	}
}

// activeRoom loads the :room_id room, writing the failure response itself.
func (h *Handler) activeRoom(c *gin.Context) (*room.Room, bool) {
	rm, err := h.Rooms.Get(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "room not found")
			return nil, false
		}
		logf(c, "[activeRoom] query failed room=%s err=%v", c.Param("room_id"), err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return nil, false
	}
	return rm, true
}

func (h *Handler) sendTo(c *gin.Context, channel string) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	e, ok := h.engine(c)
	if !ok {
		return
	}
	snap := e.Snapshot()

	s := h.Chat.Session(snap.PlayerID, channel)
	s.SetSender(snap.Nickname, defaultAvatar)
	msg, err := s.AttemptSend(c.Request.Context(), req.Message)
	if err != nil {
		h.failSend(c, channel, snap.PlayerID, err)
		return
	}
	common.OK(c, msg)
}

func (h *Handler) failSend(c *gin.Context, channel, playerID string, err error) {
	var rej *moderation.RejectedError
	var tr *moderation.TransportError
	switch {
	case errors.Is(err, moderation.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
	case errors.Is(err, moderation.ErrMessageTooLong):
		common.Fail(c, http.StatusBadRequest, 10003, "message too long")
	case errors.Is(err, moderation.ErrSendInFlight):
		common.Fail(c, http.StatusConflict, 40901, "a message is already being sent")
	case errors.As(err, &rej):
		code, msg := 42901, "You are muted"
		if rej.Reason == moderation.ReasonRateLimited {
			code, msg = 42902, "Slow down! You are sending messages too fast"
		}
		c.Header("Retry-After", strconv.Itoa(rej.SecondsRemaining))
		common.FailWith(c, http.StatusTooManyRequests, code, msg, gin.H{
			"reason":            rej.Reason,
			"seconds_remaining": rej.SecondsRemaining,
			"mute_until":        rej.MuteUntil,
			"warning_ttl_ms":    WarningTTL,
		})
	case errors.As(err, &tr):
		logf(c, "[sendTo] append failed player=%s channel=%s err=%v", playerID, channel, tr.Err)
		common.Fail(c, http.StatusBadGateway, 50201, "message not delivered")
	default:
		logf(c, "[sendTo] unexpected error player=%s channel=%s err=%v", playerID, channel, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) historyLimit(c *gin.Context) int {
	limit := h.Cfg.ChatHistoryLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit
}

func (h *Handler) listFrom(c *gin.Context, channel string) {
	sub, err := h.Realtime.SubscribeLast(c.Request.Context(), channel, h.historyLimit(c))
	if err != nil {
		logf(c, "[listFrom] subscribe failed channel=%s err=%v", channel, err)
		common.Fail(c, http.StatusBadGateway, 50202, "chat log unavailable")
		return
	}
	defer sub.Close()

	var msgs []chatlog.Message
	select {
	case msgs = <-sub.C:
	case <-c.Request.Context().Done():
		return
	}
	if msgs == nil {
		msgs = []chatlog.Message{}
	}
	common.OK(c, gin.H{"channel": channel, "messages": msgs})
}

func (h *Handler) statusOf(c *gin.Context, channel string) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	common.OK(c, h.Chat.Session(ident.PlayerID, channel).Status())
}

// streamFrom pushes the channel's last-N window as SSE "messages" events, one per change.
func (h *Handler) streamFrom(c *gin.Context, channel string) {
	ctx := c.Request.Context()
	sub, err := h.Realtime.SubscribeLast(ctx, channel, h.historyLimit(c))
	if err != nil {
		logf(c, "[streamFrom] subscribe failed channel=%s err=%v", channel, err)
		common.Fail(c, http.StatusBadGateway, 50202, "chat log unavailable")
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\n", event)
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msgs, ok := <-sub.C:
			if !ok {
				return
			}
			if msgs == nil {
				msgs = []chatlog.Message{}
			}
			writeJSON("messages", gin.H{
				"channel":  channel,
				"messages": msgs,
			})

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}
}

// ModerationHistory lists the caller's recorded mutes, newest first.
func (h *Handler) ModerationHistory(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.Audit.ListByPlayer(c.Request.Context(), ident.PlayerID, limit)
	if err != nil {
		logf(c, "[ModerationHistory] query failed player=%s err=%v", ident.PlayerID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		out = append(out, gin.H{
			"id":         ev.ID,
			"kind":       ev.Kind,
			"channel":    ev.Channel,
			"mute_until": ev.MuteUntil.UnixMilli(),
			"at":         ev.At.UnixMilli(),
		})
	}
	common.OK(c, gin.H{"events": out})
}
