package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/speak-arena/internal/chatlog"
	"github.com/suPer8Hu/speak-arena/internal/common"
	"github.com/suPer8Hu/speak-arena/internal/room"
)

const maxRoomParticipants = 10

var allowedReactions = map[string]bool{
	"👏": true, "🔥": true, "😂": true, "❤️": true, "👍": true, "🎉": true,
}

type createRoomReq struct {
	Name            string `json:"name" binding:"required,max=64"`
	Topic           string `json:"topic" binding:"max=255"`
	Level           string `json:"level"`
	BackgroundImage string `json:"background_image" binding:"max=255"`
	MaxParticipants int    `json:"max_participants"`
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	maxP := req.MaxParticipants
	if maxP <= 0 {
		maxP = room.DefaultMaxParticipants
	}
	if maxP > maxRoomParticipants {
		common.Fail(c, http.StatusBadRequest, 10005, "too many participants")
		return
	}

	id, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	rm := &room.Room{
		ID:              id,
		HostID:          ident.PlayerID,
		Name:            strings.TrimSpace(req.Name),
		Topic:           strings.TrimSpace(req.Topic),
		BackgroundImage: req.BackgroundImage,
		Level:           room.LevelFromLabel(req.Level),
		MaxParticipants: maxP,
		IsActive:        true,
	}
	if err := h.Rooms.Create(c.Request.Context(), rm); err != nil {
		logf(c, "[CreateRoom] create failed host=%s err=%v", ident.PlayerID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	logf(c, "[CreateRoom] room=%s host=%s level=%d", rm.ID, rm.HostID, rm.Level)
	common.OK(c, rm)
}

func (h *Handler) ListRooms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rooms, err := h.Rooms.ListActive(c.Request.Context(), limit)
	if err != nil {
		logf(c, "[ListRooms] query failed err=%v", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if rooms == nil {
		rooms = []room.Room{}
	}
	common.OK(c, gin.H{"rooms": rooms})
}

func (h *Handler) JoinRoom(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	rm, err := h.Rooms.Join(c.Request.Context(), c.Param("room_id"), ident.PlayerID)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "room not found")
	case errors.Is(err, room.ErrRoomFull):
		common.Fail(c, http.StatusConflict, 40902, "room is full")
	case err != nil:
		logf(c, "[JoinRoom] join failed room=%s err=%v", c.Param("room_id"), err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	default:
		common.OK(c, rm)
	}
}

// LeaveRoom gives the seat back and tears down the caller's chat sessions and raised
// hand. A running mute outlives the teardown.
func (h *Handler) LeaveRoom(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	roomID := c.Param("room_id")
	deleted, err := h.Rooms.Leave(c.Request.Context(), roomID, ident.PlayerID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "room not found")
			return
		}
		if errors.Is(err, room.ErrNotParticipant) {
			common.Fail(c, http.StatusForbidden, 40301, "not in this room")
			return
		}
		logf(c, "[LeaveRoom] leave failed room=%s err=%v", roomID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	h.Chat.Close(ident.PlayerID, chatlog.RoomChannel(roomID))
	h.Chat.Close(ident.PlayerID, chatlog.ReactionChannel(roomID))
	if err := h.Realtime.ClearHand(c.Request.Context(), roomID, ident.PlayerID); err != nil {
		logf(c, "[LeaveRoom] clear hand failed room=%s player=%s err=%v", roomID, ident.PlayerID, err)
	}
	common.OK(c, gin.H{"room_id": roomID, "deleted": deleted})
}

type reactionReq struct {
	Emoji string `json:"emoji" binding:"required"`
}

// SendReaction goes through the same moderation gate as chat, on its own channel.
func (h *Handler) SendReaction(c *gin.Context) {
	var req reactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !allowedReactions[req.Emoji] {
		common.Fail(c, http.StatusBadRequest, 10006, "unsupported reaction")
		return
	}
	rm, ok := h.memberRoom(c)
	if !ok {
		return
	}
	e, ok := h.engine(c)
	if !ok {
		return
	}
	snap := e.Snapshot()
	channel := chatlog.ReactionChannel(rm.ID)

	s := h.Chat.Session(snap.PlayerID, channel)
	s.SetSender(snap.Nickname, "")
	msg, err := s.AttemptSend(c.Request.Context(), req.Emoji)
	if err != nil {
		h.failSend(c, channel, snap.PlayerID, err)
		return
	}
	common.OK(c, msg)
}

func (h *Handler) RaiseHand(c *gin.Context) {
	rm, ok := h.memberRoom(c)
	if !ok {
		return
	}
	e, ok := h.engine(c)
	if !ok {
		return
	}
	snap := e.Snapshot()
	hand := chatlog.Hand{
		PlayerID:  snap.PlayerID,
		Name:      snap.Nickname,
		Timestamp: h.Clock.NowMillis(),
	}
	if err := h.Realtime.SetHand(c.Request.Context(), rm.ID, hand); err != nil {
		logf(c, "[RaiseHand] set failed room=%s player=%s err=%v", rm.ID, snap.PlayerID, err)
		common.Fail(c, http.StatusBadGateway, 50202, "realtime store unavailable")
		return
	}
	common.OK(c, hand)
}

func (h *Handler) LowerHand(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	roomID := c.Param("room_id")
	if err := h.Realtime.ClearHand(c.Request.Context(), roomID, ident.PlayerID); err != nil {
		logf(c, "[LowerHand] clear failed room=%s player=%s err=%v", roomID, ident.PlayerID, err)
		common.Fail(c, http.StatusBadGateway, 50202, "realtime store unavailable")
		return
	}
	common.OK(c, gin.H{"room_id": roomID})
}

func (h *Handler) ListHands(c *gin.Context) {
	rm, ok := h.activeRoom(c)
	if !ok {
		return
	}
	hands, err := h.Realtime.Hands(c.Request.Context(), rm.ID)
	if err != nil {
		logf(c, "[ListHands] read failed room=%s err=%v", rm.ID, err)
		common.Fail(c, http.StatusBadGateway, 50202, "realtime store unavailable")
		return
	}
	if hands == nil {
		hands = []chatlog.Hand{}
	}
	common.OK(c, gin.H{"hands": hands})
}

// memberRoom is activeRoom restricted to players seated in the room.
func (h *Handler) memberRoom(c *gin.Context) (*room.Room, bool) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	rm, ok := h.activeRoom(c)
	if !ok {
		return nil, false
	}
	seated, err := h.Rooms.IsParticipant(c.Request.Context(), rm.ID, ident.PlayerID)
	if err != nil {
		logf(c, "[memberRoom] query failed room=%s player=%s err=%v", rm.ID, ident.PlayerID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return nil, false
	}
	if !seated {
		common.Fail(c, http.StatusForbidden, 40301, "not in this room")
		return nil, false
	}
	return rm, true
}

func (h *Handler) ListParticipants(c *gin.Context) {
	rm, ok := h.activeRoom(c)
	if !ok {
		return
	}
	seats, err := h.Rooms.Participants(c.Request.Context(), rm.ID)
	if err != nil {
		logf(c, "[ListParticipants] query failed room=%s err=%v", rm.ID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if seats == nil {
		seats = []room.Participant{}
	}
	common.OK(c, gin.H{"room_id": rm.ID, "participants": seats})
}
