package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/speak-arena/internal/common"
	"github.com/suPer8Hu/speak-arena/internal/progression"
)

type levelView struct {
	Level          int               `json:"level"`
	RankTitle      string            `json:"rank_title"`
	DisplayLevel   string            `json:"display_level"`
	EvolutionIndex int               `json:"evolution_index"`
	SpriteTier     int               `json:"sprite_tier"`
	MaxXP          int               `json:"max_xp"`
	Stage          progression.Stage `json:"stage"`
}

func newLevelView(level, levelCap, tiers int) levelView {
	return levelView{
		Level:          level,
		RankTitle:      progression.RankTitle(level),
		DisplayLevel:   progression.DisplayLevel(level),
		EvolutionIndex: progression.EvolutionIndex(level),
		SpriteTier:     progression.SpriteTier(level, tiers),
		MaxXP:          progression.MaxXP(level),
		Stage:          progression.StageInfo(level, levelCap),
	}
}

type progressView struct {
	progression.Snapshot
	Derived levelView `json:"derived"`
	AtCap   bool      `json:"at_cap"`
}

func newProgressView(snap progression.Snapshot, levelCap int) progressView {
	return progressView{
		Snapshot: snap,
		Derived:  newLevelView(snap.Level, levelCap, progression.SpriteTiers),
		AtCap:    snap.Level >= levelCap,
	}
}

func (h *Handler) GetLevel(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil || level < 1 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid level")
		return
	}
	// characters with fewer sprites than SpriteTiers pass ?tiers=N
	tiers := progression.SpriteTiers
	if v := c.Query("tiers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			common.Fail(c, http.StatusBadRequest, 10004, "invalid tiers")
			return
		}
		tiers = n
	}
	common.OK(c, newLevelView(level, h.Cfg.LevelCap, tiers))
}

func (h *Handler) GetProgress(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	common.OK(c, newProgressView(e.Snapshot(), e.LevelCap()))
}

func (h *Handler) ReloadProgress(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	snap, err := h.Progress.Reload(c.Request.Context(), ident)
	if err != nil {
		logf(c, "[ReloadProgress] load failed player=%s err=%v", ident.PlayerID, err)
		common.Fail(c, http.StatusServiceUnavailable, 50301, "profile store unavailable")
		return
	}
	common.OK(c, newProgressView(snap, h.Cfg.LevelCap))
}

type updateProfileReq struct {
	Nickname  string `json:"nickname" binding:"max=64"`
	Tribe     string `json:"tribe" binding:"max=32"`
	Character string `json:"character" binding:"max=64"`
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req updateProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	e, ok := h.engine(c)
	if !ok {
		return
	}
	snap := e.SetIdentity(
		strings.TrimSpace(req.Nickname),
		strings.TrimSpace(req.Tribe),
		strings.TrimSpace(req.Character),
	)
	common.OK(c, newProgressView(snap, e.LevelCap()))
}

type addXPReq struct {
	Amount int `json:"amount" binding:"required,min=1,max=100000"`
}

func (h *Handler) AddXP(c *gin.Context) {
	var req addXPReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	e, ok := h.engine(c)
	if !ok {
		return
	}
	leveledUp := e.GainXP(req.Amount)
	common.OK(c, gin.H{
		"progress":   newProgressView(e.Snapshot(), e.LevelCap()),
		"leveled_up": leveledUp,
	})
}

type secondsReq struct {
	Seconds int64 `json:"seconds" binding:"required,min=1,max=3600"`
}

func (h *Handler) AddSpeakingTime(c *gin.Context) {
	var req secondsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	e, ok := h.engine(c)
	if !ok {
		return
	}
	evolved := e.UpdateSpeakingTime(req.Seconds)
	common.OK(c, gin.H{
		"progress": newProgressView(e.Snapshot(), e.LevelCap()),
		"evolved":  evolved,
	})
}

func (h *Handler) Tick(c *gin.Context) {
	var req secondsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	e, ok := h.engine(c)
	if !ok {
		return
	}
	res := e.Tick(req.Seconds)
	common.OK(c, gin.H{
		"progress":   newProgressView(e.Snapshot(), e.LevelCap()),
		"leveled_up": res.LeveledUp,
		"evolved":    res.Evolved,
	})
}

func (h *Handler) Leaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	top, err := h.Profiles.TopByLevel(c.Request.Context(), limit)
	if err != nil {
		logf(c, "[Leaderboard] query failed err=%v", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	out := make([]gin.H, 0, len(top))
	for _, p := range top {
		out = append(out, gin.H{
			"id":         p.ID,
			"nickname":   p.Nickname,
			"tribe":      p.Tribe,
			"level":      p.CurrentLevel,
			"rank_title": progression.RankTitle(p.CurrentLevel),
		})
	}
	common.OK(c, gin.H{"players": out})
}
