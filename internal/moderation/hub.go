package moderation

import (
	"sync"
	"time"

	"github.com/suPer8Hu/speak-arena/internal/clock"
)

// Hub owns the live sessions, keyed by player and channel. Sessions are never shared
// between players.
type Hub struct {
	clock  clock.Clock
	log    MessageLog
	policy Policy
	events EventPublisher

	mu       sync.Mutex
	sessions map[string]*hubEntry
}

type hubEntry struct {
	s        *Session
	lastUsed int64
}

func NewHub(ml MessageLog, clk clock.Clock, policy Policy, events EventPublisher) *Hub {
	if clk == nil {
		clk = clock.System{}
	}
	return &Hub{
		log:      ml,
		clock:    clk,
		policy:   policy,
		events:   events,
		sessions: make(map[string]*hubEntry),
	}
}

func sessionKey(playerID, channel string) string {
	return playerID + "|" + channel
}

// Session returns the player's session for channel, creating it on first use.
func (h *Hub) Session(playerID, channel string) *Session {
	key := sessionKey(playerID, channel)
	now := h.clock.NowMillis()
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[key]
	if !ok {
		e = &hubEntry{s: NewSession(playerID, channel, h.log, h.clock, h.policy, h.events)}
		h.sessions[key] = e
	}
	e.lastUsed = now
	return e.s
}

// Close tears a session down; the next Session call starts from a clean state. A
// session whose mute is still running survives teardown until the mute expires.
func (h *Hub) Close(playerID, channel string) {
	key := sessionKey(playerID, channel)
	now := h.clock.NowMillis()
	h.mu.Lock()
	e, ok := h.sessions[key]
	if !ok || e.s.heldAt(now) {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, key)
	h.mu.Unlock()
	e.s.Reset()
}

// Sweep drops sessions unused for idle that are neither muted nor sending, and returns
// how many were dropped.
func (h *Hub) Sweep(idle time.Duration) int {
	now := h.clock.NowMillis()
	cutoff := now - idle.Milliseconds()
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for key, e := range h.sessions {
		if e.lastUsed > cutoff || e.s.heldAt(now) {
			continue
		}
		delete(h.sessions, key)
		n++
	}
	return n
}

// Len is the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
