// Package chatlog is the realtime message log: an append-only, per-channel record of chat
// messages with live "last N" subscriptions. RedisLog is the production backend and
// MemoryLog serves single-process runs and tests.
package chatlog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	GlobalChannel = "global_chat/messages"

	// DefaultWindow is how many messages a live view keeps.
	DefaultWindow = 50
)

var ErrInvalidChannel = errors.New("chatlog: channel key is required")

// Message is an appended record. It never changes after Append returns it.
type Message struct {
	ID           string `json:"id"`
	Sender       string `json:"sender"`
	Message      string `json:"message"`
	SenderAvatar string `json:"sender_avatar,omitempty"`
	Timestamp    int64  `json:"timestamp"` // unix ms
}

// Entry is what a client hands to Append; the log assigns the id.
type Entry struct {
	Sender       string
	Message      string
	SenderAvatar string
	Timestamp    int64
}

// Hand is a raised hand in a practice room.
type Hand struct {
	PlayerID  string `json:"player_id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

func RoomChannel(roomID string) string {
	return fmt.Sprintf("rooms/%s/messages", roomID)
}

func ReactionChannel(roomID string) string {
	return fmt.Sprintf("rooms/%s/reactions", roomID)
}

func handsKey(roomID string) string {
	return fmt.Sprintf("rooms/%s/hands", roomID)
}

// Window sorts msgs by timestamp ascending and keeps the newest limit entries.
// The input slice is not modified.
func Window(msgs []Message, limit int) []Message {
	out := append([]Message(nil), msgs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func sortHands(hands []Hand) {
	sort.Slice(hands, func(i, j int) bool {
		if hands[i].Timestamp == hands[j].Timestamp {
			return hands[i].PlayerID < hands[j].PlayerID
		}
		return hands[i].Timestamp < hands[j].Timestamp
	})
}

// Subscription is a live view of a channel. C receives the full current window after
// every change to the channel; a slow reader only ever sees the latest window.
type Subscription struct {
	C <-chan []Message

	once sync.Once
	stop func()
}

func (s *Subscription) Close() {
	s.once.Do(s.stop)
}

// offer replaces any undelivered window in ch with w. ch must have capacity 1 and a
// single sender.
func offer(ch chan []Message, w []Message) {
	select {
	case ch <- w:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- w:
	default:
	}
}
