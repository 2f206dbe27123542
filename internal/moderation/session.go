// Package moderation gates chat sends through a sliding-window rate limit and a timed
// mute. One Session exists per player per channel; the Hub hands them out.
package moderation

import (
	"context"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/suPer8Hu/speak-arena/internal/chatlog"
	"github.com/suPer8Hu/speak-arena/internal/clock"
)

// MaxMessageRunes bounds a single chat line.
const MaxMessageRunes = 500

type MessageLog interface {
	Append(ctx context.Context, channel string, e chatlog.Entry) (chatlog.Message, error)
	SubscribeLast(ctx context.Context, channel string, limit int) (*chatlog.Subscription, error)
}

// EventPublisher receives mute events. It may be nil.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

type Status struct {
	Channel          string `json:"channel"`
	Muted            bool   `json:"muted"`
	SecondsRemaining int    `json:"seconds_remaining"`
	MuteUntil        int64  `json:"mute_until"`
	RecentSends      int    `json:"recent_sends"`
	Sending          bool   `json:"sending"`
}

type Session struct {
	playerID string
	channel  string
	log      MessageLog
	clock    clock.Clock
	policy   Policy
	events   EventPublisher

	mu      sync.Mutex
	sender  string
	avatar  string
	state   RateLimitState
	sending bool
}

func NewSession(playerID, channel string, ml MessageLog, clk clock.Clock, policy Policy, events EventPublisher) *Session {
	if clk == nil {
		clk = clock.System{}
	}
	return &Session{
		playerID: playerID,
		channel:  channel,
		log:      ml,
		clock:    clk,
		policy:   policy.normalized(),
		events:   events,
	}
}

// SetSender updates the display name and avatar stamped on future messages.
func (s *Session) SetSender(name, avatar string) {
	s.mu.Lock()
	s.sender = name
	s.avatar = avatar
	s.mu.Unlock()
}

// AttemptSend sends text at the current clock time.
func (s *Session) AttemptSend(ctx context.Context, text string) (chatlog.Message, error) {
	return s.AttemptSendAt(ctx, text, s.clock.NowMillis())
}

// AttemptSendAt checks the mute and the window at now and, when admitted, appends the
// message to the log. Only one send per session may be in flight; a concurrent attempt
// fails with ErrSendInFlight instead of queueing.
func (s *Session) AttemptSendAt(ctx context.Context, text string, now int64) (chatlog.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chatlog.Message{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return chatlog.Message{}, ErrMessageTooLong
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return chatlog.Message{}, ErrSendInFlight
	}
	if err := s.state.Admit(s.policy, now); err != nil {
		sender := s.sender
		s.mu.Unlock()
		if rej, ok := err.(*RejectedError); ok && rej.Reason == ReasonRateLimited {
			s.publishMute(ctx, sender, rej.MuteUntil, now)
		}
		return chatlog.Message{}, err
	}
	s.sending = true
	entry := chatlog.Entry{
		Sender:       s.sender,
		Message:      text,
		SenderAvatar: s.avatar,
		Timestamp:    now,
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	msg, err := s.log.Append(ctx, s.channel, entry)
	if err != nil {
		return chatlog.Message{}, &TransportError{Err: err}
	}
	return msg, nil
}

// Status reads the mute countdown without changing any state.
func (s *Session) Status() Status {
	return s.StatusAt(s.clock.NowMillis())
}

func (s *Session) StatusAt(now int64) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := 0
	window := s.policy.Window.Milliseconds()
	for _, t := range s.state.RecentSends {
		if now-t < window {
			recent++
		}
	}
	st := Status{
		Channel:          s.channel,
		Muted:            s.state.Muted(now),
		SecondsRemaining: s.state.SecondsRemaining(now),
		RecentSends:      recent,
		Sending:          s.sending,
	}
	if st.Muted {
		st.MuteUntil = s.state.MuteUntil
	}
	return st
}

// Subscribe opens a live view of this session's channel.
func (s *Session) Subscribe(ctx context.Context, limit int) (*chatlog.Subscription, error) {
	return s.log.SubscribeLast(ctx, s.channel, limit)
}

// heldAt reports whether the session must outlive teardown at now.
func (s *Session) heldAt(now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending || s.state.Muted(now)
}

// Reset drops all rate-limit state, as on session teardown.
func (s *Session) Reset() {
	s.mu.Lock()
	s.state = RateLimitState{}
	s.mu.Unlock()
}

func (s *Session) publishMute(ctx context.Context, sender string, muteUntil, now int64) {
	log.Printf("[moderation] muted player=%s channel=%s until=%d", s.playerID, s.channel, muteUntil)
	if s.events == nil {
		return
	}
	ev, err := NewMuteEvent(s.playerID, sender, s.channel, muteUntil, now)
	if err != nil {
		log.Printf("[moderation] build event failed player=%s err=%v", s.playerID, err)
		return
	}
	if err := s.events.PublishEvent(ctx, ev); err != nil {
		log.Printf("[moderation] publish event failed player=%s event=%s err=%v", s.playerID, ev.ID, err)
	}
}
