package moderation

import "time"

// Policy is a sliding-window rate limit with a fixed mute penalty.
type Policy struct {
	Limit   int
	Window  time.Duration
	Penalty time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Limit: 5, Window: 5 * time.Second, Penalty: time.Minute}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Limit <= 0 {
		p.Limit = d.Limit
	}
	if p.Window <= 0 {
		p.Window = d.Window
	}
	if p.Penalty <= 0 {
		p.Penalty = d.Penalty
	}
	return p
}

// RateLimitState belongs to one chat session. RecentSends only ever holds timestamps
// inside the window as of the last Admit call.
type RateLimitState struct {
	RecentSends []int64
	MuteUntil   int64 // unix ms, 0 = not muted
}

// Admit runs one send attempt at now. On success the slot is charged immediately,
// before the message is dispatched.
func (s *RateLimitState) Admit(p Policy, now int64) error {
	if now < s.MuteUntil {
		return &RejectedError{
			Reason:           ReasonMuted,
			SecondsRemaining: secondsUntil(s.MuteUntil, now),
			MuteUntil:        s.MuteUntil,
		}
	}

	window := p.Window.Milliseconds()
	kept := s.RecentSends[:0]
	for _, t := range s.RecentSends {
		if now-t < window {
			kept = append(kept, t)
		}
	}
	s.RecentSends = kept

	if len(s.RecentSends) >= p.Limit {
		s.MuteUntil = now + p.Penalty.Milliseconds()
		return &RejectedError{
			Reason:           ReasonRateLimited,
			SecondsRemaining: secondsUntil(s.MuteUntil, now),
			MuteUntil:        s.MuteUntil,
		}
	}

	s.RecentSends = append(s.RecentSends, now)
	return nil
}

func (s *RateLimitState) Muted(now int64) bool {
	return now < s.MuteUntil
}

// SecondsRemaining is the mute countdown at now, 0 when not muted.
func (s *RateLimitState) SecondsRemaining(now int64) int {
	if !s.Muted(now) {
		return 0
	}
	return secondsUntil(s.MuteUntil, now)
}

// secondsUntil is ceil((until-now)/1000).
func secondsUntil(until, now int64) int {
	d := until - now
	if d <= 0 {
		return 0
	}
	return int((d + 999) / 1000)
}
