package moderation

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage   = errors.New("moderation: message is empty")
	ErrSendInFlight   = errors.New("moderation: a send is already in flight")
	ErrMessageTooLong = errors.New("moderation: message is too long")

	// ErrMuted matches every rate-limit rejection, ErrRateLimited only the one that
	// started the mute.
	ErrMuted       = errors.New("moderation: muted")
	ErrRateLimited = errors.New("moderation: rate limited")
)

type Reason string

const (
	ReasonMuted       Reason = "muted"
	ReasonRateLimited Reason = "rate_limited"
)

// RejectedError blocks a send and carries the countdown shown to the player.
type RejectedError struct {
	Reason           Reason
	SecondsRemaining int
	MuteUntil        int64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("moderation: %s, %ds remaining", e.Reason, e.SecondsRemaining)
}

func (e *RejectedError) Is(target error) bool {
	switch target {
	case ErrMuted:
		return true
	case ErrRateLimited:
		return e.Reason == ReasonRateLimited
	}
	return false
}

// TransportError wraps a failure of the message log. It is never retried here.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "moderation: transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }
