package progression

import (
	"context"
	"errors"
	"time"
)

var ErrProfileNotFound = errors.New("progression: profile not found")

const (
	DefaultNickname = "Wanderer"
	DefaultTribe    = "BEAMJOY"
)

type Identity struct {
	PlayerID  string `json:"player_id"`
	Nickname  string `json:"nickname"`
	Tribe     string `json:"tribe"`
	Character string `json:"character,omitempty"`
}

type Progress struct {
	XP                   int   `json:"xp"`
	Level                int   `json:"level"`
	TotalSpeakingSeconds int64 `json:"total_speaking_seconds"`
	EvolutionStage       int   `json:"evolution_stage"`
	Coins                int64 `json:"coins"`
}

func DefaultProgress() Progress {
	return Progress{Level: 1, EvolutionStage: 1}
}

// Record is the remote mirror of one player.
type Record struct {
	Identity
	Progress
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileStore is the remote mirror. Upsert must be idempotent and keyed by PlayerID;
// Get returns ErrProfileNotFound for unknown players.
type ProfileStore interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, playerID string) (Record, error)
}
