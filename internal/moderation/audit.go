package moderation

import (
	"context"
	"time"

	"github.com/suPer8Hu/speak-arena/internal/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventKind string

const EventMuted EventKind = "muted"

// Event is published whenever a player trips the rate limit.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	PlayerID  string    `json:"player_id"`
	Sender    string    `json:"sender"`
	Channel   string    `json:"channel"`
	MuteUntil int64     `json:"mute_until"`
	At        int64     `json:"at"`
}

func NewMuteEvent(playerID, sender, channel string, muteUntil, now int64) (Event, error) {
	id, err := common.NewULID()
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        id,
		Kind:      EventMuted,
		PlayerID:  playerID,
		Sender:    sender,
		Channel:   channel,
		MuteUntil: muteUntil,
		At:        now,
	}, nil
}

// AuditEvent is the persisted form of Event, written by the worker.
type AuditEvent struct {
	ID        string    `gorm:"primaryKey;size:26"` // ULID length
	Kind      string    `gorm:"type:varchar(16);index;not null"`
	PlayerID  string    `gorm:"type:varchar(64);index;not null"`
	Sender    string    `gorm:"type:varchar(64)"`
	Channel   string    `gorm:"type:varchar(128);index;not null"`
	MuteUntil time.Time `gorm:"not null"`
	At        time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

func (AuditEvent) TableName() string { return "moderation_events" }

type AuditRepo struct {
	db *gorm.DB
}

func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Record stores ev once; redelivered events are ignored.
func (r *AuditRepo) Record(ctx context.Context, ev Event) error {
	row := AuditEvent{
		ID:        ev.ID,
		Kind:      string(ev.Kind),
		PlayerID:  ev.PlayerID,
		Sender:    ev.Sender,
		Channel:   ev.Channel,
		MuteUntil: time.UnixMilli(ev.MuteUntil),
		At:        time.UnixMilli(ev.At),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// ListByPlayer returns the newest events first.
func (r *AuditRepo) ListByPlayer(ctx context.Context, playerID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []AuditEvent
	if err := r.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
