package room

import (
	"strings"
	"time"
)

const DefaultMaxParticipants = 5

type Room struct {
	ID              string    `gorm:"primaryKey;size:26" json:"id"` // ULID length
	HostID          string    `gorm:"type:varchar(64);index;not null" json:"host_id"`
	Name            string    `gorm:"type:varchar(64);not null" json:"name"`
	Topic           string    `gorm:"type:varchar(255)" json:"topic"`
	BackgroundImage string    `gorm:"type:varchar(255)" json:"background_image"`
	Level           int       `gorm:"not null;default:1" json:"current_level"`
	MaxParticipants int       `gorm:"not null" json:"max_participants"`
	Participants    int       `gorm:"not null;default:0" json:"participants"`
	IsActive        bool      `gorm:"index;not null" json:"is_active"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

func (Room) TableName() string { return "rooms" }

// LevelFromLabel maps the difficulty label picked by the host to 1..3.
func LevelFromLabel(label string) int {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "advanced":
		return 3
	case "intermediate":
		return 2
	}
	return 1
}

// Participant is one player's seat in a room.
type Participant struct {
	RoomID   string    `gorm:"primaryKey;size:26" json:"room_id"`
	PlayerID string    `gorm:"primaryKey;type:varchar(64)" json:"player_id"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

func (Participant) TableName() string { return "room_participants" }
