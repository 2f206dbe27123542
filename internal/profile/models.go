package profile

import "time"

// Profile is the remote mirror row of a player's progression.
type Profile struct {
	ID                   string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Nickname             string    `gorm:"type:varchar(64);not null" json:"nickname"`
	Tribe                string    `gorm:"type:varchar(32);not null" json:"tribe"`
	Character            string    `gorm:"type:varchar(64)" json:"character"`
	AvatarStage          int       `gorm:"not null;default:1" json:"avatar_stage"`
	TotalSpeakingSeconds int64     `gorm:"not null;default:0" json:"total_speaking_seconds"`
	Coins                int64     `gorm:"not null;default:0" json:"coins"`
	XP                   int       `gorm:"not null;default:0" json:"xp"`
	CurrentLevel         int       `gorm:"not null;default:1;index" json:"current_level"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
