package profile

import (
	"context"
	"errors"

	"github.com/suPer8Hu/speak-arena/internal/progression"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo stores progression records in the profiles table.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Upsert inserts the row or overwrites every column of an existing one.
func (r *Repo) Upsert(ctx context.Context, rec progression.Record) error {
	p := fromRecord(rec)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&p).Error
}

func (r *Repo) Get(ctx context.Context, playerID string) (progression.Record, error) {
	var p Profile
	if err := r.db.WithContext(ctx).First(&p, "id = ?", playerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return progression.Record{}, progression.ErrProfileNotFound
		}
		return progression.Record{}, err
	}
	return toRecord(p), nil
}

// TopByLevel lists the highest level players first.
func (r *Repo) TopByLevel(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Profile
	if err := r.db.WithContext(ctx).
		Order("current_level DESC").
		Order("xp DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func fromRecord(rec progression.Record) Profile {
	return Profile{
		ID:                   rec.PlayerID,
		Nickname:             rec.Nickname,
		Tribe:                rec.Tribe,
		Character:            rec.Character,
		AvatarStage:          rec.EvolutionStage,
		TotalSpeakingSeconds: rec.TotalSpeakingSeconds,
		Coins:                rec.Coins,
		XP:                   rec.XP,
		CurrentLevel:         rec.Level,
		UpdatedAt:            rec.UpdatedAt,
	}
}

func toRecord(p Profile) progression.Record {
	return progression.Record{
		Identity: progression.Identity{
			PlayerID:  p.ID,
			Nickname:  p.Nickname,
			Tribe:     p.Tribe,
			Character: p.Character,
		},
		Progress: progression.Progress{
			XP:                   p.XP,
			Level:                p.CurrentLevel,
			TotalSpeakingSeconds: p.TotalSpeakingSeconds,
			EvolutionStage:       p.AvatarStage,
			Coins:                p.Coins,
		},
		UpdatedAt: p.UpdatedAt,
	}
}
