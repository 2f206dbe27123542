package room

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRoomNotFound   = errors.New("room: not found")
	ErrRoomFull       = errors.New("room: full")
	ErrNotParticipant = errors.New("room: not a participant")
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Create stores the room with its host seated as the only participant.
func (r *Repo) Create(ctx context.Context, rm *Room) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rm.Participants = 1
		if err := tx.Create(rm).Error; err != nil {
			return err
		}
		return tx.Create(&Participant{RoomID: rm.ID, PlayerID: rm.HostID, JoinedAt: time.Now()}).Error
	})
}

func (r *Repo) Get(ctx context.Context, id string) (*Room, error) {
	var rm Room
	if err := r.db.WithContext(ctx).First(&rm, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &rm, nil
}

// ListActive returns active rooms, newest first.
func (r *Repo) ListActive(ctx context.Context, limit int) ([]Room, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rooms []Room
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Limit(limit).
		Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// Participants lists who is seated, earliest first.
func (r *Repo) Participants(ctx context.Context, id string) ([]Participant, error) {
	var out []Participant
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", id).
		Order("joined_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// IsParticipant reports whether playerID holds a seat in the room.
func (r *Repo) IsParticipant(ctx context.Context, id, playerID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&Participant{}).
		Where("room_id = ? AND player_id = ?", id, playerID).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func lockRoom(tx *gorm.DB, id string) (*Room, error) {
	var rm Room
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rm, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &rm, nil
}

// Join seats playerID. Joining a room the player is already in changes nothing.
func (r *Repo) Join(ctx context.Context, id, playerID string) (*Room, error) {
	var out *Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rm, err := lockRoom(tx, id)
		if err != nil {
			return err
		}
		var seated int64
		if err := tx.Model(&Participant{}).
			Where("room_id = ? AND player_id = ?", id, playerID).
			Count(&seated).Error; err != nil {
			return err
		}
		if seated > 0 {
			out = rm
			return nil
		}
		var total int64
		if err := tx.Model(&Participant{}).Where("room_id = ?", id).Count(&total).Error; err != nil {
			return err
		}
		if int(total) >= rm.MaxParticipants {
			return ErrRoomFull
		}
		if err := tx.Create(&Participant{RoomID: id, PlayerID: playerID, JoinedAt: time.Now()}).Error; err != nil {
			return err
		}
		rm.Participants = int(total) + 1
		if err := tx.Model(&Room{}).Where("id = ?", id).Update("participants", rm.Participants).Error; err != nil {
			return err
		}
		out = rm
		return nil
	})
	return out, err
}

// Leave gives playerID's seat back. The last participant out deletes the room.
func (r *Repo) Leave(ctx context.Context, id, playerID string) (deleted bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRoom(tx, id); err != nil {
			return err
		}
		res := tx.Where("room_id = ? AND player_id = ?", id, playerID).Delete(&Participant{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotParticipant
		}
		var remaining int64
		if err := tx.Model(&Participant{}).Where("room_id = ?", id).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			deleted = true
			return tx.Delete(&Room{}, "id = ?", id).Error
		}
		return tx.Model(&Room{}).
			Where("id = ?", id).
			Update("participants", remaining).Error
	})
	return deleted, err
}
