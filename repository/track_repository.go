package repository

import (
	"context"
	"time"

	"VoteFM/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) error
	GetByID(ctx context.Context, id int64) (*model.Track, error)
	// ListQueue returns the room's tracks ordered by (vote_score desc, created_at asc, id asc).
	ListQueue(ctx context.Context, roomID string) ([]*model.Track, error)
	// Delete removes a track and its votes. If it was the room's current track,
	// playback is stopped in the same transaction and stopped is true.
	Delete(ctx context.Context, id int64) (stopped bool, err error)
	// VotedTrackIDs returns the ids of tracks in roomID the user has voted for.
	VotedTrackIDs(ctx context.Context, roomID string, userID int64) (map[int64]bool, error)
}

// gormTrackRepository implements TrackRepository with GORM.
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a track repository backed by db.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// Create adds a new track; VoteScore always starts at zero.
func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	track.VoteScore = 0
	return r.db.WithContext(ctx).Create(track).Error
}

// GetByID retrieves a track by its ID.
func (r *gormTrackRepository) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&track).Error; err != nil {
		return nil, notFound(err, ErrTrackNotFound)
	}
	return &track, nil
}

// ListQueue retrieves the ordered queue of a room.
func (r *gormTrackRepository) ListQueue(ctx context.Context, roomID string) ([]*model.Track, error) {
	var tracks []*model.Track
	err := queueQuery(r.db.WithContext(ctx), roomID).Find(&tracks).Error
	return tracks, err
}

// Delete removes a track, cascading its votes.
// Lock order is room then track, the same as MutatePlayback and the vote ledger.
func (r *gormTrackRepository) Delete(ctx context.Context, id int64) (bool, error) {
	stopped := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track model.Track
		if err := tx.Where("id = ?", id).First(&track).Error; err != nil {
			return notFound(err, ErrTrackNotFound)
		}

		var room model.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", track.RoomID).First(&room).Error; err != nil {
			return notFound(err, ErrRoomNotFound)
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&track).Error; err != nil {
			return notFound(err, ErrTrackNotFound)
		}

		if err := tx.Where("track_id = ?", id).Delete(&model.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Track{}, id).Error; err != nil {
			return err
		}

		if room.CurrentTrackID != nil && *room.CurrentTrackID == id {
			stopped = true
			return tx.Model(&model.Room{}).Where("id = ?", room.ID).Updates(map[string]interface{}{
				"current_track_id":    nil,
				"is_playing":          false,
				"playback_started_at": nil,
				"playback_paused_at":  nil,
				"updated_at":          time.Now(),
			}).Error
		}
		return nil
	})
	return stopped, err
}

// VotedTrackIDs collects the user's live votes within a room.
func (r *gormTrackRepository) VotedTrackIDs(ctx context.Context, roomID string, userID int64) (map[int64]bool, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Table("votes AS v").
		Select("v.track_id").
		Joins("JOIN tracks t ON t.id = v.track_id").
		Where("t.room_id = ? AND v.user_id = ?", roomID, userID).
		Pluck("v.track_id", &ids).Error
	if err != nil {
		return nil, err
	}
	voted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		voted[id] = true
	}
	return voted, nil
}
