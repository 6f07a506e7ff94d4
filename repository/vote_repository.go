package repository

import (
	"context"
	"time"

	"VoteFM/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VoteRepository keeps the vote rows and the denormalized Track.VoteScore in step.
// Both writes of AddVote/RemoveVote commit or roll back together.
type VoteRepository interface {
	AddVote(ctx context.Context, trackID, userID int64) (score int, err error)
	RemoveVote(ctx context.Context, trackID, userID int64) (score int, err error)
}

type gormVoteRepository struct {
	db *gorm.DB
}

// NewGormVoteRepository creates a vote repository backed by db.
func NewGormVoteRepository(db *gorm.DB) VoteRepository {
	return &gormVoteRepository{db: db}
}

// lockTrack takes the track row lock that serializes score updates.
func lockTrack(tx *gorm.DB, trackID int64) (*model.Track, error) {
	var track model.Track
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", trackID).First(&track).Error; err != nil {
		return nil, notFound(err, ErrTrackNotFound)
	}
	return &track, nil
}

// AddVote 投票：插入投票记录并在同一事务内将票数加一
func (r *gormVoteRepository) AddVote(ctx context.Context, trackID, userID int64) (int, error) {
	var score int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		track, err := lockTrack(tx, trackID)
		if err != nil {
			return err
		}

		vote := &model.Vote{TrackID: trackID, UserID: userID, CreatedAt: time.Now()}
		if err := tx.Create(vote).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicateVote
			}
			return err
		}

		if err := tx.Model(&model.Track{}).Where("id = ?", trackID).
			Update("vote_score", gorm.Expr("vote_score + 1")).Error; err != nil {
			return err
		}
		score = track.VoteScore + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

// RemoveVote 取消投票：删除投票记录并在同一事务内将票数减一
func (r *gormVoteRepository) RemoveVote(ctx context.Context, trackID, userID int64) (int, error) {
	var score int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		track, err := lockTrack(tx, trackID)
		if err != nil {
			return err
		}

		res := tx.Where("track_id = ? AND user_id = ?", trackID, userID).Delete(&model.Vote{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVoteNotFound
		}

		if err := tx.Model(&model.Track{}).Where("id = ? AND vote_score > 0", trackID).
			Update("vote_score", gorm.Expr("vote_score - 1")).Error; err != nil {
			return err
		}
		score = track.VoteScore - 1
		if score < 0 {
			score = 0
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

