package repository

import (
	"context"
	"time"

	"VoteFM/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlaybackMutation edits a locked room's playback fields. queue holds the room's
// tracks ordered by (vote_score desc, created_at asc, id asc). Returning an error
// aborts the mutation and nothing is written.
type PlaybackMutation func(room *model.Room, queue []*model.Track) error

// RoomRepository 房间数据访问接口
type RoomRepository interface {
	// 房间 CRUD
	Create(ctx context.Context, room *model.Room) error
	GetByID(ctx context.Context, id string) (*model.Room, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	Rename(ctx context.Context, id, name string) error
	// Delete removes the room with its participants, tracks and votes and
	// returns the blob keys of the removed tracks.
	Delete(ctx context.Context, id string) ([]string, error)

	// MutatePlayback serializes playback changes per room: the room row is
	// held exclusively while fn runs and its result is persisted.
	MutatePlayback(ctx context.Context, id string, fn PlaybackMutation) (*model.Room, error)

	// 参与者管理
	AddParticipant(ctx context.Context, p *model.RoomParticipant) error
	RemoveParticipant(ctx context.Context, roomID string, userID int64) error
	IsParticipant(ctx context.Context, roomID string, userID int64) (bool, error)
	GetParticipants(ctx context.Context, roomID string) ([]*model.RoomParticipant, error)
	GetUserRooms(ctx context.Context, userID int64) ([]*model.UserRoomInfo, error)
}

// gormRoomRepository GORM 实现
type gormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GORM 房间仓库
func NewGormRoomRepository(db *gorm.DB) RoomRepository {
	return &gormRoomRepository{db: db}
}

// Create 创建房间，管理员同时成为第一个参与者
func (r *gormRoomRepository) Create(ctx context.Context, room *model.Room) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicateRoom
			}
			return err
		}
		return tx.Create(&model.RoomParticipant{
			RoomID:   room.ID,
			UserID:   room.AdminID,
			JoinedAt: room.CreatedAt,
		}).Error
	})
}

// GetByID 根据ID获取房间
func (r *gormRoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return nil, notFound(err, ErrRoomNotFound)
	}
	return &room, nil
}

// ExistsByID 检查房间ID是否存在
func (r *gormRoomRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Room{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

// Rename 修改房间名称
func (r *gormRoomRepository) Rename(ctx context.Context, id, name string) error {
	res := r.db.WithContext(ctx).Model(&model.Room{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"name": name, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// Delete 删除房间及其所有参与者、歌曲和投票
func (r *gormRoomRepository) Delete(ctx context.Context, id string) ([]string, error) {
	var paths []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&room).Error; err != nil {
			return notFound(err, ErrRoomNotFound)
		}

		if err := tx.Model(&model.Track{}).Where("room_id = ?", id).Pluck("file_path", &paths).Error; err != nil {
			return err
		}

		trackIDs := tx.Model(&model.Track{}).Select("id").Where("room_id = ?", id)
		if err := tx.Where("track_id IN (?)", trackIDs).Delete(&model.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&model.Track{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&model.RoomParticipant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Room{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// MutatePlayback 在行锁内修改播放状态
func (r *gormRoomRepository) MutatePlayback(ctx context.Context, id string, fn PlaybackMutation) (*model.Room, error) {
	var out model.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&room).Error; err != nil {
			return notFound(err, ErrRoomNotFound)
		}

		var queue []*model.Track
		if err := queueQuery(tx, id).Find(&queue).Error; err != nil {
			return err
		}

		if err := fn(&room, queue); err != nil {
			return err
		}

		room.UpdatedAt = time.Now()
		if err := tx.Model(&model.Room{}).Where("id = ?", id).Updates(map[string]interface{}{
			"current_track_id":    room.CurrentTrackID,
			"is_playing":          room.IsPlaying,
			"playback_started_at": room.PlaybackStartedAt,
			"playback_paused_at":  room.PlaybackPausedAt,
			"updated_at":          room.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		out = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ========== 参与者管理 ==========

// AddParticipant 添加参与者
func (r *gormRoomRepository) AddParticipant(ctx context.Context, p *model.RoomParticipant) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if isDuplicateKey(err) {
		return ErrAlreadyParticipant
	}
	return err
}

// RemoveParticipant 移除参与者
func (r *gormRoomRepository) RemoveParticipant(ctx context.Context, roomID string, userID int64) error {
	return r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&model.RoomParticipant{}).Error
}

// IsParticipant 检查用户是否是房间参与者
func (r *gormRoomRepository) IsParticipant(ctx context.Context, roomID string, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.RoomParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

// GetParticipants 获取参与者列表
func (r *gormRoomRepository) GetParticipants(ctx context.Context, roomID string) ([]*model.RoomParticipant, error) {
	var participants []*model.RoomParticipant
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&participants).Error
	return participants, err
}

// GetUserRooms 获取用户参与的房间列表
func (r *gormRoomRepository) GetUserRooms(ctx context.Context, userID int64) ([]*model.UserRoomInfo, error) {
	var rooms []*model.UserRoomInfo
	err := r.db.WithContext(ctx).
		Table("room_participants AS p").
		Select("r.id, r.name, r.admin_id, r.admin_id = ? AS is_admin, p.joined_at", userID).
		Joins("JOIN rooms r ON r.id = p.room_id").
		Where("p.user_id = ?", userID).
		Order("p.joined_at DESC").
		Scan(&rooms).Error
	return rooms, err
}

// queueQuery 房间歌曲按票数降序、上传时间升序排列
func queueQuery(db *gorm.DB, roomID string) *gorm.DB {
	return db.Model(&model.Track{}).
		Where("room_id = ?", roomID).
		Order("vote_score DESC").
		Order("created_at ASC").
		Order("id ASC")
}
