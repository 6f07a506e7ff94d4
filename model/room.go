package model

import (
	"time"
)

// Room 共享听歌房间
//
// 播放时间轴字段说明：
//   - IsPlaying 为 true 时 PlaybackStartedAt 非空，且是“平移后”的开始时间，
//     当前进度 = now - PlaybackStartedAt
//   - PlaybackPausedAt 只在暂停状态下有意义
type Room struct {
	ID                string     `json:"id" gorm:"primaryKey;size:8"`
	Name              string     `json:"name" gorm:"size:100;not null"`
	AdminID           int64      `json:"admin_id" gorm:"index;not null"`
	CurrentTrackID    *int64     `json:"current_track_id" gorm:"index"`
	IsPlaying         bool       `json:"is_playing" gorm:"default:false"`
	PlaybackStartedAt *time.Time `json:"playback_started_at" gorm:"type:datetime(3)"`
	PlaybackPausedAt  *time.Time `json:"playback_paused_at" gorm:"type:datetime(3)"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (Room) TableName() string {
	return "rooms"
}

// Clone returns a copy that shares no pointers with r.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.CurrentTrackID != nil {
		id := *r.CurrentTrackID
		c.CurrentTrackID = &id
	}
	if r.PlaybackStartedAt != nil {
		t := *r.PlaybackStartedAt
		c.PlaybackStartedAt = &t
	}
	if r.PlaybackPausedAt != nil {
		t := *r.PlaybackPausedAt
		c.PlaybackPausedAt = &t
	}
	return &c
}

// RoomParticipant 房间参与者（持久化关系，与是否在线无关）
type RoomParticipant struct {
	ID       int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID   string    `json:"room_id" gorm:"size:8;not null;uniqueIndex:idx_room_user"`
	UserID   int64     `json:"user_id" gorm:"not null;uniqueIndex:idx_room_user;index"`
	JoinedAt time.Time `json:"joined_at"`
}

// TableName 指定表名
func (RoomParticipant) TableName() string {
	return "room_participants"
}

// ParticipantInfo 参与者信息（快照用）
type ParticipantInfo struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	IsAdmin  bool      `json:"is_admin"`
	Online   bool      `json:"online"`
	JoinedAt time.Time `json:"joined_at"`
}

// UserRoomInfo 用户参与的房间信息（API 响应用）
type UserRoomInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	AdminID  int64     `json:"admin_id"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}
