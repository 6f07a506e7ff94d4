package model

import "time"

// Track is an uploaded audio track queued in a room.
// VoteScore always equals the number of live Vote rows for the track.
type Track struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID      string    `json:"room_id" gorm:"size:8;not null;index:idx_room_queue,priority:1"`
	UploaderID  int64     `json:"uploader_id" gorm:"not null;index"`
	Title       string    `json:"title" gorm:"size:255;not null"`
	Artist      string    `json:"artist" gorm:"size:255"`
	Duration    float64   `json:"duration"`                   // 秒
	FilePath    string    `json:"-" gorm:"size:512;not null"` // blob store key
	ContentType string    `json:"content_type" gorm:"size:100"`
	VoteScore   int       `json:"vote_score" gorm:"not null;default:0;index:idx_room_queue,priority:2,sort:desc"`
	CreatedAt   time.Time `json:"created_at" gorm:"type:datetime(3);index:idx_room_queue,priority:3"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// Vote is one user's vote on one track; (TrackID, UserID) is unique.
type Vote struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TrackID   int64     `json:"track_id" gorm:"not null;uniqueIndex:idx_track_user"`
	UserID    int64     `json:"user_id" gorm:"not null;uniqueIndex:idx_track_user;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (Vote) TableName() string {
	return "votes"
}

// QueuedTrack is a track as presented to one user in the queue.
type QueuedTrack struct {
	Track
	UserHasVoted bool `json:"user_has_voted"`
	IsCurrent    bool `json:"is_current"`
}
