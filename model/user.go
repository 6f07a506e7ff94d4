package model

import "time"

// User represents a user in the system.
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Email        string    `json:"email" gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"` // Not exposed in API responses
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// UserIdentity is the verified identity behind a credential.
type UserIdentity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// AllModels lists every persisted model for auto-migration.
func AllModels() []interface{} {
	return []interface{}{&User{}, &Room{}, &RoomParticipant{}, &Track{}, &Vote{}}
}
