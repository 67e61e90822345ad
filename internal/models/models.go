package models

import "time"

type User struct {
	ID           uint    `gorm:"primaryKey"`
	Handle       string  `gorm:"uniqueIndex;size:20;not null"`
	PasswordHash string  `gorm:"not null"`
	Email        *string `gorm:"uniqueIndex;size:254"`
	DisplayName  string  `gorm:"size:400;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Memberships []Membership
	Messages    []Message
	Files       []File
}

// Room 的可见性在创建后不再变化。
type Room struct {
	ID          uint      `gorm:"primaryKey"`
	Name        string    `gorm:"size:800;not null"`
	Description *string   `gorm:"type:text"`
	IsPublic    bool      `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"index"`

	Memberships []Membership
	Messages    []Message
}

// Membership 的 (user_id, room_id) 唯一，重复加入由唯一索引兜底。
type Membership struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_membership_user_room,priority:1"`
	RoomID    uint `gorm:"not null;uniqueIndex:idx_membership_user_room,priority:2;index"`
	CreatedAt time.Time
}

// Message 只追加，不更新也不删除。
type Message struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    uint      `gorm:"not null;index:idx_msg_room_created,priority:1"`
	UserID    uint      `gorm:"not null;index"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_msg_room_created,priority:2"`

	Files []File
}

type File struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"not null;index"`
	UserID    uint   `gorm:"not null;index"`
	Name      string `gorm:"size:1024;not null"`
	Path      string `gorm:"size:512;not null"`
	Size      int64  `gorm:"not null"`
	MimeType  string `gorm:"size:100;not null"`
	Checksum  string `gorm:"size:64;not null"`
	CreatedAt time.Time
}
