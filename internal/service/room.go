package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"roomchat/internal/models"
	"roomchat/internal/sanitize"

	"gorm.io/gorm"
)

const (
	MaxRoomNameLen        = 100
	MaxRoomDescriptionLen = 500
)

// RoomService 封装房间目录：创建与可见房间列表。
type RoomService struct {
	db *gorm.DB
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	IsPublic    bool      `json:"isPublic"`
	CreatedAt   time.Time `json:"createdAt"`
}

type CreateRoomInput struct {
	Name        string
	Description *string
	IsPublic    *bool
}

func toRoomDTO(r models.Room) RoomDTO {
	return RoomDTO{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsPublic:    r.IsPublic,
		CreatedAt:   r.CreatedAt,
	}
}

// Create 创建房间，并在同一事务里把创建者登记为第一个成员。
func (s *RoomService) Create(ctx context.Context, ownerID uint, in CreateRoomInput) (*RoomDTO, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, Validation("room name is required")
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLen {
		return nil, Validation(fmt.Sprintf("room name must be at most %d characters", MaxRoomNameLen))
	}
	var desc *string
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if utf8.RuneCountInString(d) > MaxRoomDescriptionLen {
			return nil, Validation(fmt.Sprintf("description must be at most %d characters", MaxRoomDescriptionLen))
		}
		if d != "" {
			d = sanitize.Escape(d)
			desc = &d
		}
	}
	isPublic := true
	if in.IsPublic != nil {
		isPublic = *in.IsPublic
	}

	room := models.Room{Name: sanitize.Escape(name), Description: desc, IsPublic: isPublic}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return enroll(tx, ownerID, room.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	dto := toRoomDTO(room)
	return &dto, nil
}

// ListVisible 返回公开房间与用户所在房间的并集，按创建时间倒序。
func (s *RoomService) ListVisible(ctx context.Context, userID uint) ([]RoomDTO, error) {
	tx := s.db.WithContext(ctx)
	memberOf := tx.Model(&models.Membership{}).Select("room_id").Where("user_id = ?", userID)

	var rooms []models.Room
	err := tx.Where("is_public = ?", true).
		Or("id IN (?)", memberOf).
		Order("created_at desc").Order("id desc").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, toRoomDTO(r))
	}
	return out, nil
}
