package service

import (
	"context"
	"errors"
	"fmt"

	"roomchat/internal/db"
	"roomchat/internal/metrics"
	"roomchat/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccessGuard 是所有房间级操作共用的鉴权 + 自动加入原语。
type AccessGuard struct {
	db *gorm.DB
}

func NewAccessGuard(db *gorm.DB) *AccessGuard {
	return &AccessGuard{db: db}
}

// Authorize 判断用户能否读写房间：
// 房间不存在返回 ErrRoomNotFound；公开房间总是放行并顺带登记成员；
// 私有房间只看成员关系，没有则返回 ErrForbidden。
func (g *AccessGuard) Authorize(ctx context.Context, userID, roomID uint) (*models.Room, error) {
	var room models.Room
	if err := g.db.WithContext(ctx).First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room %d: %w", roomID, err)
	}

	if room.IsPublic {
		if err := enroll(g.db.WithContext(ctx), userID, roomID); err != nil {
			return nil, err
		}
		return &room, nil
	}

	member, err := g.IsMember(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}
	return &room, nil
}

func (g *AccessGuard) IsMember(ctx context.Context, userID, roomID uint) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.Membership{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup membership: %w", err)
	}
	return count > 0, nil
}

// Enroll 直接登记成员关系，不做可见性检查（建房与种子数据使用）。
func (g *AccessGuard) Enroll(ctx context.Context, userID, roomID uint) error {
	return enroll(g.db.WithContext(ctx), userID, roomID)
}

// enroll 幂等插入成员关系，唯一索引冲突视为已加入。
func enroll(tx *gorm.DB, userID, roomID uint) error {
	m := models.Membership{UserID: userID, RoomID: roomID}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error) {
			return nil
		}
		return fmt.Errorf("enroll user %d in room %d: %w", userID, roomID, res.Error)
	}
	if res.RowsAffected > 0 {
		metrics.MembershipsTotal.Inc()
	}
	return nil
}
