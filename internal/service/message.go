package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/internal/sanitize"
	"roomchat/internal/ws"

	"gorm.io/gorm"
)

const (
	DefaultMessageWindow = 100
	MaxMessageLen        = 4000
)

// MessageService 封装只追加的消息日志。
type MessageService struct {
	db     *gorm.DB
	guard  *AccessGuard
	hub    *ws.Hub
	window int
}

func NewMessageService(db *gorm.DB, guard *AccessGuard, hub *ws.Hub, window int) *MessageService {
	if window <= 0 {
		window = DefaultMessageWindow
	}
	return &MessageService{db: db, guard: guard, hub: hub, window: window}
}

// FileDTO 是消息附件的对外数据。
type FileDTO struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageDTO 是对外输出的消息数据，也是 WebSocket 推送帧。
type MessageDTO struct {
	Type        string    `json:"type"`
	ID          uint      `json:"id"`
	RoomID      uint      `json:"roomId"`
	UserID      uint      `json:"userId"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	Files       []FileDTO `json:"files"`
}

func (s *MessageService) Window() int { return s.window }

// Append 校验并写入一条文本消息，成功后推送给房间订阅者。
func (s *MessageService) Append(ctx context.Context, roomID, authorID uint, text string) (*MessageDTO, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, Validation("message text is required")
	}
	if roomID == 0 {
		return nil, Validation("roomId is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return nil, Validation(fmt.Sprintf("message must be at most %d characters", MaxMessageLen))
	}
	if _, err := s.guard.Authorize(ctx, authorID, roomID); err != nil {
		return nil, err
	}

	msg := models.Message{RoomID: roomID, UserID: authorID, Content: sanitize.Escape(text)}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	metrics.MessagesTotal.Inc()
	return s.deliver(ctx, msg)
}

// deliver 补全作者信息并推送，供文本消息与文件消息共用。
func (s *MessageService) deliver(ctx context.Context, msg models.Message) (*MessageDTO, error) {
	out, err := s.toDTOs(ctx, []models.Message{msg})
	if err != nil {
		return nil, err
	}
	dto := out[0]
	s.hub.Publish(msg.RoomID, dto)
	return &dto, nil
}

// ListRecent 返回房间最近 limit 条消息（按创建时间升序），limit 超出窗口时取窗口大小。
func (s *MessageService) ListRecent(ctx context.Context, roomID, userID uint, limit int) ([]MessageDTO, error) {
	if roomID == 0 {
		return nil, Validation("roomId is required")
	}
	if _, err := s.guard.Authorize(ctx, userID, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.window {
		limit = s.window
	}

	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at desc").Order("id desc").
		Limit(limit).
		Preload("Files", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return s.toDTOs(ctx, msgs)
}

func (s *MessageService) toDTOs(ctx context.Context, msgs []models.Message) ([]MessageDTO, error) {
	authors, err := s.resolveAuthors(ctx, msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		a := authors[m.UserID]
		files := make([]FileDTO, 0, len(m.Files))
		for _, f := range m.Files {
			files = append(files, FileDTO{
				ID:        f.ID,
				Name:      f.Name,
				Path:      f.Path,
				Size:      f.Size,
				MimeType:  f.MimeType,
				Checksum:  f.Checksum,
				CreatedAt: f.CreatedAt,
			})
		}
		out = append(out, MessageDTO{
			Type:        "message",
			ID:          m.ID,
			RoomID:      m.RoomID,
			UserID:      m.UserID,
			Handle:      a.Handle,
			DisplayName: a.DisplayName,
			Content:     m.Content,
			CreatedAt:   m.CreatedAt,
			Files:       files,
		})
	}
	return out, nil
}

// resolveAuthors 批量获取消息涉及的作者。
func (s *MessageService) resolveAuthors(ctx context.Context, msgs []models.Message) (map[uint]models.User, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		userIDs = append(userIDs, m.UserID)
	}

	authors := make(map[uint]models.User, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.WithContext(ctx).Select("id", "handle", "display_name").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, fmt.Errorf("resolve authors: %w", err)
		}
		for _, u := range users {
			authors[u.ID] = u
		}
	}
	return authors, nil
}
