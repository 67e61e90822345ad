package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/internal/sanitize"
	"roomchat/internal/storage"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	DefaultMaxUploadBytes int64 = 10 << 20

	// FilePlaceholder 是未填写说明时文件消息的正文。
	FilePlaceholder = "File sent"

	// MaxFilenameLen 按字符计；转义后最多膨胀 6 倍，仍在 files.name 列宽之内。
	MaxFilenameLen = 160
	maxExtLen      = 16
)

var allowedMIME = map[string]bool{
	"image/jpeg":                   true,
	"image/png":                    true,
	"image/gif":                    true,
	"image/webp":                   true,
	"application/pdf":              true,
	"text/plain":                   true,
	"application/zip":              true,
	"application/x-zip-compressed": true,
}

// AllowedMIMETypes 返回排序后的允许类型列表，供前端展示。
func AllowedMIMETypes() []string {
	out := make([]string, 0, len(allowedMIME))
	for k := range allowedMIME {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NormalizeMIME 去掉参数并转小写，例如 "Text/Plain; charset=utf-8" -> "text/plain"。
func NormalizeMIME(declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mt
}

func IsAllowedMIME(declared string) bool {
	return allowedMIME[NormalizeMIME(declared)]
}

// Upload 是一次待入库的附件。
type Upload struct {
	RoomID   uint
	AuthorID uint
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// FileService 负责附件校验、落盘并与消息关联。
type FileService struct {
	db       *gorm.DB
	guard    *AccessGuard
	disk     *storage.Disk
	msgs     *MessageService
	maxBytes int64
}

func NewFileService(db *gorm.DB, guard *AccessGuard, disk *storage.Disk, msgs *MessageService, maxBytes int64) *FileService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &FileService{db: db, guard: guard, disk: disk, msgs: msgs, maxBytes: maxBytes}
}

func (s *FileService) MaxBytes() int64 { return s.maxBytes }

func (s *FileService) tooLarge() error {
	return Validation(fmt.Sprintf("file is too large (max %d bytes)", s.maxBytes))
}

// Accept 校验类型与大小、鉴权、落盘，然后在一个事务里创建消息与文件记录。
func (s *FileService) Accept(ctx context.Context, up Upload, caption string) (*MessageDTO, error) {
	if up.Body == nil {
		return nil, Validation("file is required")
	}
	if up.RoomID == 0 {
		return nil, Validation("roomId is required")
	}
	mimeType := NormalizeMIME(up.MimeType)
	if !allowedMIME[mimeType] {
		return nil, Validation("file type not allowed")
	}
	if up.Size > s.maxBytes {
		return nil, s.tooLarge()
	}
	text := FilePlaceholder
	if c := strings.TrimSpace(caption); c != "" {
		if utf8.RuneCountInString(c) > MaxMessageLen {
			return nil, Validation(fmt.Sprintf("caption must be at most %d characters", MaxMessageLen))
		}
		text = sanitize.Escape(c)
	}
	if _, err := s.guard.Authorize(ctx, up.AuthorID, up.RoomID); err != nil {
		return nil, err
	}

	name := attachmentName(up.Filename)
	// 多读一个字节用于识别声明大小与实际内容不符的请求。
	stored, err := s.disk.Save(name, io.LimitReader(up.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if stored.Size > s.maxBytes {
		s.discard(stored)
		return nil, s.tooLarge()
	}

	if name == "" {
		name = stored.Name
	}
	msg := models.Message{
		RoomID:  up.RoomID,
		UserID:  up.AuthorID,
		Content: text,
		Files: []models.File{{
			UserID:   up.AuthorID,
			Name:     sanitize.Escape(name),
			Path:     stored.Path,
			Size:     stored.Size,
			MimeType: mimeType,
			Checksum: stored.Checksum,
		}},
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		s.discard(stored)
		return nil, fmt.Errorf("create file message: %w", err)
	}
	metrics.MessagesTotal.Inc()
	metrics.FilesTotal.Inc()
	metrics.FileBytesTotal.Add(float64(stored.Size))
	return s.msgs.deliver(ctx, msg)
}

// attachmentName 取客户端文件名的最后一段，超长时截断主干并保留扩展名。
func attachmentName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	runes := []rune(name)
	if len(runes) <= MaxFilenameLen {
		return name
	}
	ext := []rune(filepath.Ext(name))
	if len(ext) > maxExtLen {
		ext = nil
	}
	return string(runes[:MaxFilenameLen-len(ext)]) + string(ext)
}

func (s *FileService) discard(st *storage.Stored) {
	if err := s.disk.Remove(st.Name); err != nil {
		log.Error().Err(err).Str("file", st.Name).Msg("remove orphan upload")
	}
}
