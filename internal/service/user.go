package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"roomchat/internal/auth"
	"roomchat/internal/db"
	"roomchat/internal/models"
	"roomchat/internal/sanitize"

	"gorm.io/gorm"
)

const (
	MinPasswordLen    = 6
	MaxPasswordBytes  = 72
	MaxDisplayNameLen = 64
)

var (
	handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// UserService 封装注册与登录。
type UserService struct {
	db     *gorm.DB
	tokens *auth.Tokens
}

func NewUserService(db *gorm.DB, tokens *auth.Tokens) *UserService {
	return &UserService{db: db, tokens: tokens}
}

// UserDTO 是对外公开的用户字段。
type UserDTO struct {
	ID          uint   `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

// AuthResult 是注册或登录成功后的结果，Token 写入 cookie，不进入响应体。
type AuthResult struct {
	User  UserDTO
	Token string
}

type RegisterInput struct {
	Handle      string
	Password    string
	Email       string
	DisplayName string
}

func ValidHandle(handle string) bool {
	return handlePattern.MatchString(handle)
}

func toUserDTO(u models.User) UserDTO {
	return UserDTO{ID: u.ID, Handle: u.Handle, DisplayName: u.DisplayName}
}

// Register 校验输入、检查重复并创建用户，成功后签发会话 token。
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if in.Handle == "" || in.Password == "" {
		return nil, Validation("handle and password are required")
	}
	if !ValidHandle(in.Handle) {
		return nil, Validation("handle must be 3-20 characters: letters, digits, underscore")
	}
	if len(in.Password) < MinPasswordLen {
		return nil, Validation(fmt.Sprintf("password must be at least %d characters", MinPasswordLen))
	}
	if len(in.Password) > MaxPasswordBytes {
		return nil, Validation(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}

	var email *string
	if e := strings.ToLower(strings.TrimSpace(in.Email)); e != "" {
		if len(e) > 254 || !emailPattern.MatchString(e) {
			return nil, Validation("invalid email")
		}
		email = &e
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = in.Handle
	}
	if utf8.RuneCountInString(displayName) > MaxDisplayNameLen {
		return nil, Validation(fmt.Sprintf("display name must be at most %d characters", MaxDisplayNameLen))
	}

	tx := s.db.WithContext(ctx)
	if taken, err := s.exists(tx, "handle = ?", in.Handle); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrHandleTaken
	}
	if email != nil {
		if taken, err := s.exists(tx, "email = ?", *email); err != nil {
			return nil, err
		} else if taken {
			return nil, ErrEmailTaken
		}
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := models.User{Handle: in.Handle, PasswordHash: hash, Email: email, DisplayName: sanitize.Escape(displayName)}
	if err := tx.Create(&user).Error; err != nil {
		if db.IsUniqueViolation(err) {
			// 并发注册：预检查之后被抢先写入。
			if taken, _ := s.exists(tx, "handle = ?", in.Handle); taken {
				return nil, ErrHandleTaken
			}
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.issue(user)
}

// Login 校验用户名密码；用户不存在与密码错误返回同一个错误。
func (s *UserService) Login(ctx context.Context, handle, password string) (*AuthResult, error) {
	if handle == "" || password == "" {
		return nil, Validation("handle and password are required")
	}
	if !ValidHandle(handle) {
		return nil, Validation("invalid handle format")
	}
	var user models.User
	if err := s.db.WithContext(ctx).Where("handle = ?", handle).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// Get 返回用户的公开字段。
func (s *UserService) Get(ctx context.Context, userID uint) (*UserDTO, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	dto := toUserDTO(user)
	return &dto, nil
}

func (s *UserService) issue(user models.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user.ID, user.Handle)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{User: toUserDTO(user), Token: token}, nil
}

func (s *UserService) exists(tx *gorm.DB, query string, arg any) (bool, error) {
	var count int64
	if err := tx.Model(&models.User{}).Where(query, arg).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}
