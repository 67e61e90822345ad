package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roomchat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	// CookieName 是承载会话 token 的 cookie 名。
	CookieName = "token"

	DefaultSessionTTL = 7 * 24 * time.Hour

	minBcryptCost = 10
)

var ErrMissingSecret = errors.New("auth: token secret is not configured")

type Claims struct {
	UserID uint   `json:"uid"`
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// Identity 是从会话 token 中解析出的用户身份。
type Identity struct {
	UserID uint
	Handle string
}

func HashPassword(pw string) (string, error) {
	cost := bcrypt.DefaultCost
	if cost < minBcryptCost {
		cost = minBcryptCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Tokens 签发并校验 HS256 会话 token，密钥在进程启动时注入。
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (t *Tokens) TTL() time.Duration { return t.ttl }

func (t *Tokens) Issue(userID uint, handle string) (string, error) {
	now := t.now()
	claims := Claims{
		UserID: userID,
		Handle: handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify 校验签名与过期时间；任何失败（包括格式错误）都只返回 false。
func (t *Tokens) Verify(tokenStr string) (*Identity, bool) {
	if tokenStr == "" {
		return nil, false
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, false
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == 0 {
		return nil, false
	}
	return &Identity{UserID: claims.UserID, Handle: claims.Handle}, true
}

// SetSessionCookie 写入 HttpOnly + SameSite=Lax 的会话 cookie。
func SetSessionCookie(c *gin.Context, token string, ttl time.Duration, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(ttl/time.Second), "/", "", secure, true)
}

func ClearSessionCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", secure, true)
}

// tokenFromRequest 优先读取 cookie，非浏览器客户端可以使用 Bearer 头。
func tokenFromRequest(c *gin.Context) string {
	if v, err := c.Cookie(CookieName); err == nil && v != "" {
		return v
	}
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// Middleware 要求有效会话；缺失与无效 token 返回相同的 401，避免泄露 token 状态。
func Middleware(tokens *Tokens, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := tokens.Verify(tokenFromRequest(c))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var user models.User
		if err := db.WithContext(c.Request.Context()).Select("id", "handle", "display_name").First(&user, id.UserID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set("userID", user.ID)
		c.Set("user", user)
		c.Next()
	}
}

func GetUserID(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(uint); ok2 {
			return id
		}
	}
	return 0
}

func GetUser(c *gin.Context) (models.User, bool) {
	if v, ok := c.Get("user"); ok {
		u, ok2 := v.(models.User)
		return u, ok2
	}
	return models.User{}, false
}
