package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultPostgresDSN = "host=localhost user=postgres password=postgres dbname=roomchat port=5432 sslmode=disable TimeZone=UTC"
	defaultSQLiteDSN   = "file:./data/roomchat.db?_foreign_keys=on&_busy_timeout=5000"

	// PollInterval 是前端轮询消息列表的固定间隔。
	PollInterval = 2 * time.Second
)

// placeholderSecrets 只允许在 dev 环境使用。
var placeholderSecrets = map[string]bool{
	"dev-secret-change-me": true,
	"change-me":            true,
	"secret":               true,
}

type Config struct {
	Port           string
	Env            string
	DatabaseDriver string
	DatabaseDSN    string
	JWTSecret      string
	SessionTTLDays int
	UploadDir      string
	MaxUploadBytes int64
	MessageWindow  int
	AllowedOrigins []string
	WebDir         string
	RateLimitRPS   int
	RateLimitBurst int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正值回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	n, err := strconv.ParseInt(getenv(key, ""), 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Load 从环境变量（以及可选的 .env 文件）读取配置，进程启动时调用一次。
func Load() Config {
	_ = godotenv.Load()

	driver := strings.ToLower(getenv("DB_DRIVER", DriverPostgres))
	defDSN := defaultPostgresDSN
	if driver == DriverSQLite {
		defDSN = defaultSQLiteDSN
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		Port:           getenv("APP_PORT", "8080"),
		Env:            getenv("APP_ENV", "dev"),
		DatabaseDriver: driver,
		DatabaseDSN:    getenv("DATABASE_DSN", defDSN),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		SessionTTLDays: getenvInt("SESSION_TTL_DAYS", 7),
		UploadDir:      getenv("UPLOAD_DIR", "./data/uploads"),
		MaxUploadBytes: getenvInt64("MAX_UPLOAD_BYTES", 10<<20),
		MessageWindow:  getenvInt("MESSAGE_WINDOW", 100),
		AllowedOrigins: origins,
		WebDir:         getenv("WEB_DIR", "./web"),
		RateLimitRPS:   getenvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getenvInt("RATE_LIMIT_BURST", 40),
	}
}

// Validate 在启动时做快速失败检查。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if !cfg.IsDev() && placeholderSecrets[cfg.JWTSecret] {
		return fmt.Errorf("JWT_SECRET must be changed in %s", cfg.Env)
	}
	if cfg.UploadDir == "" {
		return errors.New("UPLOAD_DIR is required")
	}
	return nil
}

func (c Config) IsDev() bool { return c.Env == "dev" }

// SecureCookies 决定会话 cookie 是否带 Secure 标记。
func (c Config) SecureCookies() bool { return !c.IsDev() }

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLDays) * 24 * time.Hour
}
