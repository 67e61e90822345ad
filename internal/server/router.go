package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/config"
	"roomchat/internal/metrics"
	"roomchat/internal/mw"
	"roomchat/internal/service"
	"roomchat/internal/storage"
	"roomchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	jsonBodyLimit = 1 << 20
	// multipart 头部与 caption 的额外余量。
	multipartOverhead = 1 << 20
	limiterTTL        = 10 * time.Minute
)

// Server 持有 Gin 引擎与需要在停服时释放的后台资源。
type Server struct {
	Engine  *gin.Engine
	limiter *mw.RL
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.Engine.ServeHTTP(w, r) }

// Close 停止限速器的回收 goroutine。
func (s *Server) Close() { s.limiter.Stop() }

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, gdb *gorm.DB, hub *ws.Hub) (*Server, error) {
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.SessionTTL())
	if err != nil {
		return nil, err
	}
	disk, err := storage.NewDisk(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}

	guard := service.NewAccessGuard(gdb)
	msgs := service.NewMessageService(gdb, guard, hub, cfg.MessageWindow)
	h := NewHandler(cfg, tokens, guard,
		service.NewUserService(gdb, tokens),
		service.NewRoomService(gdb),
		msgs,
		service.NewFileService(gdb, guard, disk, msgs, cfg.MaxUploadBytes),
		hub,
	)

	rl := mw.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, limiterTTL).Start()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.SecurityHeaders(cfg.SecureCookies()))
	r.Use(mw.CORS(cfg.Env, cfg.AllowedOrigins))
	// 控制单个 IP+路由的速率。
	r.Use(mw.RateLimit(rl))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/config", h.ClientConfig)

	jsonBody := mw.MaxBodySize(jsonBodyLimit)
	api.POST("/auth/register", jsonBody, h.Register)
	api.POST("/auth/login", jsonBody, h.Login)
	api.POST("/auth/logout", h.Logout)

	// 需要会话 cookie 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(tokens, gdb))
	authed.GET("/auth/me", h.Me)
	authed.GET("/rooms", h.ListRooms)
	authed.POST("/rooms", jsonBody, h.CreateRoom)
	authed.GET("/messages", h.ListMessages)
	authed.POST("/messages", jsonBody, h.PostMessage)
	authed.POST("/files", mw.MaxBodySize(cfg.MaxUploadBytes+multipartOverhead), h.UploadFile)
	authed.GET("/ws", h.Subscribe)

	// 附件只读；sandbox CSP 阻止上传的文档在本站执行脚本。
	uploads := r.Group(strings.TrimSuffix(storage.URLPrefix, "/"), func(c *gin.Context) {
		c.Header("Content-Security-Policy", "default-src 'none'; sandbox")
		c.Next()
	})
	uploads.Static("/", disk.Dir())

	r.NoRoute(spaFallback(cfg.WebDir))
	return &Server{Engine: r, limiter: rl}, nil
}

// OriginPolicy 返回 WebSocket 握手的来源检查：无 Origin、开发环境、白名单或同源时放行。
func OriginPolicy(cfg config.Config) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || cfg.IsDev() || allowed[origin] || mw.SameOrigin(origin, r.Host)
	}
}

// spaFallback 在 webDir 下有 index.html 时托管前端，否则统一返回 JSON 404。
func spaFallback(webDir string) gin.HandlerFunc {
	index := filepath.Join(webDir, "index.html")
	_, err := os.Stat(index)
	hasSPA := webDir != "" && err == nil

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !hasSPA || c.Request.Method != http.MethodGet || strings.HasPrefix(path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		rel := strings.TrimPrefix(filepath.Clean("/"+path), "/")
		if rel == "" {
			c.File(index)
			return
		}
		target := filepath.Join(webDir, rel)
		if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
			c.File(target)
			return
		}
		if strings.Contains(rel, ".") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.File(index)
	}
}
