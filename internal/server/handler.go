package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"roomchat/internal/auth"
	"roomchat/internal/config"
	"roomchat/internal/service"
	"roomchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg    config.Config
	tokens *auth.Tokens
	guard  *service.AccessGuard
	users  *service.UserService
	rooms  *service.RoomService
	msgs   *service.MessageService
	files  *service.FileService
	hub    *ws.Hub
}

func NewHandler(cfg config.Config, tokens *auth.Tokens, guard *service.AccessGuard, users *service.UserService,
	rooms *service.RoomService, msgs *service.MessageService, files *service.FileService, hub *ws.Hub) *Handler {
	return &Handler{cfg: cfg, tokens: tokens, guard: guard, users: users, rooms: rooms, msgs: msgs, files: files, hub: hub}
}

// Register 处理用户注册请求，成功后直接登录。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Handle      string `json:"handle"`
		Password    string `json:"password"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	res, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Handle:      strings.TrimSpace(req.Handle),
		Password:    req.Password,
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		respondError(c, err, "register")
		return
	}
	auth.SetSessionCookie(c, res.Token, h.tokens.TTL(), h.cfg.SecureCookies())
	c.JSON(http.StatusCreated, gin.H{"user": res.User})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	res, err := h.users.Login(c.Request.Context(), strings.TrimSpace(req.Handle), req.Password)
	if err != nil {
		respondError(c, err, "login")
		return
	}
	auth.SetSessionCookie(c, res.Token, h.tokens.TTL(), h.cfg.SecureCookies())
	c.JSON(http.StatusOK, gin.H{"user": res.User})
}

func (h *Handler) Logout(c *gin.Context) {
	auth.ClearSessionCookie(c, h.cfg.SecureCookies())
	c.Status(http.StatusNoContent)
}

// Me 返回当前会话对应的用户。
func (h *Handler) Me(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		respondError(c, err, "me")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ClientConfig 暴露前端需要的常量：轮询间隔与上传限制。
func (h *Handler) ClientConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pollIntervalMs":   config.PollInterval.Milliseconds(),
		"maxUploadBytes":   h.files.MaxBytes(),
		"allowedMimeTypes": service.AllowedMIMETypes(),
		"messageWindow":    h.msgs.Window(),
	})
}

// ListRooms 返回调用者可见的房间。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListVisible(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		respondError(c, err, "list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// CreateRoom 处理创建房间请求。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
		IsPublic    *bool   `json:"isPublic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), auth.GetUserID(c), service.CreateRoomInput{
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		respondError(c, err, "create room")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// parseRoomID 解析正整数房间 ID。
func parseRoomID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ListMessages 处理 GET /api/messages?roomId=，前端每 2 秒轮询一次。
func (h *Handler) ListMessages(c *gin.Context) {
	raw := c.Query("roomId")
	if raw == "" {
		badRequest(c, "roomId is required")
		return
	}
	roomID, ok := parseRoomID(raw)
	if !ok {
		badRequest(c, "invalid roomId")
		return
	}
	limit := 0
	if ls := c.Query("limit"); ls != "" {
		limit, _ = strconv.Atoi(ls)
	}
	msgs, err := h.msgs.ListRecent(c.Request.Context(), roomID, auth.GetUserID(c), limit)
	if err != nil {
		respondError(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage 处理发送文本消息。
func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		Text   string `json:"text"`
		RoomID uint   `json:"roomId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	msg, err := h.msgs.Append(c.Request.Context(), req.RoomID, auth.GetUserID(c), req.Text)
	if err != nil {
		respondError(c, err, "post message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// UploadFile 处理 multipart 上传：file、roomId、可选 caption。
func (h *Handler) UploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		badRequest(c, "file is required")
		return
	}
	raw := c.PostForm("roomId")
	if raw == "" {
		badRequest(c, "roomId is required")
		return
	}
	roomID, ok := parseRoomID(raw)
	if !ok {
		badRequest(c, "invalid roomId")
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, err, "open upload")
		return
	}
	defer f.Close()

	msg, err := h.files.Accept(c.Request.Context(), service.Upload{
		RoomID:   roomID,
		AuthorID: auth.GetUserID(c),
		Filename: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
		Body:     f,
	}, c.PostForm("caption"))
	if err != nil {
		respondError(c, err, "upload file")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// Subscribe 鉴权后把连接升级为 WebSocket，推送房间内的新消息。
func (h *Handler) Subscribe(c *gin.Context) {
	roomID, ok := parseRoomID(c.Query("roomId"))
	if !ok {
		badRequest(c, "invalid roomId")
		return
	}
	userID := auth.GetUserID(c)
	if _, err := h.guard.Authorize(c.Request.Context(), userID, roomID); err != nil {
		respondError(c, err, "subscribe")
		return
	}
	user, _ := auth.GetUser(c)
	log.Debug().Uint("room_id", roomID).Uint("user_id", userID).Int("subscribers", h.hub.Online(roomID)).Msg("ws subscribe")
	if err := h.hub.Serve(c.Writer, c.Request, roomID, userID, user.Handle); err != nil {
		// upgrader 已经写出了错误响应。
		log.Debug().Err(err).Uint("room_id", roomID).Msg("ws upgrade")
	}
}
