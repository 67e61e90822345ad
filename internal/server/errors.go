package server

import (
	"errors"
	"net/http"

	"roomchat/internal/auth"
	"roomchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var kindStatus = map[service.Kind]int{
	service.KindValidation:   http.StatusBadRequest,
	service.KindAuth:         http.StatusUnauthorized,
	service.KindAccessDenied: http.StatusForbidden,
	service.KindNotFound:     http.StatusNotFound,
	service.KindConflict:     http.StatusConflict,
}

// respondError 把业务错误映射为状态码；未知错误记录完整日志，只给客户端通用信息。
func respondError(c *gin.Context, err error, op string) {
	status, ok := kindStatus[service.KindOf(err)]
	if !ok {
		log.Error().Err(err).
			Str("op", op).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Uint("user_id", auth.GetUserID(c)).
			Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	var se *service.Error
	errors.As(err, &se)
	c.JSON(status, gin.H{"error": se.Msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
