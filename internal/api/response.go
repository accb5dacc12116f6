package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hireline/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// RespondError 将业务哨兵错误映射为 HTTP 状态码，其余按系统错误处理。
func RespondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errcode.ErrConflict):
		Conflict(c, err.Error())
	case errors.Is(err, errcode.ErrForbidden):
		Forbidden(c, err.Error())
	case errors.Is(err, errcode.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, errcode.ErrAuthentication):
		Unauthorized(c)
	default:
		Internal(c, "internal error")
	}
}
