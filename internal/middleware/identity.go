package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID     = "X-User-ID"
	HeaderAdminToken = "X-Admin-Token"

	ctxUserID = "user_id"
)

// UserIdentity 身份由网关负责，这里只读取网关透传的 X-User-ID。
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || uid <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "missing or invalid " + HeaderUserID,
			})
			return
		}
		c.Set(ctxUserID, uid)
		c.Next()
	}
}

// UserID 取当前请求的用户，未经过 UserIdentity 时为 0。
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserID)
}

// AdminOnly 管理接口的简单令牌校验（demo 级别保护）。
func AdminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAdminToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": http.StatusForbidden,
				"msg":  "无权限",
			})
			return
		}
		c.Next()
	}
}
