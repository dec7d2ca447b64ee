// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/pkg/log"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth 创建一个 Gin 中间件，校验调用方的 X-API-Key。
// 配置里只保存 bcrypt 哈希，逐个比对；哈希列表为空视为未启用认证。
func APIKeyAuth(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(cfg.APIKeyHashes) == 0 {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含 API Key"})
			return
		}

		for _, hash := range cfg.APIKeyHashes {
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)); err == nil {
				c.Next()
				return
			}
		}

		log.Warnf("[Auth] 无效的 API Key, clientIP: %s", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的 API Key"})
	}
}
