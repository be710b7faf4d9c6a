package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求日志。
// 照片上传请求的 multipart 体可能有几十兆，请求体不做捕获，
// 只记录大小。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		}
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			fields = append(fields, "requestSize", c.Request.ContentLength)
		}
		log.Infow("HTTP Request Log", fields...)
	}
}
