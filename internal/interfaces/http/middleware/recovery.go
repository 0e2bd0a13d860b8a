// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"zhiku-report-api/pkg/errors"
	"zhiku-report-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery 捕获处理器 panic，记录堆栈后返回统一的 500 响应
// 管线 goroutine 内的 panic 由编排器自行收敛，这里只兜 HTTP 层。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", r),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    errors.CodeInternalError,
					"message": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
