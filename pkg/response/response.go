// Package response はサービス共通のJSONレスポンスエンベロープを提供する。
//
// 成功時は {"success": true, "data": ..., "timestamp": ...}、
// 失敗時は {"success": false, "error": ..., "timestamp": ...} の形式で返す。
package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

// now はタイムスタンプ生成に使用する時刻関数。テストで差し替える。
var now = time.Now

// Timestamp は現在時刻をRFC3339形式（UTC、ミリ秒精度）で返す。
func Timestamp() string {
	return now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// OK は成功レスポンスを返す。
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success":   true,
		"data":      data,
		"timestamp": Timestamp(),
	})
}

// Error は失敗レスポンスを返す。
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorBody(message))
}

// AbortWithError は失敗レスポンスを返し、後続のハンドラを中断する。
func AbortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorBody(message))
}

// ErrorBody は失敗レスポンスのボディを生成する。
func ErrorBody(message string) gin.H {
	return gin.H{
		"success":   false,
		"error":     message,
		"timestamp": Timestamp(),
	}
}
