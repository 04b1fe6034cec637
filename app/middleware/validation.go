package middleware

import (
	"net/http"

	"github.com/beego/beego/v2/server/web/context"
)

// DefaultMaxUploadSize 上传请求体上限
const DefaultMaxUploadSize int64 = 100 << 20

// RequestSizeLimit 拒绝声明长度超过上限的请求
func RequestSizeLimit(limit int64) func(*context.Context) {
	return func(ctx *context.Context) {
		if ctx.Request.ContentLength > limit {
			ctx.Output.SetStatus(http.StatusRequestEntityTooLarge)
			_ = ctx.Output.JSON(map[string]interface{}{
				"success": false,
				"error":   "request body too large",
			}, false, false)
			return
		}
		ctx.Request.Body = http.MaxBytesReader(ctx.ResponseWriter, ctx.Request.Body, limit)
	}
}
