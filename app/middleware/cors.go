package middleware

import (
	"net/http"

	"github.com/beego/beego/v2/server/web/context"
)

// CORSMiddleware CORS中间件；allowedOrigins 为空时放行所有来源
func CORSMiddleware(allowedOrigins ...string) func(*context.Context) {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(ctx *context.Context) {
		origin := ctx.Input.Header("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || len(allowed) == 0 {
				ctx.Output.Header("Access-Control-Allow-Origin", origin)
			}
		}

		ctx.Output.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Output.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Origin")
		ctx.Output.Header("Access-Control-Max-Age", "3600")

		// 处理OPTIONS预检请求
		if ctx.Input.Method() == http.MethodOptions {
			ctx.Output.SetStatus(http.StatusNoContent)
			_ = ctx.Output.Body([]byte{})
		}
	}
}
