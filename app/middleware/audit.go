package middleware

import (
	"time"

	"github.com/aihub/docsearch/internal/logger"
	"github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

const requestStartKey = "requestStart"

// AccessLogStart 记录请求开始时间，注册在 BeforeRouter
func AccessLogStart(ctx *context.Context) {
	ctx.Input.SetData(requestStartKey, time.Now())
}

// AccessLogFinish 输出访问日志，注册在 FinishRouter 且需关闭 returnOnOutput
func AccessLogFinish(ctx *context.Context) {
	var elapsed time.Duration
	if start, ok := ctx.Input.GetData(requestStartKey).(time.Time); ok {
		elapsed = time.Since(start)
	}

	fields := []zap.Field{
		zap.String("method", ctx.Input.Method()),
		zap.String("path", ctx.Input.URL()),
		zap.Int("status", ctx.ResponseWriter.Status),
		zap.Duration("elapsed", elapsed),
		zap.String("ip", ctx.Input.IP()),
	}
	if ctx.ResponseWriter.Status >= 500 {
		logger.Warn("request completed", fields...)
		return
	}
	logger.Debug("request completed", fields...)
}
