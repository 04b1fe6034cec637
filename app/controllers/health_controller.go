package controllers

import (
	"context"
	"net/http"

	"github.com/aihub/docsearch/internal/database"
)

// HealthReporter 执行探针并返回结果
type HealthReporter interface {
	Check(ctx context.Context) error
	GetHealthResult() database.HealthCheckResult
}

// HealthController 健康检查
type HealthController struct {
	BaseController
	Checker HealthReporter
}

// Healthz 数据库不可用时返回503
func (c *HealthController) Healthz() {
	status := http.StatusOK
	if err := c.Checker.Check(c.Ctx.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, c.Checker.GetHealthResult())
}
