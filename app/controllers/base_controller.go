package controllers

import (
	"net/http"
	"strconv"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	_ = c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError 按 AppError 的错误码写出响应，5xx 记录日志
func (c *BaseController) JSONAppError(err error) {
	appErr := apperrors.GetAppError(err)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.Ctx.Request.URL.Path),
			zap.String("code", string(appErr.Code)),
			zap.Error(err))
	}
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	})
}

// mustParseIDParam 解析路径中的文档ID
func (c *BaseController) mustParseIDParam(key string) (int64, bool) {
	value := c.Ctx.Input.Param(key)
	if value == "" {
		c.JSONError(http.StatusBadRequest, "missing parameter "+key)
		return 0, false
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		c.JSONError(http.StatusBadRequest, "invalid parameter "+key)
		return 0, false
	}
	return id, true
}
