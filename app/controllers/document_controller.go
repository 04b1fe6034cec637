package controllers

import (
	"context"
	"net/http"

	"github.com/aihub/docsearch/internal/models"
	"github.com/aihub/docsearch/internal/services"
)

// DocumentAPI 文档控制器依赖的服务
type DocumentAPI interface {
	Upload(ctx context.Context, req services.UploadRequest) (*models.Document, error)
	Reprocess(ctx context.Context, id int64) (*models.Document, error)
	Get(ctx context.Context, id int64) (*models.Document, error)
	List(ctx context.Context, page, limit int, status string) ([]models.Document, int64, error)
	Status(ctx context.Context, id int64) (*services.DocumentStatus, error)
}

// DocumentController 文档控制器
type DocumentController struct {
	BaseController
	Docs DocumentAPI
}

// NewDocumentController 创建文档控制器
func NewDocumentController(docs DocumentAPI) *DocumentController {
	return &DocumentController{Docs: docs}
}

// List 获取文档列表，按上传时间倒序
func (c *DocumentController) List() {
	page, _ := c.GetInt("page", 1)
	limit, _ := c.GetInt("limit", 20)
	status := c.GetString("status")

	documents, total, err := c.Docs.List(c.Ctx.Request.Context(), page, limit, status)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"documents": documents,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// Get 获取文档详情
func (c *DocumentController) Get() {
	id, ok := c.mustParseIDParam(":id")
	if !ok {
		return
	}

	doc, err := c.Docs.Get(c.Ctx.Request.Context(), id)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(doc)
}

// Status 获取处理状态
func (c *DocumentController) Status() {
	id, ok := c.mustParseIDParam(":id")
	if !ok {
		return
	}

	st, err := c.Docs.Status(c.Ctx.Request.Context(), id)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(st)
}

// Reprocess 重新投递处理任务
func (c *DocumentController) Reprocess() {
	id, ok := c.mustParseIDParam(":id")
	if !ok {
		return
	}

	doc, err := c.Docs.Reprocess(c.Ctx.Request.Context(), id)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSON(http.StatusAccepted, map[string]interface{}{
		"success": true,
		"data":    doc,
	})
}

// UploadAndProcess 接收 multipart 文件字段 file，保存并投递处理
func (c *DocumentController) UploadAndProcess() {
	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	doc, err := c.Docs.Upload(c.Ctx.Request.Context(), services.UploadRequest{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(doc)
}
