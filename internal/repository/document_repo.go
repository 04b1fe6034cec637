package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/models"
)

// documentRepository 文档仓库实现
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建文档仓库
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// GetDB 获取数据库连接
func (r *documentRepository) GetDB() *gorm.DB {
	return r.db
}

// Create 创建文档记录
func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.Status == "" {
		doc.Status = models.DocumentStatusPending
	}
	return r.db.WithContext(ctx).Create(doc).Error
}

// GetByID 根据ID获取文档
func (r *documentRepository) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to load document").WithCause(err)
	}
	return &doc, nil
}

// GetByFilename 按文件名获取最近上传的文档
func (r *documentRepository) GetByFilename(ctx context.Context, filename string) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).
		Where("filename = ?", filename).
		Order("upload_date DESC").
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to load document").WithCause(err)
	}
	return &doc, nil
}

// List 分页获取文档列表，status为空时不过滤
func (r *documentRepository) List(ctx context.Context, page, limit int, status string) ([]models.Document, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var docs []models.Document
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Document{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("upload_date DESC").Offset(offset).Limit(limit).Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// UpdateStatus 更新状态与错误信息
func (r *documentRepository) UpdateStatus(ctx context.Context, id int64, status, errorMessage string) error {
	result := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to update document status").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrDocumentNotFound
	}
	return nil
}

// Delete 删除文档记录
func (r *documentRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&models.Document{}, id).Error
}
