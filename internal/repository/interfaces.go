package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/docsearch/internal/models"
)

// Repository 基础仓库接口
type Repository interface {
	GetDB() *gorm.DB
}

// DocumentRepository 文档仓库接口
type DocumentRepository interface {
	Repository
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id int64) (*models.Document, error)
	GetByFilename(ctx context.Context, filename string) (*models.Document, error)
	List(ctx context.Context, page, limit int, status string) ([]models.Document, int64, error)
	// UpdateStatus 只更新状态与错误信息
	UpdateStatus(ctx context.Context, id int64, status, errorMessage string) error
	Delete(ctx context.Context, id int64) error
}
