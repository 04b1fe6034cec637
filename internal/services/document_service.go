package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/models"
	"github.com/aihub/docsearch/internal/repository"
	"github.com/aihub/docsearch/internal/storage"
	"go.uber.org/zap"
)

// UploadRequest 上传参数
type UploadRequest struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// DefaultStaleProcessing 未启用 Redis 时，processing 状态超过该时长未更新视为处理已中断
const DefaultStaleProcessing = 10 * time.Minute

// DocumentService 文档记录管理与任务投递
type DocumentService struct {
	repo       repository.DocumentRepository
	blobs      storage.BlobStore
	queue      JobQueue
	cache      *RedisStatusCache
	staleAfter time.Duration
}

// NewDocumentService 创建文档服务，cache 可为 nil
func NewDocumentService(repo repository.DocumentRepository, blobs storage.BlobStore, queue JobQueue, cache *RedisStatusCache) *DocumentService {
	return &DocumentService{repo: repo, blobs: blobs, queue: queue, cache: cache, staleAfter: DefaultStaleProcessing}
}

// SetStaleAfter 设置 processing 状态的过期时长，通常与处理锁 TTL 一致
func (s *DocumentService) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.staleAfter = d
	}
}

// Upload 保存文件、创建 pending 记录并投递处理任务
func (s *DocumentService) Upload(ctx context.Context, req UploadRequest) (*models.Document, error) {
	filename := filepath.Base(req.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		return nil, apperrors.NewInvalidInputError("filename", "must not be empty")
	}
	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.ContentTypeFor(filename)
	}
	if !knowledge.IsSupportedContentType(contentType) {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeInvalidFileFormat,
			fmt.Sprintf("unsupported content type %q", contentType))
	}

	key, err := s.blobs.Put(ctx, filename, req.Body, req.Size, contentType)
	if err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeStorageWrite, "failed to store file").WithCause(err)
	}

	doc := &models.Document{
		Filename:    filename,
		FilePath:    key,
		ContentType: contentType,
		FileSize:    req.Size,
		UploadDate:  time.Now(),
		Status:      models.DocumentStatusPending,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		_ = s.blobs.Delete(context.WithoutCancel(ctx), key)
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to create document record").WithCause(err)
	}
	s.cache.StatusChanged(ctx, doc.ID, doc.Status, "")

	if err := s.queue.Enqueue(ctx, IngestJob{DocumentID: doc.ID, FilePath: key, ContentType: contentType}); err != nil {
		logger.Error("failed to enqueue document", zap.Int64("documentID", doc.ID), zap.Error(err))
		return doc, apperrors.NewSystemError(apperrors.ErrCodeExternalService, "document stored but could not be queued").WithCause(err)
	}

	logger.Info("document uploaded",
		zap.Int64("documentID", doc.ID),
		zap.String("filename", filename),
		zap.String("contentType", contentType))
	return doc, nil
}

// Reprocess 将文档重置为 pending 并重新投递。
// processing 状态的文档只有在没有 worker 持有时才能重置，否则返回冲突
func (s *DocumentService) Reprocess(ctx context.Context, id int64) (*models.Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.DocumentStatusProcessing {
		if err := s.ensureAbandoned(ctx, doc); err != nil {
			return nil, err
		}
	}

	sm := NewDocumentStateMachine(s.repo, s.cache)
	if err := sm.Transition(ctx, id, models.DocumentStatusPending, ""); err != nil {
		return nil, err
	}
	doc, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, IngestJob{DocumentID: doc.ID, FilePath: doc.FilePath, ContentType: doc.ContentType}); err != nil {
		return doc, apperrors.NewSystemError(apperrors.ErrCodeExternalService, "failed to queue document").WithCause(err)
	}
	return doc, nil
}

// ensureAbandoned 确认 processing 中的文档已无人处理：有 Redis 时看处理锁，否则看状态更新时间
func (s *DocumentService) ensureAbandoned(ctx context.Context, doc *models.Document) error {
	held, known, err := s.cache.LockHeld(ctx, doc.ID)
	if err != nil {
		return apperrors.NewSystemError(apperrors.ErrCodeExternalService, "failed to check document lock").WithCause(err)
	}
	if known {
		if held {
			return apperrors.NewBusinessError(apperrors.ErrCodeInvalidState, "document is being processed")
		}
		logger.Warn("resetting interrupted document", zap.Int64("documentID", doc.ID))
		return nil
	}
	if time.Since(doc.UpdatedAt) < s.staleAfter {
		return apperrors.NewBusinessError(apperrors.ErrCodeInvalidState, "document is being processed")
	}
	logger.Warn("resetting stale document", zap.Int64("documentID", doc.ID), zap.Time("updatedAt", doc.UpdatedAt))
	return nil
}

// Get 获取文档记录
func (s *DocumentService) Get(ctx context.Context, id int64) (*models.Document, error) {
	return s.repo.GetByID(ctx, id)
}

// List 按上传时间倒序分页
func (s *DocumentService) List(ctx context.Context, page, limit int, status string) ([]models.Document, int64, error) {
	return s.repo.List(ctx, page, limit, status)
}

// Status 优先读缓存，未命中时读数据库
func (s *DocumentService) Status(ctx context.Context, id int64) (*DocumentStatus, error) {
	if st, err := s.cache.Get(ctx, id); err == nil && st != nil {
		return st, nil
	}
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DocumentStatus{
		DocumentID:   doc.ID,
		Status:       doc.Status,
		ErrorMessage: doc.ErrorMessage,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}
