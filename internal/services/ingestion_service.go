package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/metrics"
	"github.com/aihub/docsearch/internal/models"
	"github.com/aihub/docsearch/internal/repository"
	"github.com/aihub/docsearch/internal/storage"
	"go.uber.org/zap"
)

// AttemptOutcome 单次处理尝试的结果类别
type AttemptOutcome int

const (
	AttemptSucceeded AttemptOutcome = iota
	AttemptRetryable
	AttemptFatal
)

func (o AttemptOutcome) String() string {
	switch o {
	case AttemptSucceeded:
		return "success"
	case AttemptRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// AttemptResult 单次处理尝试的结果，由调用方决定是否重试
type AttemptResult struct {
	Outcome AttemptOutcome
	Chunks  int
	Err     error
}

// IngestJob 处理任务
type IngestJob struct {
	DocumentID  int64  `json:"document_id"`
	FilePath    string `json:"file_path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// WorkerEnv 每个 worker 独立持有的数据库会话与索引句柄
type WorkerEnv struct {
	Docs  repository.DocumentRepository
	Index knowledge.VectorIndex
}

// TextExtractor 文本抽取
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) string
}

// IngestionService 文档处理：抽取、切分、向量化、写入索引
type IngestionService struct {
	blobs     storage.BlobStore
	extractor TextExtractor
	chunker   *knowledge.Chunker
	embedder  knowledge.Embedder
	observer  StatusObserver
	detect    func(string) string
}

// NewIngestionService 创建文档处理服务
func NewIngestionService(blobs storage.BlobStore, extractor TextExtractor, chunker *knowledge.Chunker, embedder knowledge.Embedder, observer StatusObserver) *IngestionService {
	if chunker == nil {
		chunker = knowledge.NewChunker(knowledge.DefaultChunkSize, knowledge.DefaultChunkOverlap)
	}
	return &IngestionService{
		blobs:     blobs,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		observer:  observer,
		detect:    knowledge.DetectLanguage,
	}
}

// Attempt 执行一次完整处理。进入时立即写入 processing，
// 成功写入 completed 并清空错误，失败写入 failed 与错误信息。
func (s *IngestionService) Attempt(ctx context.Context, env WorkerEnv, job IngestJob) AttemptResult {
	start := time.Now()
	sm := NewDocumentStateMachine(env.Docs, s.observer)
	// 状态写入不随任务取消而丢失
	statusCtx := context.WithoutCancel(ctx)

	doc, err := env.Docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrDocumentNotFound) {
			logger.Warn("document record missing, dropping job", zap.Int64("documentID", job.DocumentID))
			return s.finish(AttemptResult{Outcome: AttemptFatal, Err: err}, start)
		}
		return s.finish(AttemptResult{Outcome: AttemptRetryable, Err: err}, start)
	}

	if err := sm.Transition(statusCtx, doc.ID, models.DocumentStatusProcessing, ""); err != nil {
		outcome := AttemptRetryable
		if apperrors.HasCode(err, apperrors.ErrCodeDocumentNotFound) {
			outcome = AttemptFatal
		}
		return s.finish(AttemptResult{Outcome: outcome, Err: err}, start)
	}

	n, err := s.index(ctx, env.Index, doc, job)
	if err != nil {
		outcome := AttemptRetryable
		if errors.Is(err, fs.ErrNotExist) {
			outcome = AttemptFatal
		}
		if serr := sm.Transition(statusCtx, doc.ID, models.DocumentStatusFailed, err.Error()); serr != nil {
			logger.Error("failed to record document failure", zap.Int64("documentID", doc.ID), zap.Error(serr))
		}
		logger.Warn("document processing attempt failed",
			zap.Int64("documentID", doc.ID),
			zap.String("outcome", outcome.String()),
			zap.Error(err))
		return s.finish(AttemptResult{Outcome: outcome, Err: err}, start)
	}

	if err := sm.Transition(statusCtx, doc.ID, models.DocumentStatusCompleted, ""); err != nil {
		return s.finish(AttemptResult{Outcome: AttemptRetryable, Chunks: n, Err: err}, start)
	}

	metrics.IngestChunks.Observe(float64(n))
	logger.Info("document processed",
		zap.Int64("documentID", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", n),
		zap.Duration("elapsed", time.Since(start)))
	return s.finish(AttemptResult{Outcome: AttemptSucceeded, Chunks: n}, start)
}

func (s *IngestionService) finish(res AttemptResult, start time.Time) AttemptResult {
	metrics.IngestAttempts.WithLabelValues(res.Outcome.String()).Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	return res
}

func (s *IngestionService) index(ctx context.Context, index knowledge.VectorIndex, doc *models.Document, job IngestJob) (int, error) {
	path, contentType := doc.FilePath, doc.ContentType
	if job.FilePath != "" {
		path = job.FilePath
	}
	if job.ContentType != "" {
		contentType = job.ContentType
	}

	data, err := s.blobs.Get(ctx, path)
	if err != nil {
		return 0, apperrors.NewSystemError(apperrors.ErrCodeStorageRead, "failed to read stored file").WithCause(err)
	}

	text := s.extractor.ExtractText(ctx, data, contentType)
	lang := s.detect(text)

	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, apperrors.ErrNoChunks
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, apperrors.NewSystemError(apperrors.ErrCodeEmbeddingFailed, "failed to embed chunks").WithCause(err)
	}
	if len(vectors) != len(chunks) {
		return 0, apperrors.NewSystemError(apperrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	entries := make([]knowledge.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = knowledge.IndexEntry{
			ID:     knowledge.ChunkID(doc.ID, c.Index),
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: knowledge.EntryMetadata{
				Source:     doc.Filename,
				SQLDocID:   doc.ID,
				Lang:       lang,
				ChunkIndex: c.Index,
			},
		}
	}
	if err := index.Upsert(ctx, entries); err != nil {
		return 0, apperrors.NewSystemError(apperrors.ErrCodeIndexWrite, "failed to write vector index").WithCause(err)
	}
	return len(entries), nil
}
