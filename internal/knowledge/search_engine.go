package knowledge

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/metrics"
)

// DefaultSearchTopK 向量召回数量上限
const DefaultSearchTopK = 10

// ParseSelector 解析文档选择器：能解析为整数时按文档ID过滤，否则按文件名过滤
func ParseSelector(selector string) (MetadataFilter, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return MetadataFilter{}, apperrors.NewBusinessError(apperrors.ErrCodeInvalidSelector, "document selector is empty")
	}
	if id, err := strconv.ParseInt(selector, 10, 64); err == nil {
		return FilterByDocumentID(id), nil
	}
	return FilterBySource(selector), nil
}

// SearchEngine 两阶段检索：向量召回 + 交叉编码器重排
type SearchEngine struct {
	embedder Embedder
	index    VectorIndex
	reranker *Reranker
	topK     int
}

// NewSearchEngine 创建检索引擎
func NewSearchEngine(embedder Embedder, index VectorIndex, reranker *Reranker, topK int) *SearchEngine {
	if topK <= 0 {
		topK = DefaultSearchTopK
	}
	return &SearchEngine{
		embedder: embedder,
		index:    index,
		reranker: reranker,
		topK:     topK,
	}
}

// Search 在单个文档范围内检索并重排
func (e *SearchEngine) Search(ctx context.Context, selector, query string) ([]RankedResult, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	filter, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewInvalidInputError("query", "must not be empty")
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeEmbeddingFailed, "failed to embed query").WithCause(err)
	}

	candidates, err := e.index.Query(ctx, vector, e.topK, filter)
	if err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeIndexQuery, "vector index query failed").WithCause(err)
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	results, err := e.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeRerankFailed, "rerank failed").WithCause(err)
	}

	logger.Debug("search completed",
		zap.String("filter", filter.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

// Sources 列出已建立索引的文件名
func (e *SearchEngine) Sources(ctx context.Context) ([]string, error) {
	return e.index.Sources(ctx)
}
