package controllers

import (
	"context"
	"net/http"
	"sort"
	"strings"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/services"
)

// AnswerAPI 检索与问答服务
type AnswerAPI interface {
	Search(ctx context.Context, selector, query string) ([]knowledge.RankedResult, error)
	Answer(ctx context.Context, selector, query string) (*services.AnswerResult, error)
}

// SourceLister 列出已索引的文件名
type SourceLister interface {
	Sources(ctx context.Context) ([]string, error)
}

// SearchController 检索控制器
type SearchController struct {
	BaseController
	Answers AnswerAPI
	Index   SourceLister
}

// NewSearchController 创建检索控制器
func NewSearchController(answers AnswerAPI, index SourceLister) *SearchController {
	return &SearchController{Answers: answers, Index: index}
}

// params 读取 doc_id 与 query，缺失时写出400
func (c *SearchController) params() (string, string, bool) {
	selector := strings.TrimSpace(c.GetString("doc_id"))
	query := strings.TrimSpace(c.GetString("query"))
	if selector == "" || query == "" {
		c.JSONError(http.StatusBadRequest, "doc_id and query are required")
		return "", "", false
	}
	return selector, query, true
}

// Search 在单个文档内检索
func (c *SearchController) Search() {
	selector, query, ok := c.params()
	if !ok {
		return
	}

	results, err := c.Answers.Search(c.Ctx.Request.Context(), selector, query)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	var top interface{}
	if len(results) > 0 {
		top = results[0]
	}
	c.JSONSuccess(map[string]interface{}{
		"count":     len(results),
		"top_match": top,
		"results":   results,
	})
}

// Ask 基于检索结果生成答案，仅在无法连接模型时返回503，模型缺失等说明作为答案返回
func (c *SearchController) Ask() {
	selector, query, ok := c.params()
	if !ok {
		return
	}

	result, err := c.Answers.Answer(c.Ctx.Request.Context(), selector, query)
	if err != nil && (result == nil || !services.IsAnswerableLLMError(err)) {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(result)
}

// PDFList 列出已索引的PDF文件名
func (c *SearchController) PDFList() {
	sources, err := c.Index.Sources(c.Ctx.Request.Context())
	if err != nil {
		c.JSONAppError(apperrors.NewSystemError(apperrors.ErrCodeIndexQuery, "failed to list indexed files").WithCause(err))
		return
	}

	files := make([]string, 0, len(sources))
	for _, src := range sources {
		if strings.HasSuffix(strings.ToLower(src), ".pdf") {
			files = append(files, src)
		}
	}
	sort.Strings(files)
	c.JSONSuccess(map[string]interface{}{"files": files})
}
