package services

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/metrics"
	"github.com/aihub/docsearch/internal/ollama"
	"go.uber.org/zap"
)

const (
	// NoRelevantInfoAnswer 检索为空时的固定回答，不调用模型
	NoRelevantInfoAnswer = "I couldn't find any relevant information in the document."
	// NotInDocumentAnswer 模型无法从上下文作答时的回答
	NotInDocumentAnswer = "I could not find the answer in the provided document."
)

const answerPromptTemplate = `
You are an answer extraction model.

Use ONLY the information inside the context to answer the question.
If the answer is not explicitly stated in the context, respond exactly with:
"%s"
Never use phrases such as "according to the context" or "based on the document".
Return a concise statement (one or two sentences max).

CONTEXT:
%s

QUESTION:
%s

ANSWER:
`

var bannedAnswerPrefixes = []string{
	"according to the context",
	"based on the context",
	"according to the document",
	"based on the document",
}

// Searcher 文档范围内的检索
type Searcher interface {
	Search(ctx context.Context, selector, query string) ([]knowledge.RankedResult, error)
}

// AnswerResult 问答结果
type AnswerResult struct {
	Answer  string                   `json:"answer"`
	Sources []knowledge.RankedResult `json:"sources,omitempty"`
}

// AnswerService 检索增强问答
type AnswerService struct {
	searcher      Searcher
	llm           ollama.Generator
	model         string
	fallbackModel string
}

// NewAnswerService 创建问答服务；fallbackModel 为空或与主模型相同时不做回退
func NewAnswerService(searcher Searcher, llm ollama.Generator, model, fallbackModel string) *AnswerService {
	return &AnswerService{
		searcher:      searcher,
		llm:           llm,
		model:         model,
		fallbackModel: fallbackModel,
	}
}

// Search 透传检索
func (s *AnswerService) Search(ctx context.Context, selector, query string) ([]knowledge.RankedResult, error) {
	return s.searcher.Search(ctx, selector, query)
}

// Answer 检索后用模型抽取答案。模型错误以 AppError 返回，同时返回以 Message 为答案的结果
func (s *AnswerService) Answer(ctx context.Context, selector, query string) (*AnswerResult, error) {
	results, err := s.searcher.Search(ctx, selector, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &AnswerResult{Answer: NoRelevantInfoAnswer}, nil
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	contextText := strings.Join(texts, "\n\n")

	answer, err := s.generate(ctx, query, contextText)
	if err != nil {
		// 携带面向用户的说明与检索来源，由调用方决定是否作为答案返回
		return &AnswerResult{Answer: apperrors.GetAppError(err).Message, Sources: results}, err
	}
	return &AnswerResult{Answer: answer, Sources: results}, nil
}

func (s *AnswerService) generate(ctx context.Context, question, contextText string) (string, error) {
	if contextText == "" {
		return NotInDocumentAnswer, nil
	}

	prompt := BuildAnswerPrompt(question, contextText)
	models := []string{s.model}
	if s.fallbackModel != "" && s.fallbackModel != s.model {
		models = append(models, s.fallbackModel)
	}

	var lastErr error
	for _, model := range models {
		raw, err := s.llm.Generate(ctx, model, prompt)
		if err == nil {
			metrics.LLMRequests.WithLabelValues(model, "success").Inc()
			return SanitizeAnswer(raw), nil
		}
		metrics.LLMRequests.WithLabelValues(model, outcomeLabel(err)).Inc()
		logger.Warn("llm generate failed", zap.String("model", model), zap.Error(err))
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// IsAnswerableLLMError 模型缺失或空响应时，说明文字本身即可作为答案返回
func IsAnswerableLLMError(err error) bool {
	return apperrors.HasCode(err, apperrors.ErrCodeLLMModelNotFound) ||
		apperrors.HasCode(err, apperrors.ErrCodeLLMEmptyResponse)
}

func outcomeLabel(err error) string {
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeLLMModelNotFound):
		return "model_not_found"
	case apperrors.HasCode(err, apperrors.ErrCodeLLMEmptyResponse):
		return "empty"
	default:
		return "unreachable"
	}
}

// BuildAnswerPrompt 构造只允许依据上下文作答的提示词
func BuildAnswerPrompt(question, contextText string) string {
	return fmt.Sprintf(answerPromptTemplate, NotInDocumentAnswer, contextText, question)
}

// SanitizeAnswer 去掉 "according to the context" 一类开头，结果为空时返回拒答句
func SanitizeAnswer(answer string) string {
	cleaned := strings.TrimSpace(answer)
	lowered := strings.ToLower(cleaned)
	for _, prefix := range bannedAnswerPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			cleaned = strings.TrimLeft(cleaned[len(prefix):], ", .:-")
			break
		}
	}
	if cleaned == "" {
		return NotInDocumentAnswer
	}
	return cleaned
}
