package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/ollama"
)

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, selector, query string) ([]knowledge.RankedResult, error) {
	args := m.Called(ctx, selector, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]knowledge.RankedResult), args.Error(1)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	args := m.Called(ctx, model, prompt)
	return args.String(0), args.Error(1)
}

func TestAnswer_NoCandidatesSkipsLLM(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, "7", "what is revenue?").Return([]knowledge.RankedResult{}, nil)
	llm := new(mockGenerator)

	svc := NewAnswerService(searcher, llm, "llama3", "llama3:latest")
	res, err := svc.Answer(context.Background(), "7", "what is revenue?")

	require.NoError(t, err)
	assert.Equal(t, NoRelevantInfoAnswer, res.Answer)
	assert.Empty(t, res.Sources)
	llm.AssertNumberOfCalls(t, "Generate", 0)
}

func TestAnswer_BuildsContextAndSanitizes(t *testing.T) {
	results := []knowledge.RankedResult{
		{Score: 0.9, Text: "Revenue was 10M."},
		{Score: 0.5, Text: "Costs were 4M."},
	}
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, "report.pdf", "revenue?").Return(results, nil)

	llm := new(mockGenerator)
	llm.On("Generate", mock.Anything, "llama3", mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "CONTEXT:\nRevenue was 10M.\n\nCosts were 4M.\n") &&
			strings.Contains(p, "QUESTION:\nrevenue?")
	})).Return("According to the context, revenue was 10M.", nil)

	svc := NewAnswerService(searcher, llm, "llama3", "")
	res, err := svc.Answer(context.Background(), "report.pdf", "revenue?")

	require.NoError(t, err)
	assert.Equal(t, "revenue was 10M.", res.Answer)
	assert.Equal(t, results, res.Sources)
	llm.AssertNumberOfCalls(t, "Generate", 1)
}

func TestAnswer_FallsBackToSecondModel(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, "7", "q").Return([]knowledge.RankedResult{{Score: 1, Text: "ctx"}}, nil)

	llm := new(mockGenerator)
	llm.On("Generate", mock.Anything, "llama3.1:8b", mock.Anything).Return("", ollama.ModelNotFoundError("llama3.1:8b"))
	llm.On("Generate", mock.Anything, "llama3:latest", mock.Anything).Return("It is ctx.", nil)

	svc := NewAnswerService(searcher, llm, "llama3.1:8b", "llama3:latest")
	res, err := svc.Answer(context.Background(), "7", "q")

	require.NoError(t, err)
	assert.Equal(t, "It is ctx.", res.Answer)
	llm.AssertNumberOfCalls(t, "Generate", 2)
}

func TestAnswer_AllModelsFailReturnsLastError(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, "7", "q").Return([]knowledge.RankedResult{{Score: 1, Text: "ctx"}}, nil)

	unreachable := apperrors.ErrLLMUnreachable.WithMessage("Error communicating with LLM: connection refused")
	llm := new(mockGenerator)
	llm.On("Generate", mock.Anything, "a", mock.Anything).Return("", ollama.ModelNotFoundError("a"))
	llm.On("Generate", mock.Anything, "b", mock.Anything).Return("", unreachable)

	svc := NewAnswerService(searcher, llm, "a", "b")
	_, err := svc.Answer(context.Background(), "7", "q")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrLLMUnreachable)
	assert.Equal(t, "Error communicating with LLM: connection refused", apperrors.GetAppError(err).Message)
}

func TestAnswer_MissingModelKeepsMessageAndSources(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, "7", "q").Return([]knowledge.RankedResult{{Score: 1, Text: "ctx"}}, nil)
	llm := new(mockGenerator)
	llm.On("Generate", mock.Anything, "a", mock.Anything).Return("", ollama.ModelNotFoundError("a"))

	res, err := NewAnswerService(searcher, llm, "a", "").Answer(context.Background(), "7", "q")

	require.Error(t, err)
	assert.True(t, IsAnswerableLLMError(err))
	require.NotNil(t, res)
	assert.Equal(t, "Model 'a' is not available. Run: ollama pull a", res.Answer)
	assert.Len(t, res.Sources, 1)
}

func TestIsAnswerableLLMError(t *testing.T) {
	assert.True(t, IsAnswerableLLMError(apperrors.ErrLLMEmpty))
	assert.True(t, IsAnswerableLLMError(ollama.ModelNotFoundError("x")))
	assert.False(t, IsAnswerableLLMError(ollama.ErrCircuitOpen))
	assert.False(t, IsAnswerableLLMError(apperrors.ErrLLMUnreachable))
	assert.False(t, IsAnswerableLLMError(context.Canceled))
}

func TestAnswer_SameFallbackModelIsNotRetried(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, "7", "q").Return([]knowledge.RankedResult{{Score: 1, Text: "ctx"}}, nil)
	llm := new(mockGenerator)
	llm.On("Generate", mock.Anything, "a", mock.Anything).Return("", apperrors.ErrLLMEmpty)

	svc := NewAnswerService(searcher, llm, "a", "a")
	_, err := svc.Answer(context.Background(), "7", "q")

	assert.ErrorIs(t, err, apperrors.ErrLLMEmpty)
	llm.AssertNumberOfCalls(t, "Generate", 1)
}

func TestAnswer_SearchErrorPropagates(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, "", "q").Return(nil,
		apperrors.NewBusinessError(apperrors.ErrCodeInvalidSelector, "document selector is empty"))
	llm := new(mockGenerator)

	_, err := NewAnswerService(searcher, llm, "a", "").Answer(context.Background(), "", "q")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSelector))
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestSanitizeAnswer(t *testing.T) {
	tests := map[string]string{
		"Based on the document: the total is 5.": "the total is 5.",
		"according to the context - Paris":       "Paris",
		"  The answer is 42.  ":                  "The answer is 42.",
		"Based on the context.":                  NotInDocumentAnswer,
		"":                                       NotInDocumentAnswer,
		"Contextually, based on the document":    "Contextually, based on the document",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeAnswer(in), in)
	}
}

func TestBuildAnswerPrompt(t *testing.T) {
	p := BuildAnswerPrompt("Who?", "Alice wrote it.")
	assert.Contains(t, p, `"`+NotInDocumentAnswer+`"`)
	assert.Contains(t, p, "CONTEXT:\nAlice wrote it.\n\nQUESTION:\nWho?\n\nANSWER:")
}
