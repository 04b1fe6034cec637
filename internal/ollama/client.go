package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/logger"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultTimeout = 60 * time.Second
)

// Generator 单次补全调用
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Client Ollama /api/generate 客户端
type Client struct {
	api         *api.Client
	timeout     time.Duration
	temperature float64
}

// NewClient 创建客户端；timeout 约束每次调用的总时长
func NewClient(baseURL string, timeout time.Duration, temperature float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		logger.Warn("invalid Ollama URL, using default", zap.String("url", baseURL), zap.Error(err))
		base, _ = url.Parse(DefaultBaseURL)
	}
	return &Client{
		api:         api.NewClient(base, &http.Client{}),
		timeout:     timeout,
		temperature: temperature,
	}
}

// Generate 非流式生成。模型不存在、通信失败、空响应分别返回不同的错误码
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream := false
	req := &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: map[string]any{"temperature": c.temperature},
	}

	start := time.Now()
	var out strings.Builder
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		if isModelNotFound(err) {
			logger.Warn("Ollama model not found", zap.String("model", model), zap.Error(err))
			return "", ModelNotFoundError(model)
		}
		return "", communicationError(err)
	}

	answer := strings.TrimSpace(out.String())
	if answer == "" {
		return "", apperrors.ErrLLMEmpty
	}

	logger.Debug("Ollama generate finished",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("answer_len", len(answer)))
	return answer, nil
}

// isModelNotFound 404状态，或服务端以错误体返回的 "model ... not found"
func isModelNotFound(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusNotFound
	}
	msg := strings.ToLower(err.Error())
	return strings.HasPrefix(msg, "model ") && strings.Contains(msg, "not found")
}

// ModelNotFoundError 模型未拉取
func ModelNotFoundError(model string) *apperrors.AppError {
	return apperrors.ErrLLMModelNotFound.WithDetails(model).WithMessage(
		fmt.Sprintf("Model '%s' is not available. Run: ollama pull %s", model, model))
}

func communicationError(err error) *apperrors.AppError {
	detail := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		detail = "request timed out"
	}
	return apperrors.ErrLLMUnreachable.WithMessage("Error communicating with LLM: " + detail).WithCause(err)
}
