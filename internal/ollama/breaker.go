package ollama

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/logger"
)

// ErrCircuitOpen 熔断期间直接拒绝调用
var ErrCircuitOpen = apperrors.ErrLLMUnreachable.WithMessage(
	"Error communicating with LLM: too many recent failures, retry later")

// BreakerGenerator 在连续通信失败后暂停调用 LLM 服务。
// 只有不可达类错误计入失败，模型不存在与空响应说明服务本身可用。
type BreakerGenerator struct {
	next Generator
	cb   *gobreaker.CircuitBreaker[string]
}

// callerAborted 标记调用方取消导致的失败，不计入熔断统计
type callerAborted struct{ err error }

func (c callerAborted) Error() string { return c.err.Error() }
func (c callerAborted) Unwrap() error { return c.err }

// NewBreakerGenerator 包装生成器；threshold <= 0 时不启用熔断
func NewBreakerGenerator(next Generator, threshold int, cooldown time.Duration) Generator {
	if threshold <= 0 {
		return next
	}
	settings := gobreaker.Settings{
		Name:        "ollama",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Warn("llm circuit opened", zap.String("from", from.String()), zap.Duration("cooldown", cooldown))
				return
			}
			logger.Info("llm circuit state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerGenerator{next: next, cb: gobreaker.NewCircuitBreaker[string](settings)}
}

func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var aborted callerAborted
	if errors.As(err, &aborted) {
		return true
	}
	return !errors.Is(err, apperrors.ErrLLMUnreachable)
}

// Generate 实现 Generator
func (b *BreakerGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		out, err := b.next.Generate(ctx, model, prompt)
		if err != nil && ctx.Err() != nil {
			return out, callerAborted{err: err}
		}
		return out, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", ErrCircuitOpen
	}
	var aborted callerAborted
	if errors.As(err, &aborted) {
		return out, aborted.err
	}
	return out, err
}

// State 当前状态
func (b *BreakerGenerator) State() gobreaker.State {
	return b.cb.State()
}
