package ollama

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docsearch/internal/errors"
)

type scriptedGenerator struct {
	errs  []error
	calls int
}

func (g *scriptedGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	g.calls++
	if len(g.errs) == 0 {
		return "ok", nil
	}
	err := g.errs[0]
	g.errs = g.errs[1:]
	if err != nil {
		return "", err
	}
	return "ok", nil
}

const testCooldown = 50 * time.Millisecond

func newTestBreaker(next Generator) *BreakerGenerator {
	return NewBreakerGenerator(next, 2, testCooldown).(*BreakerGenerator)
}

func TestBreakerOpensAfterUnreachableFailures(t *testing.T) {
	unreachable := communicationError(errors.New("connection refused"))
	gen := &scriptedGenerator{errs: []error{unreachable, unreachable}}
	b := newTestBreaker(gen)

	for i := 0; i < 2; i++ {
		_, err := b.Generate(context.Background(), "m", "p")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Generate(context.Background(), "m", "p")
	assert.ErrorIs(t, err, apperrors.ErrLLMUnreachable)
	assert.Equal(t, "Error communicating with LLM: too many recent failures, retry later", apperrors.GetAppError(err).Message)
	assert.Equal(t, 2, gen.calls, "open circuit must not reach the server")

	// 冷却结束后半开探测成功即关闭
	time.Sleep(2 * testCooldown)
	out, err := b.Generate(context.Background(), "m", "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerIgnoresModelErrors(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{ModelNotFoundError("m"), apperrors.ErrLLMEmpty, ModelNotFoundError("m")}}
	b := newTestBreaker(gen)

	for i := 0; i < 3; i++ {
		_, err := b.Generate(context.Background(), "m", "p")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, gen.calls)
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	unreachable := communicationError(context.Canceled)
	gen := &scriptedGenerator{errs: []error{unreachable, unreachable, unreachable}}
	b := newTestBreaker(gen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := b.Generate(ctx, "m", "p")
		assert.ErrorIs(t, err, apperrors.ErrLLMUnreachable)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	unreachable := communicationError(errors.New("connection refused"))
	gen := &scriptedGenerator{errs: []error{unreachable, unreachable, unreachable}}
	b := newTestBreaker(gen)

	_, _ = b.Generate(context.Background(), "m", "p")
	_, _ = b.Generate(context.Background(), "m", "p")
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(2 * testCooldown)
	_, err := b.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, 3, gen.calls)
}

func TestBreakerDisabled(t *testing.T) {
	gen := &scriptedGenerator{}
	assert.Same(t, gen, NewBreakerGenerator(gen, 0, time.Minute))
}
