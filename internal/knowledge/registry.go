package knowledge

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/aihub/docsearch/internal/logger"
)

// lazy 首次使用时初始化，失败不缓存，下次调用重试
type lazy[T any] struct {
	mu     sync.Mutex
	init   func() (T, error)
	val    T
	loaded bool
}

func (l *lazy[T]) get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.val, nil
	}
	v, err := l.init()
	if err != nil {
		var zero T
		return zero, err
	}
	l.val, l.loaded = v, true
	return v, nil
}

func (l *lazy[T]) peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.loaded
}

// ModelLoaders 各模型的构造函数
type ModelLoaders struct {
	Embedder     func() (Embedder, error)
	CrossEncoder func() (CrossEncoder, error)
	OCR          func() (OCREngine, error)
}

// ModelRegistry 进程级模型注册表。
// 模型在首次使用时加载一次，之后所有调用方共享同一实例。
type ModelRegistry struct {
	embedder     *lazy[Embedder]
	crossEncoder *lazy[CrossEncoder]
	ocr          *lazy[OCREngine]
}

// NewModelRegistry 创建模型注册表
func NewModelRegistry(loaders ModelLoaders) *ModelRegistry {
	if loaders.Embedder == nil {
		loaders.Embedder = func() (Embedder, error) { return &NoopEmbedder{}, nil }
	}
	if loaders.CrossEncoder == nil {
		loaders.CrossEncoder = func() (CrossEncoder, error) { return nil, errors.New("cross-encoder not configured") }
	}
	if loaders.OCR == nil {
		loaders.OCR = func() (OCREngine, error) { return NoopOCR{}, nil }
	}
	return &ModelRegistry{
		embedder:     &lazy[Embedder]{init: withLoadLog("embedder", loaders.Embedder)},
		crossEncoder: &lazy[CrossEncoder]{init: withLoadLog("cross-encoder", loaders.CrossEncoder)},
		ocr:          &lazy[OCREngine]{init: withLoadLog("ocr", loaders.OCR)},
	}
}

func withLoadLog[T any](name string, load func() (T, error)) func() (T, error) {
	return func() (T, error) {
		logger.Info("loading model", zap.String("model", name))
		v, err := load()
		if err != nil {
			logger.Error("failed to load model", zap.String("model", name), zap.Error(err))
		}
		return v, err
	}
}

// Embedder 返回延迟加载的向量化器
func (r *ModelRegistry) Embedder() Embedder {
	return lazyEmbedder{r.embedder}
}

// CrossEncoder 返回延迟加载的交叉编码器
func (r *ModelRegistry) CrossEncoder() CrossEncoder {
	return lazyCrossEncoder{r.crossEncoder}
}

// OCR 返回延迟加载的OCR引擎
func (r *ModelRegistry) OCR() OCREngine {
	return lazyOCR{r.ocr}
}

// Close 释放已加载模型持有的资源
func (r *ModelRegistry) Close() error {
	var errs []error
	if v, ok := r.ocr.peek(); ok {
		if c, ok := v.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	if v, ok := r.crossEncoder.peek(); ok {
		if c, ok := v.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

type lazyEmbedder struct{ l *lazy[Embedder] }

func (e lazyEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	m, err := e.l.get()
	if err != nil {
		return nil, err
	}
	return m.EmbedDocuments(ctx, texts)
}

func (e lazyEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m, err := e.l.get()
	if err != nil {
		return nil, err
	}
	return m.EmbedQuery(ctx, text)
}

func (e lazyEmbedder) Dimensions() int {
	if m, ok := e.l.peek(); ok {
		return m.Dimensions()
	}
	return 0
}

func (e lazyEmbedder) Ready() bool {
	m, err := e.l.get()
	return err == nil && m.Ready()
}

type lazyCrossEncoder struct{ l *lazy[CrossEncoder] }

func (c lazyCrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	m, err := c.l.get()
	if err != nil {
		return nil, err
	}
	return m.Score(ctx, query, texts)
}

type lazyOCR struct{ l *lazy[OCREngine] }

func (o lazyOCR) Recognize(ctx context.Context, data []byte) (string, error) {
	m, err := o.l.get()
	if err != nil {
		return "", err
	}
	return m.Recognize(ctx, data)
}

func (o lazyOCR) Ready() bool {
	m, err := o.l.get()
	return err == nil && m.Ready()
}
