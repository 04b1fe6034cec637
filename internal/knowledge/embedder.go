package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder 定义文本向量化接口，输出向量均已L2归一化
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding provider not configured")
}

func (n *NoopEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding provider not configured")
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

// EmbeddingOptions OpenAI兼容接口的向量化配置（OpenAI、Ollama /v1、TEI、vLLM）
type EmbeddingOptions struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
}

// OpenAIEmbedder 使用OpenAI兼容的Embedding API
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions atomic.Int64
	batchSize  int
}

// NewOpenAIEmbedder 创建嵌入向量生成器
func NewOpenAIEmbedder(opts EmbeddingOptions) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("embedding model is required")
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		// 本地服务不校验密钥，但客户端要求非空
		apiKey = "local"
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}

	e := &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		batchSize: opts.BatchSize,
	}
	e.dimensions.Store(int64(opts.Dimension))
	return e, nil
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is empty")
	}
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	want := int(e.dimensions.Load())
	out := make([][]float32, len(texts))
	for i, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		if want > 0 && len(item.Embedding) != want {
			return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(item.Embedding), want)
		}
		out[idx] = Normalize(item.Embedding)
	}
	if want == 0 && len(out) > 0 {
		e.dimensions.CompareAndSwap(0, int64(len(out[0])))
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}

// Normalize 返回L2归一化后的副本，零向量原样返回
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := vectorNorm(v)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity 计算余弦相似度，维度不一致或零向量返回0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	na, nb := vectorNorm(a), vectorNorm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}
