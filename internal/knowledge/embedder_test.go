package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbeddingServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-m3", req.Model)

		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{3, 4},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbedder_NormalizesAndBatches(t *testing.T) {
	var calls atomic.Int32
	server := newEmbeddingServer(t, &calls)
	defer server.Close()

	emb, err := NewOpenAIEmbedder(EmbeddingOptions{
		BaseURL:   server.URL + "/v1",
		Model:     "bge-m3",
		BatchSize: 2,
	})
	require.NoError(t, err)

	vectors, err := emb.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, int32(2), calls.Load())
	for _, v := range vectors {
		assert.InDelta(t, 0.6, v[0], 1e-6)
		assert.InDelta(t, 0.8, v[1], 1e-6)
	}
	assert.Equal(t, 2, emb.Dimensions())

	q, err := emb.EmbedQuery(context.Background(), "question")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorNorm(q), 1e-6)
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	server := newEmbeddingServer(t, &calls)
	defer server.Close()

	emb, err := NewOpenAIEmbedder(EmbeddingOptions{BaseURL: server.URL + "/v1", Model: "bge-m3", Dimension: 1024})
	require.NoError(t, err)

	_, err = emb.EmbedQuery(context.Background(), "question")
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
	v := Normalize([]float32{1, 2, 2})
	assert.InDelta(t, 1.0, vectorNorm(v), 1e-6)
	assert.InDelta(t, 1.0, CosineSimilarity(v, []float32{2, 4, 4}), 1e-6)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.False(t, math.IsNaN(CosineSimilarity([]float32{0, 0}, []float32{1, 1})))
}

type countingEmbedder struct{ *NoopEmbedder }

func (countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (countingEmbedder) Ready() bool { return true }

func TestModelRegistry_LoadsOnceUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	reg := NewModelRegistry(ModelLoaders{
		Embedder: func() (Embedder, error) {
			loads.Add(1)
			return countingEmbedder{&NoopEmbedder{}}, nil
		},
	})
	emb := reg.Embedder()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := emb.EmbedQuery(context.Background(), "q")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	assert.True(t, emb.Ready())
}

func TestModelRegistry_RetriesFailedLoad(t *testing.T) {
	attempts := 0
	reg := NewModelRegistry(ModelLoaders{
		Embedder: func() (Embedder, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("model server starting")
			}
			return countingEmbedder{&NoopEmbedder{}}, nil
		},
	})

	_, err := reg.Embedder().EmbedQuery(context.Background(), "q")
	assert.Error(t, err)
	_, err = reg.Embedder().EmbedQuery(context.Background(), "q")
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
