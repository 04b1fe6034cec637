package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultRerankTopN 重排序后保留的结果数
const DefaultRerankTopN = 5

// CrossEncoder 交叉编码器，对(query, text)成对打分，返回分数与texts一一对应
type CrossEncoder interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// RankedResult 重排序结果
type RankedResult struct {
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// Reranker 基于交叉编码器的重排序器
type Reranker struct {
	encoder CrossEncoder
	topN    int
}

// NewReranker 创建重排序器
func NewReranker(encoder CrossEncoder, topN int) *Reranker {
	if topN <= 0 {
		topN = DefaultRerankTopN
	}
	return &Reranker{encoder: encoder, topN: topN}
}

// Rerank 对候选文本打分并按分数降序返回前topN条。
// 空候选直接返回，不会触发模型加载。
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []string) ([]RankedResult, error) {
	if len(candidates) == 0 {
		return []RankedResult{}, nil
	}

	scores, err := r.encoder.Score(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("rerank returned %d scores for %d candidates", len(scores), len(candidates))
	}

	results := make([]RankedResult, len(candidates))
	for i, text := range candidates {
		results[i] = RankedResult{
			Score: sanitizeScore(scores[i]),
			Text:  collapseWhitespace(text),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > r.topN {
		results = results[:r.topN]
	}
	return results, nil
}

// sanitizeScore NaN/Inf置0，保留4位小数
func sanitizeScore(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return math.Round(s*1e4) / 1e4
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
