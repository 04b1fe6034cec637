package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TEICrossEncoder 调用 text-embeddings-inference 的 /rerank 接口
type TEICrossEncoder struct {
	baseURL    string
	httpClient *http.Client
}

type teiRerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type teiRerankItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewTEICrossEncoder 创建交叉编码器客户端
func NewTEICrossEncoder(baseURL string, timeout time.Duration) (*TEICrossEncoder, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rerank base url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TEICrossEncoder{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *TEICrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(teiRerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var items []teiRerankItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	// 服务端按分数排序返回，这里按index还原到输入顺序
	scores := make([]float64, len(texts))
	for _, item := range items {
		if item.Index >= 0 && item.Index < len(scores) {
			scores[item.Index] = item.Score
		}
	}
	return scores, nil
}
