package knowledge

import (
	"context"
	"fmt"
)

// DefaultCollection 默认的集合命名空间
const DefaultCollection = "documents"

// EntryMetadata 索引条目元数据，source 与 sql_doc_id 用于按文件名或文档ID过滤
type EntryMetadata struct {
	Source     string `json:"source"`
	SQLDocID   int64  `json:"sql_doc_id"`
	Lang       string `json:"lang"`
	ChunkIndex int    `json:"chunk_index"`
}

// IndexEntry 向量索引条目
type IndexEntry struct {
	ID       string
	Vector   []float32
	Metadata EntryMetadata
	Text     string
}

// Candidate 向量检索候选
type Candidate struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Metadata EntryMetadata `json:"metadata"`
}

// MetadataFilter 元数据等值过滤，按文档ID或文件名二选一
type MetadataFilter struct {
	Source   string
	SQLDocID int64
	ByDocID  bool
}

// FilterByDocumentID 按文档ID过滤
func FilterByDocumentID(id int64) MetadataFilter {
	return MetadataFilter{SQLDocID: id, ByDocID: true}
}

// FilterBySource 按原始文件名过滤
func FilterBySource(source string) MetadataFilter {
	return MetadataFilter{Source: source}
}

func (f MetadataFilter) matches(m EntryMetadata) bool {
	if f.ByDocID {
		return m.SQLDocID == f.SQLDocID
	}
	return m.Source == f.Source
}

func (f MetadataFilter) String() string {
	if f.ByDocID {
		return fmt.Sprintf("sql_doc_id=%d", f.SQLDocID)
	}
	return fmt.Sprintf("source=%q", f.Source)
}

// ChunkID 由文档ID和块序号生成确定性的条目ID
func ChunkID(docID int64, index int) string {
	return fmt.Sprintf("doc_%d_chunk_%d", docID, index)
}

// VectorIndex 向量索引抽象。
// 实现不要求跨goroutine池共享，每个worker应通过 VectorIndexFactory 打开自己的句柄。
type VectorIndex interface {
	// Upsert 原子写入一批条目，并替换批次中涉及文档的旧条目
	Upsert(ctx context.Context, entries []IndexEntry) error
	Count(ctx context.Context) (int, error)
	// Query 返回至多 min(k, Count()) 条匹配过滤条件的最近邻
	Query(ctx context.Context, vector []float32, k int, filter MetadataFilter) ([]Candidate, error)
	DeleteDocument(ctx context.Context, docID int64) error
	Sources(ctx context.Context) ([]string, error)
	Close() error
}

// VectorIndexFactory 打开一个新的索引句柄
type VectorIndexFactory func(ctx context.Context) (VectorIndex, error)

// clampK 将k限制在 [0, n]
func clampK(k, n int) int {
	if k > n {
		k = n
	}
	if k < 0 {
		k = 0
	}
	return k
}

func documentIDs(entries []IndexEntry) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, e := range entries {
		if !seen[e.Metadata.SQLDocID] {
			seen[e.Metadata.SQLDocID] = true
			ids = append(ids, e.Metadata.SQLDocID)
		}
	}
	return ids
}

func validateEntries(entries []IndexEntry, dim int) error {
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("index entry id is empty")
		}
		if len(e.Vector) == 0 {
			return fmt.Errorf("index entry %s has empty vector", e.ID)
		}
		if dim > 0 && len(e.Vector) != dim {
			return fmt.Errorf("index entry %s has dimension %d, want %d", e.ID, len(e.Vector), dim)
		}
	}
	return nil
}
