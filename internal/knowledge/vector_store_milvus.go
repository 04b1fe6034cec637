package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/aihub/docsearch/internal/logger"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	VectorSize int
	UseTLS     bool
	Timeout    time.Duration
}

var milvusOutputFields = []string{"id", "source", "sql_doc_id", "lang", "chunk_index", "text"}

type milvusVectorIndex struct {
	milvusClient client.Client
	collection   string
	vectorSize   int
}

// NewMilvusVectorIndex 创建Milvus向量索引，集合不存在时自动创建并加载
func NewMilvusVectorIndex(ctx context.Context, opts MilvusOptions) (VectorIndex, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.VectorSize <= 0 {
		return nil, fmt.Errorf("milvus vector size must be positive")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	milvusClient, err := client.NewClient(dialCtx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	s := &milvusVectorIndex{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
	}
	if err := s.ensureCollection(ctx); err != nil {
		milvusClient.Close()
		return nil, err
	}
	return s, nil
}

// MilvusIndexFactory 每次调用建立独立的Milvus连接
func MilvusIndexFactory(opts MilvusOptions) VectorIndexFactory {
	return func(ctx context.Context) (VectorIndex, error) {
		return NewMilvusVectorIndex(ctx, opts)
	}
}

func (s *milvusVectorIndex) ensureCollection(ctx context.Context) error {
	has, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "document chunk vectors",
			Fields: []*entity.Field{
				{Name: "id", DataType: entity.FieldTypeVarChar, PrimaryKey: true, AutoID: false,
					TypeParams: map[string]string{"max_length": "128"}},
				{Name: "source", DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "1024"}},
				{Name: "sql_doc_id", DataType: entity.FieldTypeInt64},
				{Name: "lang", DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "16"}},
				{Name: "chunk_index", DataType: entity.FieldTypeInt64},
				{Name: "text", DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "65535"}},
				{Name: "vector", DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.vectorSize)}},
			},
		}
		if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		var index entity.Index
		index, err = entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err != nil {
			// HNSW不可用时退回IVF_FLAT
			index, err = entity.NewIndexIvfFlat(entity.COSINE, 128)
			if err != nil {
				return fmt.Errorf("failed to build index params: %w", err)
			}
		}
		if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		logger.Info("milvus collection created", zap.String("collection", s.collection), zap.Int("dim", s.vectorSize))
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Upsert 先按文档删除旧条目，再以单个批次插入并Flush，批次内条目同时可见
func (s *milvusVectorIndex) Upsert(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validateEntries(entries, s.vectorSize); err != nil {
		return err
	}

	for _, docID := range documentIDs(entries) {
		if err := s.milvusClient.Delete(ctx, s.collection, "", docIDExpr(docID)); err != nil {
			return fmt.Errorf("milvus delete failed: %w", err)
		}
	}

	n := len(entries)
	ids := make([]string, n)
	sources := make([]string, n)
	docIDs := make([]int64, n)
	langs := make([]string, n)
	indexes := make([]int64, n)
	texts := make([]string, n)
	vectors := make([][]float32, n)
	for i, e := range entries {
		ids[i] = e.ID
		sources[i] = e.Metadata.Source
		docIDs[i] = e.Metadata.SQLDocID
		langs[i] = e.Metadata.Lang
		indexes[i] = int64(e.Metadata.ChunkIndex)
		texts[i] = e.Text
		vectors[i] = e.Vector
	}

	_, err := s.milvusClient.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnInt64("sql_doc_id", docIDs),
		entity.NewColumnVarChar("lang", langs),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("milvus flush failed: %w", err)
	}
	return nil
}

func (s *milvusVectorIndex) Count(ctx context.Context) (int, error) {
	rs, err := s.milvusClient.Query(ctx, s.collection, nil, "", []string{"count(*)"})
	if err != nil {
		return 0, fmt.Errorf("milvus count failed: %w", err)
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *milvusVectorIndex) Query(ctx context.Context, vector []float32, k int, filter MetadataFilter) ([]Candidate, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	k = clampK(k, total)
	if k == 0 || len(vector) == 0 {
		return []Candidate{}, nil
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	results, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		filterExpr(filter),
		milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return []Candidate{}, nil
	}
	if results[0].Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", results[0].Err)
	}

	result := results[0]
	candidates := make([]Candidate, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		c := Candidate{}
		if i < len(result.Scores) {
			c.Score = float64(result.Scores[i])
		}
		for _, field := range result.Fields {
			switch field.Name() {
			case "id":
				c.ID, _ = field.GetAsString(i)
			case "source":
				c.Metadata.Source, _ = field.GetAsString(i)
			case "sql_doc_id":
				c.Metadata.SQLDocID, _ = field.GetAsInt64(i)
			case "lang":
				c.Metadata.Lang, _ = field.GetAsString(i)
			case "chunk_index":
				idx, _ := field.GetAsInt64(i)
				c.Metadata.ChunkIndex = int(idx)
			case "text":
				c.Text, _ = field.GetAsString(i)
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func (s *milvusVectorIndex) DeleteDocument(ctx context.Context, docID int64) error {
	if err := s.milvusClient.Delete(ctx, s.collection, "", docIDExpr(docID)); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		logger.Warn("milvus flush after delete failed", zap.Error(err))
	}
	return nil
}

func (s *milvusVectorIndex) Sources(ctx context.Context) ([]string, error) {
	rs, err := s.milvusClient.Query(ctx, s.collection, nil, "sql_doc_id >= 0", []string{"source"})
	if err != nil {
		return nil, fmt.Errorf("milvus query failed: %w", err)
	}
	col := rs.GetColumn("source")
	seen := make(map[string]bool)
	sources := []string{}
	if col != nil {
		for i := 0; i < col.Len(); i++ {
			src, err := col.GetAsString(i)
			if err != nil || seen[src] {
				continue
			}
			seen[src] = true
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)
	return sources, nil
}

func (s *milvusVectorIndex) Close() error {
	return s.milvusClient.Close()
}

func docIDExpr(docID int64) string {
	return fmt.Sprintf("sql_doc_id == %d", docID)
}

// filterExpr 生成Milvus布尔表达式，字符串需转义反斜杠和双引号
func filterExpr(f MetadataFilter) string {
	if f.ByDocID {
		return docIDExpr(f.SQLDocID)
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(f.Source)
	return fmt.Sprintf(`source == "%s"`, escaped)
}
