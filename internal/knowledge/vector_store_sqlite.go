package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS index_entries (
	collection  TEXT    NOT NULL,
	id          TEXT    NOT NULL,
	source      TEXT    NOT NULL,
	sql_doc_id  INTEGER NOT NULL,
	lang        TEXT    NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL,
	text        TEXT    NOT NULL,
	vector      BLOB    NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_index_entries_doc ON index_entries (collection, sql_doc_id);
CREATE INDEX IF NOT EXISTS idx_index_entries_source ON index_entries (collection, source);
`

// SQLiteVectorIndex 基于单个SQLite文件的持久化向量索引。
// 过滤在SQL中完成，相似度在过滤后的条目上计算。
type SQLiteVectorIndex struct {
	db         *sql.DB
	path       string
	collection string
}

// OpenSQLiteVectorIndex 打开(或创建)索引文件
func OpenSQLiteVectorIndex(path, collection string) (*SQLiteVectorIndex, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	// WAL 允许多个worker进程同时读写同一文件
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}

	return &SQLiteVectorIndex{db: db, path: path, collection: collection}, nil
}

// SQLiteIndexFactory 返回打开同一索引文件的工厂
func SQLiteIndexFactory(path, collection string) VectorIndexFactory {
	return func(ctx context.Context) (VectorIndex, error) {
		return OpenSQLiteVectorIndex(path, collection)
	}
}

func (s *SQLiteVectorIndex) Upsert(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validateEntries(entries, len(entries[0].Vector)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, docID := range documentIDs(entries) {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM index_entries WHERE collection = ? AND sql_doc_id = ?`,
			s.collection, docID); err != nil {
			return fmt.Errorf("clearing entries for document %d: %w", docID, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO index_entries
			(collection, id, source, sql_doc_id, lang, chunk_index, text, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			s.collection, e.ID, e.Metadata.Source, e.Metadata.SQLDocID, e.Metadata.Lang,
			e.Metadata.ChunkIndex, e.Text, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_entries WHERE collection = ?`, s.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteVectorIndex) Query(ctx context.Context, vector []float32, k int, filter MetadataFilter) ([]Candidate, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	k = clampK(k, total)
	if k == 0 || len(vector) == 0 {
		return []Candidate{}, nil
	}

	query := `SELECT id, source, sql_doc_id, lang, chunk_index, text, vector
		FROM index_entries WHERE collection = ? AND source = ?`
	arg := interface{}(filter.Source)
	if filter.ByDocID {
		query = `SELECT id, source, sql_doc_id, lang, chunk_index, text, vector
		FROM index_entries WHERE collection = ? AND sql_doc_id = ?`
		arg = filter.SQLDocID
	}

	rows, err := s.db.QueryContext(ctx, query, s.collection, arg)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Metadata.Source, &c.Metadata.SQLDocID, &c.Metadata.Lang,
			&c.Metadata.ChunkIndex, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		c.Score = CosineSimilarity(vector, decodeVector(blob))
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	if candidates == nil {
		candidates = []Candidate{}
	}
	return candidates, nil
}

func (s *SQLiteVectorIndex) DeleteDocument(ctx context.Context, docID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM index_entries WHERE collection = ? AND sql_doc_id = ?`, s.collection, docID)
	if err != nil {
		return fmt.Errorf("delete document %d: %w", docID, err)
	}
	return nil
}

func (s *SQLiteVectorIndex) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT source FROM index_entries WHERE collection = ? ORDER BY source`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	sources := []string{}
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SQLiteVectorIndex) Close() error {
	return s.db.Close()
}

// Path 返回索引文件路径
func (s *SQLiteVectorIndex) Path() string {
	return s.path
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
