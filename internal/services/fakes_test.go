package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/models"
)

// memoryDocs 内存文档仓库，记录每次状态写入
type memoryDocs struct {
	mu      sync.Mutex
	docs    map[int64]*models.Document
	nextID  int64
	history []string
}

func newMemoryDocs(docs ...models.Document) *memoryDocs {
	m := &memoryDocs{docs: map[int64]*models.Document{}, nextID: 1}
	for i := range docs {
		d := docs[i]
		m.docs[d.ID] = &d
		if d.ID >= m.nextID {
			m.nextID = d.ID + 1
		}
	}
	return m
}

func (m *memoryDocs) GetDB() *gorm.DB { return nil }

func (m *memoryDocs) Create(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = m.nextID
	m.nextID++
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *memoryDocs) GetByID(_ context.Context, id int64) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, apperrors.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memoryDocs) GetByFilename(_ context.Context, filename string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.Filename == filename {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperrors.ErrDocumentNotFound
}

func (m *memoryDocs) List(_ context.Context, _, _ int, status string) ([]models.Document, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memoryDocs) UpdateStatus(_ context.Context, id int64, status, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return apperrors.ErrDocumentNotFound
	}
	d.Status = status
	d.ErrorMessage = errorMessage
	d.UpdatedAt = time.Now()
	m.history = append(m.history, status)
	return nil
}

func (m *memoryDocs) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memoryDocs) statusHistory() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

func (m *memoryDocs) doc(id int64) models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.docs[id]
}

// memoryBlobs 内存文件存储
type memoryBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemoryBlobs(files map[string]string) *memoryBlobs {
	b := &memoryBlobs{files: map[string][]byte{}}
	for k, v := range files {
		b.files[k] = []byte(v)
	}
	return b
}

func (b *memoryBlobs) Put(_ context.Context, filename string, r io.Reader, _ int64, _ string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := fmt.Sprintf("%d_%s", len(b.files)+1, filename)
	b.files[key] = buf.Bytes()
	return key, nil
}

func (b *memoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[key]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", key, os.ErrNotExist)
	}
	return data, nil
}

func (b *memoryBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, key)
	return nil
}

// textExtractor 直接把文件内容当作文本，并统计调用次数
type textExtractor struct {
	mu    sync.Mutex
	calls int
}

func (e *textExtractor) ExtractText(_ context.Context, data []byte, _ string) string {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return string(data)
}

func (e *textExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// hashEmbedder 按字符频率生成确定性向量，可配置前几次调用失败
type hashEmbedder struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (e *hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failures > 0 {
		e.failures--
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (e *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func (e *hashEmbedder) Dimensions() int { return 4 }
func (e *hashEmbedder) Ready() bool     { return true }

func embedText(t string) []float32 {
	v := make([]float32, 4)
	for _, r := range t {
		v[int(r)%4]++
	}
	if v[0]+v[1]+v[2]+v[3] == 0 {
		v[0] = 1
	}
	return v
}
