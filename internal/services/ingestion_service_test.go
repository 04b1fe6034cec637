package services

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/models"
)

type ingestFixture struct {
	docs      *memoryDocs
	blobs     *memoryBlobs
	extractor *textExtractor
	embedder  *hashEmbedder
	index     *knowledge.SQLiteVectorIndex
	svc       *IngestionService
}

func newIngestFixture(t *testing.T, content string) *ingestFixture {
	t.Helper()
	index, err := knowledge.OpenSQLiteVectorIndex(filepath.Join(t.TempDir(), "index.db"), "documents")
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	f := &ingestFixture{
		docs: newMemoryDocs(models.Document{
			ID:          7,
			Filename:    "report.pdf",
			FilePath:    "blob-7",
			ContentType: "text/plain",
			Status:      models.DocumentStatusPending,
		}),
		blobs:     newMemoryBlobs(map[string]string{"blob-7": content}),
		extractor: &textExtractor{},
		embedder:  &hashEmbedder{},
		index:     index,
	}
	f.svc = NewIngestionService(f.blobs, f.extractor, knowledge.NewChunker(40, 10), f.embedder, nil)
	f.svc.detect = func(string) string { return "en" }
	return f
}

func (f *ingestFixture) env() WorkerEnv {
	return WorkerEnv{Docs: f.docs, Index: f.index}
}

func TestAttempt_IndexesChunksAndCompletes(t *testing.T) {
	text := strings.Repeat("The quarterly revenue grew strongly. ", 6)
	f := newIngestFixture(t, text)
	ctx := context.Background()

	res := f.svc.Attempt(ctx, f.env(), IngestJob{DocumentID: 7})
	require.NoError(t, res.Err)
	assert.Equal(t, AttemptSucceeded, res.Outcome)
	assert.Greater(t, res.Chunks, 1)

	doc := f.docs.doc(7)
	assert.Equal(t, models.DocumentStatusCompleted, doc.Status)
	assert.Empty(t, doc.ErrorMessage)
	assert.Equal(t, []string{models.DocumentStatusProcessing, models.DocumentStatusCompleted}, f.docs.statusHistory())

	n, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, n)

	hits, err := f.index.Query(ctx, embedText("revenue"), 100, knowledge.FilterByDocumentID(7))
	require.NoError(t, err)
	require.Len(t, hits, n)
	ids := map[string]bool{}
	for _, h := range hits {
		ids[h.ID] = true
		assert.Equal(t, "report.pdf", h.Metadata.Source)
		assert.Equal(t, int64(7), h.Metadata.SQLDocID)
		assert.Equal(t, "en", h.Metadata.Lang)
	}
	assert.True(t, ids["doc_7_chunk_0"])
}

func TestAttempt_ReingestionReplacesEntries(t *testing.T) {
	f := newIngestFixture(t, strings.Repeat("alpha beta gamma delta. ", 10))
	ctx := context.Background()

	first := f.svc.Attempt(ctx, f.env(), IngestJob{DocumentID: 7})
	require.Equal(t, AttemptSucceeded, first.Outcome)

	f.blobs.files["blob-7"] = []byte("short text now")
	second := f.svc.Attempt(ctx, f.env(), IngestJob{DocumentID: 7})
	require.Equal(t, AttemptSucceeded, second.Outcome)
	assert.Equal(t, 1, second.Chunks)

	n, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAttempt_EmptyTextIsRetryableFailure(t *testing.T) {
	f := newIngestFixture(t, "   ")

	res := f.svc.Attempt(context.Background(), f.env(), IngestJob{DocumentID: 7})
	assert.Equal(t, AttemptRetryable, res.Outcome)
	assert.ErrorIs(t, res.Err, apperrors.ErrNoChunks)

	doc := f.docs.doc(7)
	assert.Equal(t, models.DocumentStatusFailed, doc.Status)
	assert.Equal(t, apperrors.ErrNoChunks.Error(), doc.ErrorMessage)
}

func TestAttempt_MissingDocumentIsFatal(t *testing.T) {
	f := newIngestFixture(t, "text")

	res := f.svc.Attempt(context.Background(), f.env(), IngestJob{DocumentID: 99})
	assert.Equal(t, AttemptFatal, res.Outcome)
	assert.ErrorIs(t, res.Err, apperrors.ErrDocumentNotFound)
	assert.Zero(t, f.extractor.callCount())
}

func TestAttempt_MissingBlobIsFatal(t *testing.T) {
	f := newIngestFixture(t, "text")
	delete(f.blobs.files, "blob-7")

	res := f.svc.Attempt(context.Background(), f.env(), IngestJob{DocumentID: 7})
	assert.Equal(t, AttemptFatal, res.Outcome)
	assert.Equal(t, models.DocumentStatusFailed, f.docs.doc(7).Status)
	assert.Contains(t, f.docs.doc(7).ErrorMessage, "failed to read stored file")
}

func TestProcess_RetryExhaustion(t *testing.T) {
	f := newIngestFixture(t, "")
	pool := NewIngestWorkerPool(f.svc, nil, nil, WorkerPoolOptions{MaxAttempts: 3, Backoff: 0})

	report := pool.Process(context.Background(), f.env(), IngestJob{DocumentID: 7})

	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, 3, f.extractor.callCount())
	assert.Equal(t, AttemptRetryable, report.Result.Outcome)

	doc := f.docs.doc(7)
	assert.Equal(t, models.DocumentStatusFailed, doc.Status)
	assert.Equal(t, "no chunks produced from document", doc.ErrorMessage)
	assert.Equal(t, []string{
		models.DocumentStatusProcessing, models.DocumentStatusFailed,
		models.DocumentStatusProcessing, models.DocumentStatusFailed,
		models.DocumentStatusProcessing, models.DocumentStatusFailed,
	}, f.docs.statusHistory())
}

func TestProcess_RecoversOnRetry(t *testing.T) {
	f := newIngestFixture(t, "a document with enough words to chunk")
	f.embedder.failures = 1
	pool := NewIngestWorkerPool(f.svc, nil, nil, WorkerPoolOptions{MaxAttempts: 3, Backoff: 0})

	report := pool.Process(context.Background(), f.env(), IngestJob{DocumentID: 7})

	assert.Equal(t, 2, report.Attempts)
	assert.Equal(t, AttemptSucceeded, report.Result.Outcome)
	doc := f.docs.doc(7)
	assert.Equal(t, models.DocumentStatusCompleted, doc.Status)
	assert.Empty(t, doc.ErrorMessage)
}

func TestProcess_FatalIsNotRetried(t *testing.T) {
	f := newIngestFixture(t, "text")
	pool := NewIngestWorkerPool(f.svc, nil, nil, WorkerPoolOptions{MaxAttempts: 3, Backoff: 0})

	report := pool.Process(context.Background(), f.env(), IngestJob{DocumentID: 42})
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, AttemptFatal, report.Result.Outcome)
}

func TestProcess_CancelledDuringBackoff(t *testing.T) {
	f := newIngestFixture(t, "")
	pool := NewIngestWorkerPool(f.svc, nil, nil, WorkerPoolOptions{MaxAttempts: 3, Backoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	report := pool.Process(ctx, f.env(), IngestJob{DocumentID: 7})
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, models.DocumentStatusFailed, f.docs.doc(7).Status)
}
