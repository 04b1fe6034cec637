package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docsearch/internal/errors"
)

// docEmbedder 把查询映射为固定向量
type docEmbedder struct{ *NoopEmbedder }

func (docEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return Normalize([]float32{1, 2, 7}), nil
}

func (docEmbedder) Ready() bool { return true }

func TestParseSelector(t *testing.T) {
	f, err := ParseSelector("7")
	require.NoError(t, err)
	assert.Equal(t, FilterByDocumentID(7), f)

	f, err = ParseSelector(" report.pdf ")
	require.NoError(t, err)
	assert.Equal(t, FilterBySource("report.pdf"), f)

	f, err = ParseSelector("7.pdf")
	require.NoError(t, err)
	assert.False(t, f.ByDocID)

	_, err = ParseSelector("  ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSelector))
}

func TestSearchEngine_DualAddressing(t *testing.T) {
	idx, _ := openTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, docEntries(7, "report.pdf", 3)))
	require.NoError(t, idx.Upsert(ctx, docEntries(8, "other.pdf", 3)))

	enc := new(mockCrossEncoder)
	want := []string{"report.pdf chunk 1", "report.pdf chunk 2", "report.pdf chunk 0"}
	enc.On("Score", mock.Anything, "q", mock.MatchedBy(func(texts []string) bool {
		return assert.ElementsMatch(t, want, texts)
	})).Return([]float64{0.3, 0.2, 0.1}, nil)

	engine := NewSearchEngine(docEmbedder{&NoopEmbedder{}}, idx, NewReranker(enc, 5), 10)

	byID, err := engine.Search(ctx, "7", "q")
	require.NoError(t, err)
	bySource, err := engine.Search(ctx, "report.pdf", "q")
	require.NoError(t, err)

	assert.Len(t, byID, 3)
	assert.Equal(t, byID, bySource)
	for _, r := range byID {
		assert.Contains(t, r.Text, "report.pdf")
	}
}

func TestSearchEngine_EmptyIndexReturnsNoResults(t *testing.T) {
	idx, _ := openTestIndex(t)
	enc := new(mockCrossEncoder)
	engine := NewSearchEngine(docEmbedder{&NoopEmbedder{}}, idx, NewReranker(enc, 5), 10)

	got, err := engine.Search(context.Background(), "42", "anything")
	require.NoError(t, err)
	assert.Empty(t, got)
	enc.AssertNotCalled(t, "Score", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchEngine_RejectsEmptyQuery(t *testing.T) {
	idx, _ := openTestIndex(t)
	engine := NewSearchEngine(docEmbedder{&NoopEmbedder{}}, idx, NewReranker(new(mockCrossEncoder), 5), 10)

	_, err := engine.Search(context.Background(), "7", "  ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}
