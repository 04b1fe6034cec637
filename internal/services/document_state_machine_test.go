package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/models"
)

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) StatusChanged(_ context.Context, _ int64, status, errorMessage string) {
	r.events = append(r.events, status+"|"+errorMessage)
}

func TestDocumentStateMachine_CanTransition(t *testing.T) {
	sm := NewDocumentStateMachine(nil, nil)

	tests := []struct {
		from, to string
		want     bool
	}{
		{models.DocumentStatusPending, models.DocumentStatusProcessing, true},
		{models.DocumentStatusProcessing, models.DocumentStatusCompleted, true},
		{models.DocumentStatusProcessing, models.DocumentStatusFailed, true},
		{models.DocumentStatusFailed, models.DocumentStatusProcessing, true},
		{models.DocumentStatusCompleted, models.DocumentStatusProcessing, true},
		{models.DocumentStatusPending, models.DocumentStatusCompleted, false},
		{models.DocumentStatusPending, models.DocumentStatusFailed, false},
		{models.DocumentStatusProcessing, models.DocumentStatusPending, true},
		{"unknown", models.DocumentStatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, sm.CanTransition(tt.from, tt.to))
		})
	}
}

func TestDocumentStateMachine_Transition(t *testing.T) {
	docs := newMemoryDocs(models.Document{ID: 1, Status: models.DocumentStatusProcessing})
	obs := &recordingObserver{}
	sm := NewDocumentStateMachine(docs, obs)
	ctx := context.Background()

	require.NoError(t, sm.Transition(ctx, 1, models.DocumentStatusFailed, "boom"))
	assert.Equal(t, "boom", docs.doc(1).ErrorMessage)

	require.NoError(t, sm.Transition(ctx, 1, models.DocumentStatusProcessing, "ignored"))
	assert.Empty(t, docs.doc(1).ErrorMessage)

	err := sm.Transition(ctx, 1, models.DocumentStatusPending, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
	assert.Equal(t, models.DocumentStatusProcessing, docs.doc(1).Status)

	assert.Equal(t, []string{"failed|boom", "processing|"}, obs.events)

	err = sm.Transition(ctx, 404, models.DocumentStatusProcessing, "")
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}
