package batch

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

func TestTouchEntity_PromotesOnThreshold(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, Config{})
	for i := range 49 {
		require.True(t, e.TouchEntity("Q42"), "touch %d", i+1)
		require.Zero(t, e.QueueSize(domain.KindItem), "touch %d must not promote", i+1)
	}

	assert.True(t, e.TouchEntity("Q42"), "50th touch promotes")
	assert.Equal(t, 1, e.QueueSize(domain.KindItem))

	assert.False(t, e.TouchEntity("Q42"), "already queued")
	assert.Equal(t, 1, e.QueueSize(domain.KindItem))
	assert.Zero(t, e.Candidates("Q42"))
}

func TestTouchEntity_QueuedByAddIsNotCounted(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, Config{})
	_, err := e.AddEntity(context.Background(), "L5", false, "g")
	require.NoError(t, err)

	assert.False(t, e.TouchEntity("L5"))
	assert.False(t, e.TouchEntity("L5-F1"), "root L5 is already queued")
	assert.Zero(t, e.Candidates("L5-F1"))
}

func TestTouchEntity_FormPromotesLexemeRoot(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, Config{CandidatesThreshold: 3})
	for range 3 {
		require.True(t, e.TouchEntity("L9-S2"))
	}
	assert.Equal(t, []string{"L9"}, e.Pending(domain.KindLexeme))
	assert.Zero(t, e.QueueSize(domain.KindSense))
}

func TestTouchEntity_RejectsInvalidIDs(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, Config{})
	assert.False(t, e.TouchEntity("Q"))
	assert.False(t, e.TouchEntity("X123"))
	assert.Zero(t, e.QueueSize(domain.KindAny))
}

func TestTouchEntity_CountsAgainAfterFlush(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, Config{CandidatesThreshold: 2})
	e.TouchEntity("P7")
	e.TouchEntity("P7")
	require.Equal(t, 1, e.QueueSize(domain.KindProperty))

	ok, err := e.Flush(context.Background(), domain.KindProperty)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, e.TouchEntity("P7"))
	assert.Zero(t, e.QueueSize(domain.KindProperty), "counting restarts after promotion")
	assert.True(t, e.TouchEntity("P7"))
	assert.Equal(t, 1, e.QueueSize(domain.KindProperty))
}

func TestTouchIDs_Normalizes(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, Config{})
	n, err := e.TouchIDs([]int{1, 1, 1}, domain.KindForm)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, e.QueueSize(domain.KindLexeme))
	assert.Equal(t, 3, e.Candidates("L1"))
}

func TestTouchIDs_StopsCountingAfterPromotion(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, Config{CandidatesThreshold: 2})
	n, err := e.TouchIDs([]int{4, 4, 4, 4}, domain.KindItem)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, e.QueueSize(domain.KindItem))
}

func TestTouchIDs_RejectsPseudoKinds(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, Config{})
	_, err := e.TouchIDs([]int{1}, domain.KindAny)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.TouchIDs([]int{1}, domain.KindUnknown)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNumericFormIDs_WarnThroughEngineLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	e := NewEngine(slog.New(slog.NewTextHandler(&buf, nil)), &mockFetcher{}, Config{})

	_, err := e.AddIDs(context.Background(), []int{3}, domain.KindForm, "g")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "numeric form/sense ids coerced to lexeme")
	assert.Contains(t, buf.String(), "service=batch")
	assert.Contains(t, buf.String(), "op=add")

	buf.Reset()
	_, err = e.TouchIDs([]int{3}, domain.KindSense)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "op=touch")
	assert.Contains(t, buf.String(), "kind=sense")

	buf.Reset()
	_, err = e.TouchIDs([]int{3}, domain.KindItem)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "coerced")
}
