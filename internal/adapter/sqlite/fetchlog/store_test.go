package fetchlog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "fetchlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_UnknownEntity(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "Q42")
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := s.LastFetchedAt(ctx, "Q42")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "Q42")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_RecordFetched(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	first := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)

	require.NoError(t, s.RecordFetched(ctx, []string{"Q1", "Q2", "Q1"}, domain.KindItem, first))
	require.NoError(t, s.RecordFetched(ctx, []string{"Q1"}, domain.KindItem, first.Add(time.Hour)))

	rec, err := s.Get(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, domain.FetchRecord{
		EntityID:   "Q1",
		Kind:       domain.KindItem,
		FetchedAt:  first.Add(time.Hour),
		FetchCount: 2,
	}, rec)

	at, ok, err := s.LastFetchedAt(ctx, "Q2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(first), "nanosecond precision survives the round trip")

	exists, err := s.Exists(ctx, "Q2")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_RecordFetched_NeverRewinds(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordFetched(ctx, []string{"P31"}, domain.KindProperty, newer))
	require.NoError(t, s.RecordFetched(ctx, []string{"P31"}, domain.KindProperty, newer.Add(-time.Hour)))

	at, _, err := s.LastFetchedAt(ctx, "P31")
	require.NoError(t, err)
	assert.True(t, at.Equal(newer))
}

func TestStore_RecordFetched_Chunks(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	ids := make([]string, 1234)
	for i := range ids {
		ids[i] = fmt.Sprintf("L%d", i+1)
	}
	require.NoError(t, s.RecordFetched(ctx, ids, domain.KindLexeme, time.Now()))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1234, stats.Entities)
	assert.Equal(t, 1234, stats.ByKind[domain.KindLexeme])
}

func TestStore_RecordFetched_Validation(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	assert.NoError(t, s.RecordFetched(context.Background(), nil, domain.KindAny, time.Now()), "empty input is a no-op")
	err := s.RecordFetched(context.Background(), []string{"Q1"}, domain.KindUnknown, time.Now())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStore_StatsAndPrune(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordFetched(ctx, []string{"Q1", "Q2"}, domain.KindItem, old))
	require.NoError(t, s.RecordFetched(ctx, []string{"Q2"}, domain.KindItem, recent))
	require.NoError(t, s.RecordFetched(ctx, []string{"M5"}, domain.KindMediainfo, old))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 4, stats.Fetches)
	assert.Equal(t, map[domain.EntityKind]int{domain.KindItem: 2, domain.KindMediainfo: 1}, stats.ByKind)

	n, err := s.Prune(ctx, recent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entities)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RecordFetched(ctx, []string{"Q1", fmt.Sprintf("Q%d", 100+w)}, domain.KindItem, time.Now())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := s.Get(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.FetchCount)
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fetchlog.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.RecordFetched(ctx, []string{"E10"}, domain.KindEntitySchema, time.Now()))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	exists, err := s.Exists(ctx, "E10")
	require.NoError(t, err)
	assert.True(t, exists)
}
