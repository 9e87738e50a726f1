package testhelper

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UniqueItemIDs returns n item ids unlikely to collide with other tests
// sharing the container.
func UniqueItemIDs(n int) []string {
	base := uuid.New().ID() % 1_000_000_000
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "Q" + strconv.FormatUint(uint64(base)+uint64(i)+1, 10)
	}
	return ids
}

// SeedFetchRecord inserts a fetch-log row directly, bypassing the repository.
func SeedFetchRecord(t *testing.T, pool *pgxpool.Pool, id, kind string, fetchedAt time.Time, count int) {
	t.Helper()

	_, err := pool.Exec(context.Background(),
		`INSERT INTO entity_fetch_log (entity_id, kind, fetched_at, fetch_count)
		 VALUES ($1, $2, $3, $4)`,
		id, kind, fetchedAt, count,
	)
	if err != nil {
		t.Fatalf("testhelper: seed fetch record %s: %v", id, err)
	}
}
