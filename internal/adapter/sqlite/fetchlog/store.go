// Package fetchlog is the single-file SQLite fetch log used when no
// PostgreSQL is configured. The database runs in WAL mode so several CLI
// processes can share it.
package fetchlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

const (
	table = "entity_fetch_log"

	// SQLite allows 32766 host parameters; four per row.
	upsertChunk = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS entity_fetch_log (
	entity_id   TEXT    PRIMARY KEY,
	kind        TEXT    NOT NULL,
	fetched_at  INTEGER NOT NULL,
	fetch_count INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_entity_fetch_log_fetched_at ON entity_fetch_log (fetched_at);
`

const upsertSuffix = `ON CONFLICT(entity_id) DO UPDATE SET
	kind = excluded.kind,
	fetched_at = MAX(entity_fetch_log.fetched_at, excluded.fetched_at),
	fetch_count = entity_fetch_log.fetch_count + 1`

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Store is the SQLite fetch log. Timestamps are stored as Unix nanoseconds.
type Store struct {
	db    *sql.DB
	retry retryConfig
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("fetchlog.Open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, retry: defaultRetryConfig}
	if err := retryOp(ctx, s.retry, func() error {
		_, err := db.ExecContext(ctx, schema)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("fetchlog.Open: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks that the database file is still reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Exists reports whether id was ever fetched.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.LastFetchedAt(ctx, id)
	return ok, err
}

// LastFetchedAt returns the last fetch time of id; ok is false when id was
// never fetched.
func (s *Store) LastFetchedAt(ctx context.Context, id string) (time.Time, bool, error) {
	rec, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.FetchedAt, true, nil
}

// Get returns the stored record for id or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (domain.FetchRecord, error) {
	query, args, err := builder.
		Select("entity_id", "kind", "fetched_at", "fetch_count").
		From(table).
		Where(sq.Eq{"entity_id": id}).
		ToSql()
	if err != nil {
		return domain.FetchRecord{}, fmt.Errorf("fetchlog.Get: build: %w", err)
	}

	var (
		rec      domain.FetchRecord
		kindName string
		nanos    int64
	)
	err = retryOp(ctx, s.retry, func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&rec.EntityID, &kindName, &nanos, &rec.FetchCount)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FetchRecord{}, fmt.Errorf("fetch record %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.FetchRecord{}, fmt.Errorf("fetch record %s: %w", id, err)
	}
	if rec.Kind, err = domain.ParseKind(kindName); err != nil {
		return domain.FetchRecord{}, fmt.Errorf("fetch record %s: %w", id, err)
	}
	rec.FetchedAt = time.Unix(0, nanos).UTC()
	return rec, nil
}

// RecordFetched upserts one row per id in a single transaction.
func (s *Store) RecordFetched(ctx context.Context, ids []string, kind domain.EntityKind, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if !kind.IsConcrete() {
		return domain.NewValidationError("kind", fmt.Sprintf("cannot record kind %s", kind))
	}
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))

	type stmt struct {
		query string
		args  []any
	}
	stmts := make([]stmt, 0, len(ids)/upsertChunk+1)
	for chunk := range slices.Chunk(ids, upsertChunk) {
		insert := builder.Insert(table).Columns("entity_id", "kind", "fetched_at", "fetch_count")
		for _, id := range chunk {
			insert = insert.Values(id, kind.String(), at.UnixNano(), 1)
		}
		query, args, err := insert.Suffix(upsertSuffix).ToSql()
		if err != nil {
			return fmt.Errorf("fetchlog.RecordFetched: build: %w", err)
		}
		stmts = append(stmts, stmt{query, args})
	}

	err := retryOp(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("fetchlog.RecordFetched: %w", err)
	}
	return nil
}

// Stats aggregates the log per kind.
func (s *Store) Stats(ctx context.Context) (domain.FetchStats, error) {
	query, args, err := builder.
		Select("kind", "COUNT(*)", "COALESCE(SUM(fetch_count), 0)").
		From(table).
		GroupBy("kind").
		ToSql()
	if err != nil {
		return domain.FetchStats{}, fmt.Errorf("fetchlog.Stats: build: %w", err)
	}

	var stats domain.FetchStats
	err = retryOp(ctx, s.retry, func() error {
		stats = domain.FetchStats{ByKind: make(map[domain.EntityKind]int)}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				kindName        string
				entities, total int
			)
			if err := rows.Scan(&kindName, &entities, &total); err != nil {
				return err
			}
			kind, err := domain.ParseKind(kindName)
			if err != nil {
				return err
			}
			stats.ByKind[kind] += entities
			stats.Entities += entities
			stats.Fetches += total
		}
		return rows.Err()
	})
	if err != nil {
		return domain.FetchStats{}, fmt.Errorf("fetchlog.Stats: %w", err)
	}
	return stats, nil
}

// Prune deletes records last fetched before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := builder.
		Delete(table).
		Where(sq.Lt{"fetched_at": before.UnixNano()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("fetchlog.Prune: build: %w", err)
	}

	var n int64
	err = retryOp(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetchlog.Prune: %w", err)
	}
	return n, nil
}
