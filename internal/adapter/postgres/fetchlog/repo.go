// Package fetchlog persists when each Wikibase entity was last fetched, so
// the batch engine can skip entities that are still fresh.
package fetchlog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/wdfetch/internal/adapter/postgres"
	"github.com/heartmarshall/wdfetch/internal/domain"
)

const (
	table = "entity_fetch_log"

	// Four bound parameters per row keeps a chunk far below the 65535 limit.
	upsertChunk = 500
)

const upsertSuffix = `ON CONFLICT (entity_id) DO UPDATE SET
	kind = EXCLUDED.kind,
	fetched_at = GREATEST(entity_fetch_log.fetched_at, EXCLUDED.fetched_at),
	fetch_count = entity_fetch_log.fetch_count + 1`

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// TxRunner runs fn inside a transaction carried on the context.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repo is the PostgreSQL fetch log.
type Repo struct {
	pool *pgxpool.Pool
	tx   TxRunner
}

func New(pool *pgxpool.Pool, tx TxRunner) *Repo {
	return &Repo{pool: pool, tx: tx}
}

func (r *Repo) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

// Exists reports whether id was ever fetched.
func (r *Repo) Exists(ctx context.Context, id string) (bool, error) {
	query, args, err := builder.
		Select("1").From(table).Where(sq.Eq{"entity_id": id}).
		Prefix("SELECT EXISTS(").Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("fetchlog.Exists: build: %w", err)
	}

	var exists bool
	if err := postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, postgres.MapError(err, "fetch record", id)
	}
	return exists, nil
}

// LastFetchedAt returns the last fetch time of id; ok is false when id was
// never fetched.
func (r *Repo) LastFetchedAt(ctx context.Context, id string) (time.Time, bool, error) {
	rec, err := r.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.FetchedAt, true, nil
}

// Get returns the stored record for id or domain.ErrNotFound.
func (r *Repo) Get(ctx context.Context, id string) (domain.FetchRecord, error) {
	query, args, err := builder.
		Select("entity_id", "kind", "fetched_at", "fetch_count").
		From(table).
		Where(sq.Eq{"entity_id": id}).
		ToSql()
	if err != nil {
		return domain.FetchRecord{}, fmt.Errorf("fetchlog.Get: build: %w", err)
	}

	rec, err := scanRecord(postgres.QuerierFromCtx(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		return domain.FetchRecord{}, postgres.MapError(err, "fetch record", id)
	}
	return rec, nil
}

// RecordFetched upserts one row per id, bumping fetch_count for ids seen
// before. All chunks commit together.
func (r *Repo) RecordFetched(ctx context.Context, ids []string, kind domain.EntityKind, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if !kind.IsConcrete() {
		return domain.NewValidationError("kind", fmt.Sprintf("cannot record kind %s", kind))
	}

	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	at = at.UTC()

	return r.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.QuerierFromCtx(ctx, r.pool)
		for chunk := range slices.Chunk(ids, upsertChunk) {
			insert := builder.Insert(table).Columns("entity_id", "kind", "fetched_at", "fetch_count")
			for _, id := range chunk {
				insert = insert.Values(id, kind.String(), at, 1)
			}
			query, args, err := insert.Suffix(upsertSuffix).ToSql()
			if err != nil {
				return fmt.Errorf("fetchlog.RecordFetched: build: %w", err)
			}
			if _, err := q.Exec(ctx, query, args...); err != nil {
				return postgres.MapError(err, "fetch records", chunk[0])
			}
		}
		return nil
	})
}

// Stats aggregates the log per kind.
func (r *Repo) Stats(ctx context.Context) (domain.FetchStats, error) {
	query, args, err := builder.
		Select("kind", "COUNT(*)", "COALESCE(SUM(fetch_count), 0)").
		From(table).
		GroupBy("kind").
		ToSql()
	if err != nil {
		return domain.FetchStats{}, fmt.Errorf("fetchlog.Stats: build: %w", err)
	}

	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return domain.FetchStats{}, fmt.Errorf("fetchlog.Stats: %w", err)
	}
	defer rows.Close()

	stats := domain.FetchStats{ByKind: make(map[domain.EntityKind]int)}
	for rows.Next() {
		var (
			kindName        string
			entities, total int
		)
		if err := rows.Scan(&kindName, &entities, &total); err != nil {
			return domain.FetchStats{}, fmt.Errorf("fetchlog.Stats: scan: %w", err)
		}
		kind, err := domain.ParseKind(kindName)
		if err != nil {
			return domain.FetchStats{}, fmt.Errorf("fetchlog.Stats: %w", err)
		}
		stats.ByKind[kind] += entities
		stats.Entities += entities
		stats.Fetches += total
	}
	if err := rows.Err(); err != nil {
		return domain.FetchStats{}, fmt.Errorf("fetchlog.Stats: rows: %w", err)
	}
	return stats, nil
}

// Prune deletes records last fetched before the cutoff and returns how many
// were removed.
func (r *Repo) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := builder.
		Delete(table).
		Where(sq.Lt{"fetched_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("fetchlog.Prune: build: %w", err)
	}

	tag, err := postgres.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("fetchlog.Prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (domain.FetchRecord, error) {
	var (
		rec      domain.FetchRecord
		kindName string
	)
	if err := row.Scan(&rec.EntityID, &kindName, &rec.FetchedAt, &rec.FetchCount); err != nil {
		return domain.FetchRecord{}, err
	}
	kind, err := domain.ParseKind(kindName)
	if err != nil {
		return domain.FetchRecord{}, err
	}
	rec.Kind = kind
	return rec, nil
}
