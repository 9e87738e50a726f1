package batch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/heartmarshall/wdfetch/internal/domain"
	"github.com/heartmarshall/wdfetch/pkg/ctxutil"
)

// Flush fetches the pending ids of one kind. With KindAny it flushes the next
// kind with pending work, rotating through the batchable kinds across calls.
//
// Queue entries are removed only after the fetch succeeded; on error the
// queue is left as it was. The result reports whether the queue shrank.
func (e *Engine) Flush(ctx context.Context, kind domain.EntityKind) (bool, error) {
	switch {
	case kind == domain.KindAny:
		return e.flushNext(ctx)
	case kind.IsBatchable():
		return e.flushKind(ctx, kind)
	default:
		return false, fmt.Errorf("batch.Flush: %w",
			domain.NewValidationError("kind", fmt.Sprintf("cannot flush kind %s", kind)))
	}
}

// FlushAll flushes until every queue is empty or a flush fails. It returns
// the number of successful flushes.
func (e *Engine) FlushAll(ctx context.Context) (int, error) {
	flushed := 0
	for e.QueueSize(domain.KindAny) > 0 {
		if err := ctx.Err(); err != nil {
			return flushed, fmt.Errorf("batch.FlushAll: %w", err)
		}
		ok, err := e.Flush(ctx, domain.KindAny)
		if err != nil {
			return flushed, err
		}
		if !ok {
			break
		}
		flushed++
	}
	return flushed, nil
}

func (e *Engine) flushNext(ctx context.Context) (bool, error) {
	n := len(domain.BatchedKinds)
	for step := range n {
		i := (e.cursor + step) % n
		kind := domain.BatchedKinds[i]
		if e.QueueSize(kind) == 0 {
			continue
		}
		e.cursor = (i + 1) % n
		return e.flushKind(ctx, kind)
	}
	return false, nil
}

func (e *Engine) flushKind(ctx context.Context, kind domain.EntityKind) (bool, error) {
	ids := e.pending(kind)
	if len(ids) == 0 {
		return false, nil
	}

	ctx, requestID := ctxutil.EnsureRequestID(ctx)
	start := time.Now()

	doc, err := e.fetcher.FetchJSON(ctx, ids, kind)
	if err != nil {
		e.log.ErrorContext(ctx, "flush failed, queue kept",
			slog.String("request_id", requestID),
			slog.String("kind", kind.String()),
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("batch.Flush %s: %w", kind, err)
	}

	before := e.QueueSize(kind)
	i, _ := slot(kind)
	for _, id := range ids {
		delete(e.main[i], id)
		delete(e.extra[i], id)
	}
	drained := e.QueueSize(kind) < before

	if e.recorder != nil {
		if err := e.recorder.RecordFetched(ctx, ids, kind, e.now()); err != nil {
			e.log.WarnContext(ctx, "failed to record fetch times",
				slog.String("request_id", requestID),
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.onResult != nil {
		e.onResult(ctx, kind, doc)
	}

	e.log.InfoContext(ctx, "batch flushed",
		slog.String("request_id", requestID),
		slog.String("kind", kind.String()),
		slog.Int("count", len(ids)),
		slog.Duration("duration", time.Since(start)),
	)
	return drained, nil
}

// pending returns main ∪ extra for kind, sorted.
func (e *Engine) pending(kind domain.EntityKind) []string {
	i, ok := slot(kind)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.main[i])+len(e.extra[i]))
	for id := range e.main[i] {
		out = append(out, id)
	}
	for id := range e.extra[i] {
		if _, dup := e.main[i][id]; !dup {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// QueueSize returns the number of distinct pending ids of kind, summed over
// all batchable kinds for KindAny, and 0 for anything else.
func (e *Engine) QueueSize(kind domain.EntityKind) int {
	if kind == domain.KindAny {
		total := 0
		for _, k := range domain.BatchedKinds {
			total += e.QueueSize(k)
		}
		return total
	}
	i, ok := slot(kind)
	if !ok {
		return 0
	}
	n := len(e.main[i])
	for id := range e.extra[i] {
		if _, dup := e.main[i][id]; !dup {
			n++
		}
	}
	return n
}

// Pending returns a copy of the pending ids of kind, sorted.
func (e *Engine) Pending(kind domain.EntityKind) []string { return e.pending(kind) }

func (e *Engine) queued(kind domain.EntityKind, id string) bool {
	i, ok := slot(kind)
	if !ok {
		return false
	}
	if _, ok := e.main[i][id]; ok {
		return true
	}
	_, ok = e.extra[i][id]
	return ok
}
