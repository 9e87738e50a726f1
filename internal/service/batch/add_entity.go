package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

// AddEntity records id in a group and, when forced or approved by Enqueue,
// queues its root for fetching. Reaching the batch threshold flushes the
// root's kind immediately. It returns the group's size.
func (e *Engine) AddEntity(ctx context.Context, id string, force bool, group string) (int, error) {
	kind := domain.Identify(id)
	if kind == domain.KindUnknown {
		return 0, fmt.Errorf("batch.AddEntity: %w",
			domain.NewValidationError("id", fmt.Sprintf("invalid entity id %q", id)))
	}

	name := e.SelectGroup(group)
	e.groups[name][id] = struct{}{}
	size := len(e.groups[name])

	root, err := domain.EntityRoot(id)
	if err != nil {
		return size, fmt.Errorf("batch.AddEntity: %w", err)
	}
	rootKind := domain.RootKind(kind)

	if !force {
		ok, err := e.Enqueue(ctx, root, rootKind)
		if err != nil {
			return size, fmt.Errorf("batch.AddEntity: %w", err)
		}
		if !ok {
			e.log.DebugContext(ctx, "entity is fresh, not queued", slog.String("id", root))
			return size, nil
		}
	}

	i, _ := slot(rootKind)
	e.main[i][root] = struct{}{}

	if e.QueueSize(rootKind) >= e.cfg.BatchThreshold {
		if _, err := e.Flush(ctx, rootKind); err != nil {
			return size, fmt.Errorf("batch.AddEntity: %w", err)
		}
	}
	return size, nil
}

// AddIDs normalizes numeric ids of one kind and adds each of them.
// Form and sense ids are coerced to their lexeme.
func (e *Engine) AddIDs(ctx context.Context, ids []int, kind domain.EntityKind, group string) (int, error) {
	if !kind.IsConcrete() {
		return 0, fmt.Errorf("batch.AddIDs: %w",
			domain.NewValidationError("kind", fmt.Sprintf("cannot add ids of kind %s", kind)))
	}

	e.warnCoerced(ctx, "add", kind, len(ids))
	name := e.SelectGroup(group)
	for _, n := range ids {
		id, err := domain.Normalize(n, kind)
		if err != nil {
			return e.GroupSize(name), fmt.Errorf("batch.AddIDs: %w", err)
		}
		if _, err := e.AddEntity(ctx, id, false, name); err != nil {
			return e.GroupSize(name), err
		}
	}
	return e.GroupSize(name), nil
}
