package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

// TouchEntity registers interest in id. Once an id has been touched
// CandidatesThreshold times its root moves into the extra queue.
//
// It returns true for every counted touch, including the promoting one, and
// false for invalid ids or ids whose root is already queued; those are not
// counted.
func (e *Engine) TouchEntity(id string) bool {
	kind := domain.Identify(id)
	if kind == domain.KindUnknown {
		return false
	}
	root, err := domain.EntityRoot(id)
	if err != nil {
		return false
	}
	rootKind := domain.RootKind(kind)
	if e.queued(rootKind, root) {
		return false
	}

	e.candidates[id]++
	if e.candidates[id] >= e.cfg.CandidatesThreshold {
		delete(e.candidates, id)
		i, _ := slot(rootKind)
		e.extra[i][root] = struct{}{}
		e.log.Debug("touch promoted entity",
			slog.String("id", id),
			slog.String("root", root),
			slog.String("kind", rootKind.String()),
		)
	}
	return true
}

// TouchIDs normalizes and touches numeric ids of one kind. It returns the
// number of counted touches.
func (e *Engine) TouchIDs(ids []int, kind domain.EntityKind) (int, error) {
	if !kind.IsConcrete() {
		return 0, fmt.Errorf("batch.TouchIDs: %w",
			domain.NewValidationError("kind", fmt.Sprintf("cannot touch ids of kind %s", kind)))
	}
	e.warnCoerced(context.Background(), "touch", kind, len(ids))
	counted := 0
	for _, n := range ids {
		id, err := domain.Normalize(n, kind)
		if err != nil {
			return counted, fmt.Errorf("batch.TouchIDs: %w", err)
		}
		if e.TouchEntity(id) {
			counted++
		}
	}
	return counted, nil
}

// warnCoerced reports numeric form or sense ids, which can only be
// resolved to their lexeme.
func (e *Engine) warnCoerced(ctx context.Context, op string, kind domain.EntityKind, n int) {
	if n == 0 || domain.RootKind(kind) == kind {
		return
	}
	e.log.WarnContext(ctx, "numeric form/sense ids coerced to lexeme",
		slog.String("op", op),
		slog.String("kind", kind.String()),
		slog.Int("ids", n),
	)
}

// Candidates returns the pending touch count for a verbatim id.
func (e *Engine) Candidates(id string) int { return e.candidates[id] }
