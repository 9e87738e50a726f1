package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

// Enqueue decides whether id should be fetched now. Unknown or never fetched
// entities and entities older than StaleAfter are eligible. Fresh ones are
// refetched only in interactive mode and only if the Confirmer agrees.
//
// Oracle failures are logged and treated as "eligible".
func (e *Engine) Enqueue(ctx context.Context, id string, kind domain.EntityKind) (bool, error) {
	if !kind.IsConcrete() {
		return false, fmt.Errorf("batch.Enqueue: %w",
			domain.NewValidationError("kind", fmt.Sprintf("cannot enqueue kind %s", kind)))
	}

	exists, err := e.oracle.Exists(ctx, id)
	if err != nil {
		e.log.WarnContext(ctx, "freshness oracle failed, fetching anyway",
			slog.String("id", id), slog.String("error", err.Error()))
		return true, nil
	}
	if !exists {
		return true, nil
	}

	at, ok, err := e.oracle.LastFetchedAt(ctx, id)
	if err != nil {
		e.log.WarnContext(ctx, "freshness oracle failed, fetching anyway",
			slog.String("id", id), slog.String("error", err.Error()))
		return true, nil
	}
	if !ok {
		return true, nil
	}

	age := e.now().Sub(at)
	if age > e.cfg.StaleAfter {
		return true, nil
	}
	if e.cfg.Interactive {
		return e.confirmer.ConfirmUpdate(ctx, id, kind, age), nil
	}
	return false, nil
}
