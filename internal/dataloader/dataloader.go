// Package dataloader coalesces concurrent single-entity lookups into batched
// Wikibase fetches. Callers ask for one id at a time; ids requested within the
// wait window go out together, one request per entity kind.
package dataloader

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

const (
	defaultMaxBatch = 50
	defaultWait     = 2 * time.Millisecond
)

// Fetcher loads a batch of ids of one kind and returns the merged document.
type Fetcher interface {
	FetchJSON(ctx context.Context, ids []string, kind domain.EntityKind) (map[string]any, error)
}

// Options tunes batching. Zero values fall back to the defaults.
type Options struct {
	Wait     time.Duration
	MaxBatch int
}

// Entity is one decoded Wikibase entity object.
type Entity = map[string]any

// EntityLoader resolves verbatim ids to entity objects. Results are cached for
// the loader's lifetime, so create one per logical operation.
type EntityLoader struct {
	loader *dataloader.Loader[string, Entity]
}

func NewEntityLoader(fetcher Fetcher, opts Options) *EntityLoader {
	if opts.Wait <= 0 {
		opts.Wait = defaultWait
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaultMaxBatch
	}
	return &EntityLoader{
		loader: dataloader.NewBatchedLoader(
			newEntityBatchFn(fetcher),
			dataloader.WithWait[string, Entity](opts.Wait),
			dataloader.WithBatchCapacity[string, Entity](opts.MaxBatch),
		),
	}
}

// Load returns the entity for id. Forms and senses resolve to their object
// inside the parent lexeme. Unknown ids yield domain.ErrNotFound.
func (l *EntityLoader) Load(ctx context.Context, id string) (Entity, error) {
	return l.loader.Load(ctx, id)()
}

// LoadMany returns entities in the order of ids; errs is nil when every id
// resolved.
func (l *EntityLoader) LoadMany(ctx context.Context, ids []string) ([]Entity, []error) {
	return l.loader.LoadMany(ctx, ids)()
}

// Forget drops id from the cache so the next Load fetches it again.
func (l *EntityLoader) Forget(ctx context.Context, id string) {
	l.loader.Clear(ctx, id)
}
