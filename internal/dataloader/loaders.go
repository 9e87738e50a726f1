package dataloader

import (
	"context"
	"fmt"
	"slices"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

type pendingKey struct {
	pos  int
	id   string
	kind domain.EntityKind
	root string
}

func newEntityBatchFn(fetcher Fetcher) dataloader.BatchFunc[string, Entity] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[Entity] {
		results := make([]*dataloader.Result[Entity], len(keys))

		byKind := make(map[domain.EntityKind][]pendingKey)
		for i, id := range keys {
			kind := domain.Identify(id)
			if !kind.IsConcrete() {
				results[i] = &dataloader.Result[Entity]{
					Error: domain.NewValidationError("id", fmt.Sprintf("not an entity id: %q", id)),
				}
				continue
			}
			root, err := domain.EntityRoot(id)
			if err != nil {
				results[i] = &dataloader.Result[Entity]{Error: err}
				continue
			}
			rk := domain.RootKind(kind)
			byKind[rk] = append(byKind[rk], pendingKey{pos: i, id: id, kind: kind, root: root})
		}

		for _, kind := range domain.BatchedKinds {
			pending := byKind[kind]
			if len(pending) == 0 {
				continue
			}

			roots := make([]string, 0, len(pending))
			for _, p := range pending {
				roots = append(roots, p.root)
			}
			slices.Sort(roots)
			roots = slices.Compact(roots)

			doc, err := fetcher.FetchJSON(ctx, roots, kind)
			if err != nil {
				for _, p := range pending {
					results[p.pos] = &dataloader.Result[Entity]{Error: err}
				}
				continue
			}

			entities, _ := doc["entities"].(map[string]any)
			for _, p := range pending {
				ent, err := resolve(entities, p)
				results[p.pos] = &dataloader.Result[Entity]{Data: ent, Error: err}
			}
		}

		return results
	}
}

// resolve picks the object for p out of the fetched entities map. wbgetentities
// reports unknown ids as {"id": ..., "missing": ""}.
func resolve(entities map[string]any, p pendingKey) (Entity, error) {
	notFound := fmt.Errorf("entity %s: %w", p.id, domain.ErrNotFound)

	root, ok := entities[p.root].(map[string]any)
	if !ok {
		return nil, notFound
	}
	if _, missing := root["missing"]; missing {
		return nil, notFound
	}

	var field string
	switch p.kind {
	case domain.KindForm:
		field = "forms"
	case domain.KindSense:
		field = "senses"
	default:
		return root, nil
	}

	children, _ := root[field].([]any)
	for _, c := range children {
		child, ok := c.(map[string]any)
		if ok && child["id"] == p.id {
			return child, nil
		}
	}
	return nil, notFound
}
