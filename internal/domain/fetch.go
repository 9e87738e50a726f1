package domain

import "time"

// FetchRecord is the persisted trace of the last successful fetch of an entity.
type FetchRecord struct {
	EntityID   string
	Kind       EntityKind
	FetchedAt  time.Time
	FetchCount int
}

// Age returns how long ago the entity was fetched relative to now.
func (r FetchRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.FetchedAt)
}

// FetchStats holds aggregate counts over the fetch log.
type FetchStats struct {
	Entities int
	Fetches  int
	ByKind   map[EntityKind]int
}
