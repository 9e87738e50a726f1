// Package batch decides which Wikibase entities to fetch and when. It keeps
// per-kind pending queues, named groups of requested ids and a touch counter
// that promotes frequently referenced ids into the queues.
//
// An Engine is not safe for concurrent use; drive it from one goroutine.
package batch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

const (
	DefaultBatchThreshold      = 50
	DefaultCandidatesThreshold = 50
	DefaultStaleAfter          = 24 * time.Hour
)

// Fetcher loads a batch of ids of one kind and returns the merged document.
type Fetcher interface {
	FetchJSON(ctx context.Context, ids []string, kind domain.EntityKind) (map[string]any, error)
}

// FreshnessOracle reports what is already known locally about an entity.
type FreshnessOracle interface {
	Exists(ctx context.Context, id string) (bool, error)
	LastFetchedAt(ctx context.Context, id string) (time.Time, bool, error)
}

// Confirmer asks whether a fresh entity should be fetched again anyway.
type Confirmer interface {
	ConfirmUpdate(ctx context.Context, id string, kind domain.EntityKind, age time.Duration) bool
}

// Recorder persists fetch timestamps after a successful flush.
type Recorder interface {
	RecordFetched(ctx context.Context, ids []string, kind domain.EntityKind, at time.Time) error
}

// Rand is the random source for anonymous group names.
type Rand interface {
	IntN(n int) int
}

// ResultHandler receives the merged document of every successful flush.
type ResultHandler func(ctx context.Context, kind domain.EntityKind, doc map[string]any)

// Config holds the engine thresholds. Zero values fall back to the defaults.
type Config struct {
	BatchThreshold      int
	CandidatesThreshold int
	StaleAfter          time.Duration
	Interactive         bool
}

func (c *Config) defaults() {
	if c.BatchThreshold <= 0 {
		c.BatchThreshold = DefaultBatchThreshold
	}
	if c.CandidatesThreshold <= 0 {
		c.CandidatesThreshold = DefaultCandidatesThreshold
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithOracle sets the freshness oracle. The default is AlwaysStale.
func WithOracle(o FreshnessOracle) Option { return func(e *Engine) { e.oracle = o } }

// WithConfirmer sets the interactive confirmation hook. The default declines.
func WithConfirmer(c Confirmer) Option { return func(e *Engine) { e.confirmer = c } }

// WithRecorder makes successful flushes record their fetch time.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithResultHandler registers a callback for flushed documents.
func WithResultHandler(h ResultHandler) Option { return func(e *Engine) { e.onResult = h } }

// WithRand injects the random source.
func WithRand(r Rand) Option { return func(e *Engine) { e.rnd = r } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

type idSet map[string]struct{}

// queues holds one set per batchable kind. Index with slot, never with a raw kind.
type queues [len(domain.BatchedKinds)]idSet

func slot(kind domain.EntityKind) (int, bool) {
	if !kind.IsBatchable() {
		return 0, false
	}
	return int(kind), true
}

// Engine owns the queues, groups and touch candidates.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	oracle    FreshnessOracle
	confirmer Confirmer
	recorder  Recorder
	onResult  ResultHandler
	rnd       Rand
	now       func() time.Time
	log       *slog.Logger

	main       queues
	extra      queues
	groups     map[string]idSet
	current    string
	candidates map[string]int
	cursor     int
}

// NewEngine creates an Engine.
func NewEngine(log *slog.Logger, fetcher Fetcher, cfg Config, opts ...Option) *Engine {
	cfg.defaults()
	e := &Engine{
		cfg:        cfg,
		fetcher:    fetcher,
		oracle:     AlwaysStale{},
		confirmer:  declineConfirmer{},
		rnd:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5851f42d4c957f2d)),
		now:        time.Now,
		log:        log.With("service", "batch"),
		groups:     make(map[string]idSet),
		candidates: make(map[string]int),
	}
	for i := range e.main {
		e.main[i] = make(idSet)
		e.extra[i] = make(idSet)
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// AlwaysStale is the no-op oracle: nothing is known locally, so everything
// is eligible for fetching.
type AlwaysStale struct{}

func (AlwaysStale) Exists(context.Context, string) (bool, error) { return false, nil }

func (AlwaysStale) LastFetchedAt(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type declineConfirmer struct{}

func (declineConfirmer) ConfirmUpdate(context.Context, string, domain.EntityKind, time.Duration) bool {
	return false
}
